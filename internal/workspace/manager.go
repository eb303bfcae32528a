package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/prd"
)

// ErrProjectNotFound is returned when a project id has no workspace.
var ErrProjectNotFound = errors.New("project not found")

const metadataFile = "metadata.json"

// Metadata is a project's lifecycle record, persisted as metadata.json in the
// project directory.
type Metadata struct {
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Status      string    `json:"status"`

	PRD *prd.Document `json:"prd"`

	BackendGenerated  bool   `json:"backend_generated"`
	FrontendGenerated bool   `json:"frontend_generated"`
	QACompleted       bool   `json:"qa_completed"`
	QAReport          string `json:"qa_report,omitempty"`
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	copied := *m
	return &copied
}

// Manager owns project lifecycle state: an in-process cache over the on-disk
// metadata records. A single process writes a given project at a time;
// concurrent writers are last-write-wins.
type Manager struct {
	files *Files

	mu    sync.RWMutex
	cache map[string]*Metadata
}

func NewManager(files *Files) *Manager {
	return &Manager{files: files, cache: make(map[string]*Metadata)}
}

func (m *Manager) Files() *Files { return m.files }

// Create provisions a new project workspace with an 8-character id and
// initial lifecycle state.
func (m *Manager) Create(name, description string) (*Metadata, ProjectPaths, error) {
	projectID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	paths, err := m.files.CreateProjectStructure(projectID)
	if err != nil {
		return nil, ProjectPaths{}, err
	}
	meta := &Metadata{
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Status:      "initializing",
	}
	if err := m.persist(meta); err != nil {
		return nil, ProjectPaths{}, err
	}
	m.mu.Lock()
	m.cache[projectID] = meta
	m.mu.Unlock()
	common.Logger().Info("workspace: project created", "project", projectID, "name", name)
	return meta.clone(), paths, nil
}

// Get returns project metadata, loading from disk on a cache miss.
func (m *Manager) Get(projectID string) (*Metadata, error) {
	m.mu.RLock()
	cached, ok := m.cache[projectID]
	m.mu.RUnlock()
	if ok {
		return cached.clone(), nil
	}
	raw, err := m.files.ReadFile(projectID, metadataFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal([]byte(raw), meta); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", projectID, err)
	}
	m.mu.Lock()
	m.cache[projectID] = meta
	m.mu.Unlock()
	return meta.clone(), nil
}

func (m *Manager) persist(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := m.files.WriteFile(meta.ProjectID, metadataFile, string(data)); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	return nil
}

// update applies a mutation to the project record, stamps UpdatedAt, and
// persists. Persistence failures surface to the caller.
func (m *Manager) update(projectID string, apply func(*Metadata)) (*Metadata, error) {
	if _, err := m.Get(projectID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	meta := m.cache[projectID]
	apply(meta)
	meta.UpdatedAt = time.Now().UTC()
	updated := meta.clone()
	m.mu.Unlock()
	if err := m.persist(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatus sets the project status.
func (m *Manager) UpdateStatus(projectID, status string) (*Metadata, error) {
	return m.update(projectID, func(meta *Metadata) {
		meta.Status = status
	})
}

// SavePRD stores the approved requirements document and renders a
// human-readable PRD.md alongside it. The render is best effort; a render
// failure does not lose the structured payload.
func (m *Manager) SavePRD(projectID string, doc *prd.Document) error {
	if _, err := m.update(projectID, func(meta *Metadata) {
		meta.Status = "prd_approved"
		meta.PRD = doc
	}); err != nil {
		return err
	}
	if _, err := m.files.WriteFile(projectID, "PRD.md", prd.Render(doc)); err != nil {
		common.Logger().Warn("workspace: prd render write failed", "project", projectID, "error", err)
	}
	return nil
}

// MarkBackendComplete flips the backend flag. Flags only move forward.
func (m *Manager) MarkBackendComplete(projectID string) error {
	_, err := m.update(projectID, func(meta *Metadata) {
		meta.Status = "backend_complete"
		meta.BackendGenerated = true
	})
	return err
}

// MarkFrontendComplete flips the frontend flag.
func (m *Manager) MarkFrontendComplete(projectID string) error {
	_, err := m.update(projectID, func(meta *Metadata) {
		meta.Status = "frontend_complete"
		meta.FrontendGenerated = true
	})
	return err
}

// MarkQAComplete flips the QA flag and records the report summary.
func (m *Manager) MarkQAComplete(projectID, report string) error {
	_, err := m.update(projectID, func(meta *Metadata) {
		meta.Status = "qa_complete"
		meta.QACompleted = true
		meta.QAReport = report
	})
	return err
}

// List returns metadata for every project directory under the workspace
// root. Directories with unreadable metadata are skipped.
func (m *Manager) List() ([]*Metadata, error) {
	ids, err := m.files.ProjectIDs()
	if err != nil {
		return nil, err
	}
	projects := make([]*Metadata, 0, len(ids))
	for _, id := range ids {
		meta, err := m.Get(id)
		if err != nil {
			common.Logger().Warn("workspace: skipping unreadable project", "project", id, "error", err)
			continue
		}
		projects = append(projects, meta)
	}
	return projects, nil
}

// Delete removes the project workspace and evicts it from the cache.
func (m *Manager) Delete(projectID string) error {
	existed, err := m.files.DeleteProject(projectID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	_, cached := m.cache[projectID]
	delete(m.cache, projectID)
	m.mu.Unlock()
	if !existed && !cached {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	common.Logger().Info("workspace: project deleted", "project", projectID)
	return nil
}
