package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrOutsideProject is returned when a relative path escapes the project
// directory.
var ErrOutsideProject = errors.New("path escapes project directory")

// Files performs all disk operations for project workspaces. Each project
// lives under root in a directory named project_<id>.
type Files struct {
	root string
}

// FileInfo describes one file inside a project workspace.
type FileInfo struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// TreeNode is one entry in the hierarchical project file tree.
type TreeNode struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Path     string     `json:"path"`
	Children []TreeNode `json:"children,omitempty"`
}

// ProjectPaths names the directories created for a fresh project.
type ProjectPaths struct {
	ProjectPath  string `json:"project_path"`
	BackendPath  string `json:"backend_path"`
	FrontendPath string `json:"frontend_path"`
}

func NewFiles(root string) (*Files, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("workspace root required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Files{root: abs}, nil
}

func (f *Files) Root() string { return f.root }

func (f *Files) projectDir(projectID string) string {
	return filepath.Join(f.root, "project_"+projectID)
}

// CreateProjectStructure lays down the backend and frontend skeleton for a
// new project.
func (f *Files) CreateProjectStructure(projectID string) (ProjectPaths, error) {
	project := f.projectDir(projectID)
	backend := filepath.Join(project, "backend")
	frontend := filepath.Join(project, "frontend")
	dirs := []string{
		filepath.Join(backend, "app", "models"),
		filepath.Join(backend, "app", "routers"),
		filepath.Join(backend, "app", "services"),
		filepath.Join(backend, "app", "schemas"),
		filepath.Join(backend, "tests"),
		filepath.Join(frontend, "templates"),
		filepath.Join(frontend, "static", "css"),
		filepath.Join(frontend, "static", "js"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ProjectPaths{}, fmt.Errorf("create project structure: %w", err)
		}
	}
	return ProjectPaths{ProjectPath: project, BackendPath: backend, FrontendPath: frontend}, nil
}

// resolve joins a relative path under the project directory and rejects
// anything that climbs out of it.
func (f *Files) resolve(projectID, relative string) (string, error) {
	project := f.projectDir(projectID)
	full := filepath.Join(project, filepath.FromSlash(relative))
	if full != project && !strings.HasPrefix(full, project+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideProject, relative)
	}
	return full, nil
}

// WriteFile writes content to a file inside the project, creating parent
// directories as needed. Returns the absolute path written.
func (f *Files) WriteFile(projectID, relative, content string) (string, error) {
	full, err := f.resolve(projectID, relative)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", relative, err)
	}
	return full, nil
}

// ReadFile returns the content of a project file. Missing files surface
// os.ErrNotExist for callers to map to their own not-found handling.
func (f *Files) ReadFile(projectID, relative string) (string, error) {
	full, err := f.resolve(projectID, relative)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListFiles walks the project (or a subdirectory of it) and returns every
// regular file with forward-slash relative paths.
func (f *Files) ListFiles(projectID, directory string) ([]FileInfo, error) {
	project := f.projectDir(projectID)
	target := project
	if directory != "" {
		resolved, err := f.resolve(projectID, directory)
		if err != nil {
			return nil, err
		}
		target = resolved
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []FileInfo
	err := filepath.WalkDir(target, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(project, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:     filepath.ToSlash(rel),
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// FileTree builds the hierarchical directory tree for a project. Dotfiles are
// skipped. A missing project yields a nil tree.
func (f *Files) FileTree(projectID string) (*TreeNode, error) {
	project := f.projectDir(projectID)
	if _, err := os.Stat(project); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return f.buildTree(project, project)
}

func (f *Files) buildTree(project, path string) (*TreeNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(project, path)
	if err != nil {
		return nil, err
	}
	node := &TreeNode{
		Name: filepath.Base(path),
		Type: "file",
		Path: filepath.ToSlash(rel),
	}
	if !info.IsDir() {
		return node, nil
	}
	node.Type = "directory"
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		child, err := f.buildTree(project, filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, *child)
	}
	return node, nil
}

// DeleteProject removes the entire project directory. Reports whether a
// directory existed to delete.
func (f *Files) DeleteProject(projectID string) (bool, error) {
	project := f.projectDir(projectID)
	if _, err := os.Stat(project); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(project); err != nil {
		return false, fmt.Errorf("delete project dir: %w", err)
	}
	return true, nil
}

// ProjectIDs scans the workspace root for project directories.
func (f *Files) ProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("scan workspace root: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "project_") {
			ids = append(ids, strings.TrimPrefix(entry.Name(), "project_"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
