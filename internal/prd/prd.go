// Package prd defines the structured Product Requirements Document produced
// at the end of a requirements conversation and the parser that recovers it
// from model output.
package prd

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type Entity struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

type Module struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
}

type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

type Workflow struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps,omitempty"`
}

type Document struct {
	ProjectName string     `json:"project_name"`
	Overview    string     `json:"overview"`
	Modules     []Module   `json:"modules,omitempty"`
	Entities    []Entity   `json:"entities,omitempty"`
	Roles       []Role     `json:"roles,omitempty"`
	Workflows   []Workflow `json:"workflows,omitempty"`
}

// MalformedError reports model output that could not be decoded into a
// Document. The raw completion is preserved so callers can return it to the
// user for inspection.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed prd output: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Parse decodes a model completion into a Document. Markdown code fences are
// stripped and the outermost JSON object is extracted before decoding, since
// models routinely wrap their JSON in prose.
func Parse(raw string) (*Document, error) {
	cleaned := stripFences(raw)
	cleaned = extractObject(cleaned)
	if strings.TrimSpace(cleaned) == "" {
		return nil, &MalformedError{Raw: raw, Err: fmt.Errorf("no JSON object in completion")}
	}
	doc := &Document{}
	if err := json.Unmarshal([]byte(cleaned), doc); err != nil {
		return nil, &MalformedError{Raw: raw, Err: err}
	}
	if strings.TrimSpace(doc.ProjectName) == "" && strings.TrimSpace(doc.Overview) == "" && len(doc.Modules) == 0 {
		return nil, &MalformedError{Raw: raw, Err: fmt.Errorf("decoded document carries no content")}
	}
	return doc, nil
}

func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// extractObject returns the substring from the first '{' to its matching
// closing brace, honoring JSON string quoting.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// Render produces the human-readable markdown form of the document. It is
// denormalizing and lossy; the JSON payload remains the source of truth.
func Render(doc *Document) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Product Requirements Document\n\n")
	if doc.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n\n", doc.ProjectName)
	}
	fmt.Fprintf(&b, "## Project Overview\n\n%s\n", doc.Overview)
	if len(doc.Modules) > 0 {
		b.WriteString("\n## Modules\n")
		for _, module := range doc.Modules {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", module.Name, module.Description)
			for _, feature := range module.Features {
				fmt.Fprintf(&b, "- %s\n", feature)
			}
		}
	}
	if len(doc.Entities) > 0 {
		b.WriteString("\n## Database Entities\n")
		for _, entity := range doc.Entities {
			fmt.Fprintf(&b, "\n### %s\n", entity.Name)
			if entity.Description != "" {
				fmt.Fprintf(&b, "\n%s\n", entity.Description)
			}
			if len(entity.Fields) > 0 {
				b.WriteString("\nFields:\n")
				for _, field := range entity.Fields {
					required := "optional"
					if field.Required {
						required = "required"
					}
					fmt.Fprintf(&b, "- %s (%s, %s)\n", field.Name, field.Type, required)
				}
			}
		}
	}
	if len(doc.Roles) > 0 {
		b.WriteString("\n## User Roles\n\n")
		for _, role := range doc.Roles {
			if len(role.Permissions) > 0 {
				fmt.Fprintf(&b, "- %s: %s\n", role.Name, strings.Join(role.Permissions, ", "))
			} else {
				fmt.Fprintf(&b, "- %s\n", role.Name)
			}
		}
	}
	if len(doc.Workflows) > 0 {
		b.WriteString("\n## Workflows\n")
		for _, workflow := range doc.Workflows {
			fmt.Fprintf(&b, "\n### %s\n\n", workflow.Name)
			for i, step := range workflow.Steps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, step)
			}
		}
	}
	return b.String()
}
