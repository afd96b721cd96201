package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExecutionMode controls how a phase's subtasks are dispatched.
type ExecutionMode string

const (
	// ModeParallel issues one subtask per agent concurrently.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential runs subtasks in order, each seeing an excerpt of
	// the previous output.
	ModeSequential ExecutionMode = "sequential"
)

// Phase is one ordered step of a workflow template.
type Phase struct {
	Name     string
	Roles    []Role
	Mode     ExecutionMode
	Subtasks []string
}

// Template is a predefined ordered plan of phases. Templates are
// immutable after registry construction.
type Template struct {
	Name     string
	Keywords []string
	Phases   []Phase
}

// BuiltinTemplates returns the default template set. Declaration order
// matters: requirement matching breaks ties toward earlier templates.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Name: "full-stack-feature",
			Keywords: []string{
				"full-stack", "fullstack", "app", "application", "dashboard",
				"authentication", "login", "database", "crud", "frontend", "backend",
			},
			Phases: []Phase{
				{
					Name:  "planning",
					Roles: []Role{RoleBackend},
					Mode:  ModeSequential,
					Subtasks: []string{
						"Outline the data model, API surface, and page structure for the requirement. List the files you will create.",
					},
				},
				{
					Name:  "development",
					Roles: []Role{RoleFrontend, RoleBackend},
					Mode:  ModeParallel,
					Subtasks: []string{
						"Implement the client side: pages, components, and API calls.",
						"Implement the server side: endpoints, data access, and validation.",
					},
				},
				{
					Name:  "integration",
					Roles: []Role{RoleBackend},
					Mode:  ModeSequential,
					Subtasks: []string{
						"Wire the client to the real API, fix mismatches, and verify the feature end to end.",
					},
				},
			},
		},
		{
			Name: "frontend-ui",
			Keywords: []string{
				"ui", "component", "page", "layout", "design", "css",
				"styling", "responsive", "theme",
			},
			Phases: []Phase{
				{
					Name:  "development",
					Roles: []Role{RoleFrontend, RoleStyling},
					Mode:  ModeParallel,
					Subtasks: []string{
						"Build the components and page structure.",
						"Apply layout, theming, and responsive styling.",
					},
				},
			},
		},
		{
			Name: "backend-api",
			Keywords: []string{
				"api", "endpoint", "server", "service", "auth", "schema",
				"migration", "queue", "worker",
			},
			Phases: []Phase{
				{
					Name:  "development",
					Roles: []Role{RoleBackend},
					Mode:  ModeSequential,
					Subtasks: []string{
						"Design the endpoints and data model.",
						"Implement the endpoints with validation and error handling.",
					},
				},
			},
		},
		{
			Name: "test-hardening",
			Keywords: []string{
				"test", "tests", "coverage", "regression", "fix", "bug", "flaky",
			},
			Phases: []Phase{
				{
					Name:  "hardening",
					Roles: []Role{RoleTesting},
					Mode:  ModeSequential,
					Subtasks: []string{
						"Identify untested or broken behavior relevant to the requirement.",
						"Write tests covering it and fix what they expose.",
					},
				},
			},
		},
		{
			Name: "documentation",
			Keywords: []string{
				"docs", "documentation", "readme", "guide", "tutorial", "changelog",
			},
			Phases: []Phase{
				{
					Name:  "writing",
					Roles: []Role{RoleDocs},
					Mode:  ModeSequential,
					Subtasks: []string{
						"Write the requested documentation against the current state of the project.",
					},
				},
			},
		},
	}
}

// templateFile is the YAML shape for user-supplied templates.
type templateFile struct {
	Templates []struct {
		Name     string   `yaml:"name"`
		Keywords []string `yaml:"keywords"`
		Phases   []struct {
			Name     string   `yaml:"name"`
			Roles    []string `yaml:"roles"`
			Mode     string   `yaml:"mode"`
			Subtasks []string `yaml:"subtasks"`
		} `yaml:"phases"`
	} `yaml:"templates"`
}

// LoadTemplateFile parses additional templates from a YAML file. Role
// and mode names are validated against the closed sets.
func LoadTemplateFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template file %s: %w", path, err)
	}

	out := make([]Template, 0, len(f.Templates))
	for _, t := range f.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template file %s: template with empty name", path)
		}
		tmpl := Template{Name: t.Name, Keywords: t.Keywords}
		for _, p := range t.Phases {
			phase := Phase{Name: p.Name, Subtasks: p.Subtasks}
			switch ExecutionMode(p.Mode) {
			case ModeParallel, ModeSequential:
				phase.Mode = ExecutionMode(p.Mode)
			default:
				return nil, fmt.Errorf("template %q phase %q: unknown mode %q", t.Name, p.Name, p.Mode)
			}
			for _, rs := range p.Roles {
				role, err := ParseRole(rs)
				if err != nil {
					return nil, fmt.Errorf("template %q phase %q: %w", t.Name, p.Name, err)
				}
				phase.Roles = append(phase.Roles, role)
			}
			if len(phase.Roles) == 0 {
				return nil, fmt.Errorf("template %q phase %q: no roles", t.Name, p.Name)
			}
			if len(phase.Subtasks) == 0 {
				return nil, fmt.Errorf("template %q phase %q: no subtasks", t.Name, p.Name)
			}
			tmpl.Phases = append(tmpl.Phases, phase)
		}
		if len(tmpl.Phases) == 0 {
			return nil, fmt.Errorf("template %q: no phases", t.Name)
		}
		out = append(out, tmpl)
	}
	return out, nil
}

// Registry holds the immutable template set in declaration order.
type Registry struct {
	templates []Template
}

// NewRegistry builds a registry from builtins plus any extras, extras
// last so builtins win matching ties.
func NewRegistry(extra ...Template) *Registry {
	return &Registry{templates: append(BuiltinTemplates(), extra...)}
}

// Templates returns the registered templates in order.
func (r *Registry) Templates() []Template { return r.templates }

// Find returns the template with the given name.
func (r *Registry) Find(name string) (Template, bool) {
	for _, t := range r.templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}
