// Package templates loads YAML-defined outbound message templates.
//
// A template is a message body with {name}, {date} and {time} placeholders
// that are filled per recipient when the message is dispatched. The
// dashboard lists templates and bulk sends reference them by name.
//
// Template directories searched (in order):
//  1. Embedded templates compiled into the binary
//  2. ./templates/messages/ (relative to working directory)
//  3. <data_dir>/templates/
//
// A later file with the same name replaces an earlier one.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Template schema
// ─────────────────────────────────────────────────────────────────────────────

// MessageTemplate is the YAML schema for a reusable message.
type MessageTemplate struct {
	Name        string `yaml:"name" json:"name"`                 // machine identifier (slug)
	DisplayName string `yaml:"display_name" json:"display_name"` // human-readable
	Description string `yaml:"description" json:"description"`
	Body        string `yaml:"body" json:"body"`

	// BusinessHours prepends the business-hours notice when rendering.
	BusinessHours bool `yaml:"business_hours" json:"business_hours"`

	// Source metadata (set by loader, not in YAML)
	SourceFile string `yaml:"-" json:"source_file,omitempty"`
	Builtin    bool   `yaml:"-" json:"builtin"`
}

// BusinessNotice is prepended to messages sent with the business-hours
// option.
const BusinessNotice = "Bom dia tudo bem? Será programado no primeiro horário comercial até 18h30."

const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04"
)

// Vars are the per-recipient placeholder values.
type Vars struct {
	Name string
	At   time.Time
}

// Render fills {name}, {date} and {time} in body.
func Render(body string, v Vars) string {
	return strings.NewReplacer(
		"{name}", v.Name,
		"{date}", v.At.Format(DateLayout),
		"{time}", v.At.Format(TimeLayout),
	).Replace(body)
}

// WithBusinessNotice prepends BusinessNotice and a blank line.
func WithBusinessNotice(text string) string {
	return BusinessNotice + "\n\n" + text
}

// Render fills the template body for one recipient.
func (t *MessageTemplate) Render(v Vars) string {
	out := Render(t.Body, v)
	if t.BusinessHours {
		out = WithBusinessNotice(out)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// Registry is a thread-safe store of loaded message templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*MessageTemplate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*MessageTemplate),
	}
}

// Load reads all *.yaml files from dir and registers them.
// Errors in individual files are returned but don't abort loading.
func (r *Registry) Load(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("cannot read template dir %s: %w", dir, err)}
	}

	loaded := 0
	var errs []error

	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		tmpl, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", e.Name(), err))
			continue
		}
		r.Register(tmpl)
		loaded++
	}

	return loaded, errs
}

// LoadFile parses a single YAML template file.
func LoadFile(path string) (*MessageTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tmpl, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tmpl.SourceFile = path
	return tmpl, nil
}

// Parse decodes and validates one template document.
func Parse(data []byte) (*MessageTemplate, error) {
	var tmpl MessageTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if tmpl.Name == "" {
		return nil, fmt.Errorf("template has no 'name' field")
	}
	if strings.TrimSpace(tmpl.Body) == "" {
		return nil, fmt.Errorf("template '%s' has no 'body' field", tmpl.Name)
	}
	if tmpl.DisplayName == "" {
		tmpl.DisplayName = tmpl.Name
	}
	return &tmpl, nil
}

// Register adds or replaces a template in the registry.
func (r *Registry) Register(tmpl *MessageTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.Name] = tmpl
}

// Get retrieves a template by name.
func (r *Registry) Get(name string) (*MessageTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// List returns all registered templates, sorted by name.
func (r *Registry) List() []*MessageTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MessageTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// ─────────────────────────────────────────────────────────────────────────────
// Built-in and standard directories
// ─────────────────────────────────────────────────────────────────────────────

//go:embed builtin/*.yaml
var builtinFS embed.FS

// LoadBuiltin registers the templates compiled into the binary.
func (r *Registry) LoadBuiltin() (int, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", e.Name()))
		if err != nil {
			return n, err
		}
		tmpl, err := Parse(data)
		if err != nil {
			return n, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		tmpl.Builtin = true
		r.Register(tmpl)
		n++
	}
	return n, nil
}

// LoadDefaults loads the built-in templates, then every directory in dirs
// that exists, and returns a summary.
func (r *Registry) LoadDefaults(dirs []string) (int, []string) {
	var warnings []string
	total, err := r.LoadBuiltin()
	if err != nil {
		warnings = append(warnings, err.Error())
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		n, errs := r.Load(dir)
		total += n
		for _, e := range errs {
			warnings = append(warnings, e.Error())
		}
	}

	return total, warnings
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
