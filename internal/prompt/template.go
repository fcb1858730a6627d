package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe   = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	openRe  = regexp.MustCompile(`\{\{#(if|unless)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	closeRe = regexp.MustCompile(`\{\{/(if|unless)\}\}`)
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; a variable with no entry in vars
// is an error. {{#if variable}}...{{/if}} keeps its body only when the
// variable is non-empty and {{#unless variable}}...{{/unless}} only when it
// is empty. Substituted values are not re-expanded.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processBlocks(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processBlocks resolves conditional blocks innermost first: for the first
// closing tag it pairs the last opening tag that precedes it.
func processBlocks(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeLoc := closeRe.FindStringSubmatchIndex(result)
		if closeLoc == nil {
			break
		}
		closeKind := result[closeLoc[2]:closeLoc[3]]

		opens := openRe.FindAllStringSubmatchIndex(result[:closeLoc[0]], -1)
		if opens == nil {
			return "", fmt.Errorf("dangling {{/%s}} without matching opener", closeKind)
		}
		open := opens[len(opens)-1]
		openKind := result[open[2]:open[3]]
		name := result[open[4]:open[5]]
		if openKind != closeKind {
			return "", fmt.Errorf("{{#%s %s}} closed by {{/%s}}", openKind, name, closeKind)
		}

		set := vars[name] != ""
		keep := (openKind == "if" && set) || (openKind == "unless" && !set)

		var body string
		if keep {
			body = result[open[1]:closeLoc[0]]
		}
		result = result[:open[0]] + body + result[closeLoc[1]:]
	}

	if loc := openRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}

// Loader resolves prompt templates by name: a file in Dir wins over the
// compiled-in template of the same name.
type Loader struct {
	Dir string
}

// DefaultDir returns ~/.qafactory/prompts, or "" if home is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qafactory", "prompts")
}

// NewLoader returns a Loader reading overrides from dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load returns the template text for name.
func (l *Loader) Load(name string) (string, error) {
	if strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", fmt.Errorf("template name %q escapes the prompt directory", name)
	}
	if l != nil && l.Dir != "" {
		data, err := os.ReadFile(filepath.Join(l.Dir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %q: %w", name, err)
		}
	}
	if t, ok := builtinTemplates[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}

// RenderNamed loads and renders a template in one step.
func (l *Loader) RenderNamed(name string, vars Vars) (string, error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return "", err
	}
	out, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// Install writes the compiled-in templates to dir so they can be edited.
// Existing files are left alone. It returns the names written.
func Install(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("no prompt directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompts dir: %w", err)
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
