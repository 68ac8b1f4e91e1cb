// Package yamlconfig loads Task definitions and other operator-authored
// configuration from YAML files, with ${VAR} environment substitution
// and __import__/__include__ directives that splice another YAML file's
// parsed content in place of a scalar value. Both directives behave
// identically: the distinct names exist so operators can document intent
// (importing a shared fragment vs. including a sibling file) the way
// original_source's config files do.
package yamlconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

var (
	envVarPattern    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	importDirective  = regexp.MustCompile(`^__import__\((.+)\)$`)
	includeDirective = regexp.MustCompile(`^__include__\((.+)\)$`)
)

// Config is a loaded, directive-resolved YAML document. It is not safe
// for concurrent Reload/Get calls; callers needing that guard it
// themselves (the Catalog Reconciler serializes access to its own set of
// Configs).
type Config struct {
	path string
	data map[string]any
}

// Load reads path, substitutes ${VAR} references against the process
// environment, and resolves any __import__/__include__ directives found
// in scalar values, recursively.
func Load(path string) (*Config, error) {
	data, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return &Config{path: path, data: data}, nil
}

// Reload re-reads the file this Config was loaded from, replacing its
// in-memory data. Useful for picking up edits to a long-lived catalog
// file without restarting the process.
func (c *Config) Reload() error {
	data, err := loadFile(c.path)
	if err != nil {
		return err
	}
	c.data = data
	return nil
}

// Get returns the top-level value for key, or ok=false if absent.
func (c *Config) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// GetOr returns the top-level value for key, or fallback if absent.
func (c *Config) GetOr(key string, fallback any) any {
	if v, ok := c.data[key]; ok {
		return v
	}
	return fallback
}

// Has reports whether key is present at the top level.
func (c *Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Data returns the full parsed document. Callers needing nested access
// (config["parent"]["child"] in the original Python) type-assert into
// this map themselves, same as any other decoded YAML document in Go.
func (c *Config) Data() map[string]any {
	return c.data
}

func loadFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-authored catalog configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFoundf("yaml config file not found: %s", path)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "read yaml config")
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(raw), func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	var data map[string]any
	if err := yaml.Unmarshal([]byte(substituted), &data); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse yaml config")
	}

	dir := filepath.Dir(path)
	resolved, err := resolveDirectives(data, dir)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// resolveDirectives walks v looking for __import__(path)/__include__(path)
// string scalars and splices in the parsed content of the referenced
// file, resolved relative to dir.
func resolveDirectives(v any, dir string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolvedChild, err := resolveDirectives(child, dir)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolvedChild, err := resolveDirectives(child, dir)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	case string:
		if target, ok := directiveTarget(val); ok {
			refPath := target
			if !filepath.IsAbs(refPath) {
				refPath = filepath.Join(dir, refPath)
			}
			return loadFile(refPath)
		}
		return val, nil
	default:
		return val, nil
	}
}

func directiveTarget(s string) (string, bool) {
	if m := importDirective.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if m := includeDirective.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// DecodeTasks is a convenience used by the Catalog Reconciler: it
// unmarshals the "tasks" top-level key (a list of task definitions) of a
// catalog file into dst via a second yaml.Marshal/Unmarshal round trip,
// reusing the already-directive-resolved in-memory data rather than
// re-reading the file.
func (c *Config) DecodeTasks(dst any) error {
	tasksRaw, ok := c.Get("tasks")
	if !ok {
		return nil
	}
	b, err := yaml.Marshal(tasksRaw)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "re-marshal tasks section")
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, fmt.Sprintf("decode tasks from %s", c.path))
	}
	return nil
}
