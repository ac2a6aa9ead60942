package connections

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// Registry resolves server names to configurations. Explicit instances from
// configuration win; when none are given the server directory is scanned
// for runnable scripts.
type Registry struct {
	directory   string
	rootDir     string
	defaultName string
	configs     map[string]*ServerConfig
	factory     func(cfg *ServerConfig) (Connection, error)
}

// NewRegistry builds a registry from configured instances, falling back to
// directory discovery when the instance list is empty.
func NewRegistry(directory, defaultName string, instances []*ServerConfig) *Registry {
	r := &Registry{
		directory:   directory,
		rootDir:     ".",
		defaultName: defaultName,
		configs:     make(map[string]*ServerConfig),
	}

	for _, cfg := range instances {
		r.configs[cfg.Name] = cfg
	}

	if len(r.configs) == 0 {
		for _, cfg := range discoverScripts(directory) {
			r.configs[cfg.Name] = cfg
		}
	}

	logger.KV(xlog.DEBUG, "servers", len(r.configs), "directory", directory)
	return r
}

// WithRootDir sets the base for relative command working directories.
func (r *Registry) WithRootDir(rootDir string) *Registry {
	r.rootDir = rootDir
	return r
}

// WithFactory overrides connection construction.
func (r *Registry) WithFactory(factory func(cfg *ServerConfig) (Connection, error)) *Registry {
	r.factory = factory
	return r
}

// discoverScripts synthesizes stdio configurations for every server script
// in the directory, named by file stem.
func discoverScripts(directory string) []*ServerConfig {
	entries, err := os.ReadDir(directory)
	if err != nil {
		logger.KV(xlog.WARNING, "reason", "directory_scan_failed", "directory", directory, "err", err.Error())
		return nil
	}

	var out []*ServerConfig
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".py" && ext != ".js" {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		out = append(out, &ServerConfig{
			Name:        stem,
			Type:        TypeStdio,
			Script:      name,
			Description: "server discovered from " + name,
		})
	}
	return out
}

// Resolve returns the configuration for a server name.
func (r *Registry) Resolve(name string) (*ServerConfig, error) {
	cfg, ok := r.configs[name]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownServer,
			"%s, available: %s", name, strings.Join(r.Names(), ", "))
	}
	return cfg, nil
}

// New creates an unconnected Connection for the configuration.
func (r *Registry) New(cfg *ServerConfig) (Connection, error) {
	if r.factory != nil {
		return r.factory(cfg)
	}
	switch cfg.Type {
	case TypeStdio:
		return NewStdio(cfg, r.directory), nil
	case TypeSSE:
		return NewSSE(cfg), nil
	case TypeCommand:
		return NewCommand(cfg, r.rootDir), nil
	default:
		return nil, errors.WithMessagef(ErrUnsupportedTransport, "%s", cfg.Type)
	}
}

// Names returns the sorted roster of server names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the configured default server name, or the first by
// sorted order when none is configured or the configured one is unknown.
func (r *Registry) Default() string {
	if _, ok := r.configs[r.defaultName]; ok {
		return r.defaultName
	}
	names := r.Names()
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	return len(r.configs)
}
