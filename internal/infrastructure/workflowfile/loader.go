// Package workflowfile finds, parses and watches the shared and per-project
// workflow override files.
package workflowfile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/errs"
)

var fileNames = []string{"workflow.yaml", "workflow.yml", "workflow.toml"}

// Loader resolves a project's workflow from the built-in defaults, the shared
// file and <ProjectDir>/<slug>/workflow.{yaml,yml,toml}. Results are cached
// until Invalidate.
type Loader struct {
	SharedFile string
	ProjectDir string

	mu    sync.Mutex
	cache map[string]*workflow.Config
}

func NewLoader(sharedFile, projectDir string) *Loader {
	return &Loader{SharedFile: sharedFile, ProjectDir: projectDir, cache: map[string]*workflow.Config{}}
}

func (l *Loader) Load(ctx context.Context, slug string) (*workflow.Config, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.cache[slug]; ok {
		return cfg, nil
	}

	layers, err := l.Layers(slug)
	if err != nil {
		return nil, err
	}
	cfg, err := workflow.Resolve(layers...)
	if err != nil {
		return nil, errs.Wrapf(err, "resolve workflow for %q", slug)
	}
	if l.cache == nil {
		l.cache = map[string]*workflow.Config{}
	}
	l.cache[slug] = cfg

	names := make([]string, 0, len(layers))
	for _, layer := range layers {
		names = append(names, layer.Name)
	}
	logging.Debug(logging.WithAttrs(ctx, slog.String("component", "workflowfile.loader")),
		"workflow resolved", slog.String("project", slug), slog.Any("layers", names))
	return cfg, nil
}

// Layers returns the override layers that exist for slug, shared first.
func (l *Loader) Layers(slug string) ([]workflow.Layer, error) {
	layers := make([]workflow.Layer, 0, 2)
	if l.SharedFile != "" {
		layer, ok, err := ReadLayer(l.SharedFile)
		if err != nil {
			return nil, err
		}
		if ok {
			layers = append(layers, layer)
		}
	}
	if l.ProjectDir != "" && slug != "" {
		for _, name := range fileNames {
			layer, ok, err := ReadLayer(filepath.Join(l.ProjectDir, slug, name))
			if err != nil {
				return nil, err
			}
			if ok {
				layers = append(layers, layer)
				break
			}
		}
	}
	return layers, nil
}

// Invalidate drops every cached config.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = map[string]*workflow.Config{}
	l.mu.Unlock()
}

// ReadLayer parses path by extension. A missing file reports ok=false.
func ReadLayer(path string) (workflow.Layer, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return workflow.Layer{}, false, nil
		}
		return workflow.Layer{}, false, errs.Wrapf(err, "read workflow file %q", path)
	}

	var layer workflow.Layer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		layer, err = workflow.ParseTOMLLayer(path, data)
	default:
		layer, err = workflow.ParseYAMLLayer(path, data)
	}
	if err != nil {
		return workflow.Layer{}, false, err
	}
	return layer, true, nil
}
