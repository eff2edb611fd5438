// Package overlay resolves criteria sets. Overlays are external
// configuration: named criteria with weights, supplied per deployment and
// consumed read-only by the pipeline.
package overlay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
)

type Source interface {
	Get(ctx context.Context, overlayID string) ([]agents.Criterion, error)
}

type fileDoc struct {
	Criteria []agents.Criterion `yaml:"criteria"`
}

// FileSource resolves overlay ids to yaml files in a directory
// (<dir>/<overlay-id>.yaml). Unknown ids fall back to the default overlay.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Get(_ context.Context, overlayID string) ([]agents.Criterion, error) {
	id := strings.TrimSpace(overlayID)
	if id == "" {
		return DefaultCriteria(), nil
	}
	path := filepath.Join(s.dir, id+".yaml")
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCriteria(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay %s: %w", id, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse overlay %s: %w", id, err)
	}
	if len(doc.Criteria) == 0 {
		return DefaultCriteria(), nil
	}
	return doc.Criteria, nil
}

// StaticSource serves a fixed criteria set regardless of overlay id.
type StaticSource struct {
	Criteria []agents.Criterion
}

func (s StaticSource) Get(context.Context, string) ([]agents.Criterion, error) {
	if len(s.Criteria) == 0 {
		return DefaultCriteria(), nil
	}
	return s.Criteria, nil
}

func DefaultCriteria() []agents.Criterion {
	return []agents.Criterion{
		{ID: "structure", Name: "Structure & Organization", Category: "form", Weight: 25, MaxScore: 100},
		{ID: "clarity", Name: "Clarity & Language", Category: "form", Weight: 25, MaxScore: 100},
		{ID: "content", Name: "Content Quality", Category: "substance", Weight: 50, MaxScore: 100},
	}
}

// FromEnv picks the overlay source: a directory of yaml overlays when
// OVERLAY_CRITERIA_DIR is set, the built-in default set otherwise.
func FromEnv() Source {
	if dir := strings.TrimSpace(os.Getenv("OVERLAY_CRITERIA_DIR")); dir != "" {
		return NewFileSource(dir)
	}
	return StaticSource{}
}
