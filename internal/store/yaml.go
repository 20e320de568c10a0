package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// yamlDocument is the on-disk layout of a YAML metric store
type yamlDocument struct {
	Metrics []yamlMetric `yaml:"metrics"`
}

type yamlMetric struct {
	ID            string     `yaml:"id"`
	DisplayGroup  string     `yaml:"group,omitempty"`
	DisplayName   string     `yaml:"name,omitempty"`
	SourceType    string     `yaml:"source"`
	QueryText     string     `yaml:"query"`
	LastValue     *float64   `yaml:"last_value,omitempty"`
	LastUpdatedAt *time.Time `yaml:"last_updated_at,omitempty"`
	LastError     string     `yaml:"last_error,omitempty"`
}

// YAMLStore keeps metrics in a single YAML file. Every write replaces the
// file atomically so readers never observe a partial document.
type YAMLStore struct {
	path string
	mu   sync.Mutex
}

// NewYAMLStore creates a store backed by the file at path
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// LoadAll returns the metrics in file order. A file that repeats an id
// is rejected.
func (s *YAMLStore) LoadAll(ctx context.Context) ([]metric.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	defs := make([]metric.Definition, 0, len(doc.Metrics))
	for _, m := range doc.Metrics {
		defs = append(defs, metric.Definition{
			ID:            m.ID,
			DisplayGroup:  m.DisplayGroup,
			DisplayName:   m.DisplayName,
			SourceType:    metric.SourceType(m.SourceType),
			QueryText:     m.QueryText,
			LastValue:     m.LastValue,
			LastUpdatedAt: m.LastUpdatedAt,
			LastError:     m.LastError,
		})
	}
	if err := checkUniqueIDs(defs); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return defs, nil
}

// PersistValue records a successful refresh and clears the stored error
func (s *YAMLStore) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	return s.modify(id, func(m *yamlMetric) {
		v := value
		ts := at.UTC()
		m.LastValue = &v
		m.LastUpdatedAt = &ts
		m.LastError = ""
	})
}

// PersistFailure records the last error without touching the stored value
func (s *YAMLStore) PersistFailure(ctx context.Context, id string, message string, at time.Time) error {
	return s.modify(id, func(m *yamlMetric) {
		m.LastError = message
	})
}

func (s *YAMLStore) modify(id string, fn func(*yamlMetric)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	for i := range doc.Metrics {
		if doc.Metrics[i].ID == id {
			fn(&doc.Metrics[i])
			return atomicWrite(s.path, doc)
		}
	}
	return fmt.Errorf("%w: %s", ErrMetricNotFound, id)
}

func (s *YAMLStore) read() (*yamlDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read metric file: %w", err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metric file %s: %w", s.path, err)
	}
	return &doc, nil
}

// atomicWrite marshals doc to a temp file next to path, syncs it and
// renames it over path
func atomicWrite(path string, doc any) error {
	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tally-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
