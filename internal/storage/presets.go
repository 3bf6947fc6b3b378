package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// Presets serves hand-authored scenarios from DATA_DIR/scenarios. Files are
// read once on first use; presets that fail validation are logged and skipped.
type Presets struct {
	dir    string
	logger *slog.Logger

	once   sync.Once
	loaded map[string]*scenario.Scenario
	err    error
}

// NewPresets creates a preset loader for dataDir/scenarios.
func NewPresets(dataDir string, logger *slog.Logger) *Presets {
	if dataDir == "" {
		dataDir = "./data"
	}
	return &Presets{dir: filepath.Join(dataDir, "scenarios"), logger: logger}
}

// LoadScenarioFile decodes one YAML or JSON preset. The id defaults to the
// file name without extension.
func LoadScenarioFile(path string) (*scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s scenario.Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	case ".json":
		err = json.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("unsupported scenario file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	if strings.TrimSpace(s.ID) == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &s, nil
}

func isScenarioFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func (p *Presets) load() {
	p.loaded = make(map[string]*scenario.Scenario)

	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isScenarioFile(path) {
			return nil
		}

		s, err := LoadScenarioFile(path)
		if err != nil {
			p.logger.Warn("Failed to load scenario preset", "path", path, "error", err)
			return nil
		}
		if err := s.Validate(); err != nil {
			p.logger.Warn("Invalid scenario preset", "path", path, "error", err)
			return nil
		}
		s.Normalize()
		if _, dup := p.loaded[s.ID]; dup {
			p.logger.Warn("Duplicate scenario preset id", "path", path, "id", s.ID)
			return nil
		}
		p.loaded[s.ID] = s
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		p.err = fmt.Errorf("failed to list scenarios: %w", err)
		return
	}
	p.logger.Info("Scenario presets loaded", "dir", p.dir, "count", len(p.loaded))
}

// ListScenarios returns preset summaries sorted by title.
func (p *Presets) ListScenarios(ctx context.Context) ([]storage.ScenarioSummary, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}

	out := make([]storage.ScenarioSummary, 0, len(p.loaded))
	for _, s := range p.loaded {
		out = append(out, storage.ScenarioSummary{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Region:      s.Region,
			ActorCount:  len(s.Actors),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// GetScenario returns a copy of one preset.
func (p *Presets) GetScenario(ctx context.Context, id string) (*scenario.Scenario, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	s, ok := p.loaded[id]
	if !ok {
		return nil, fmt.Errorf("scenario %q: %w", id, storage.ErrNotFound)
	}
	return s.Clone(), nil
}
