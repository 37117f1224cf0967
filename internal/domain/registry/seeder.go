package registry

import (
	"context"
	"crypto/rand"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// Setting keys written by the seeder.
const (
	SettingSourcesSeeded = "default_sources_seeded"
	SettingCheckString   = "check_string"
)

const (
	checkStringLength  = 8
	checkStringCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

// SourceStore persists sources and settings.
type SourceStore interface {
	UpsertSource(ctx context.Context, src *types.Source) error
	ListSources(ctx context.Context) ([]*types.Source, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// SeedResult reports what a Seed call changed.
type SeedResult struct {
	SourcesAdded int
	CheckString  string
	Generated    bool
}

// Seeder performs first-run bootstrap of sources and settings.
type Seeder struct {
	store   SourceStore
	sources []byte
	logger  *zap.Logger
}

// NewSeeder creates a seeder using the embedded default sources.
func NewSeeder(store SourceStore, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{store: store, sources: defaultSourcesYAML, logger: logger}
}

// WithSources replaces the default sources document.
func (s *Seeder) WithSources(doc []byte) *Seeder {
	s.sources = doc
	return s
}

// Seed adds the default sources once and generates the check string once.
// Both steps are guarded by settings so restarts are no-ops.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	result := &SeedResult{}

	seeded, _, err := s.store.GetSetting(ctx, SettingSourcesSeeded)
	if err != nil {
		return nil, err
	}
	if seeded != "true" {
		sources, err := ParseSources(s.sources)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			if err := s.store.UpsertSource(ctx, src); err != nil {
				return nil, fmt.Errorf("seed source %s: %w", src.ID, err)
			}
			result.SourcesAdded++
		}
		if err := s.store.SetSetting(ctx, SettingSourcesSeeded, "true"); err != nil {
			return nil, err
		}
		s.logger.Info("Added default sources", zap.Int("count", result.SourcesAdded))
	}

	check, ok, err := s.store.GetSetting(ctx, SettingCheckString)
	if err != nil {
		return nil, err
	}
	if !ok || check == "" {
		check, err = randomString(checkStringLength)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetSetting(ctx, SettingCheckString, check); err != nil {
			return nil, err
		}
		result.Generated = true
	}
	result.CheckString = check
	return result, nil
}

// ParseSources decodes a sources YAML document.
func ParseSources(doc []byte) ([]*types.Source, error) {
	var parsed struct {
		Sources []*types.Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	for i, src := range parsed.Sources {
		if src == nil || src.ID == "" || src.URL == "" {
			return nil, fmt.Errorf("parse sources: entry %d needs id and url", i)
		}
	}
	return parsed.Sources, nil
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(checkStringCharset)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		out[i] = checkStringCharset[idx.Int64()]
	}
	return string(out), nil
}
