package problem

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/gosimple/slug"
	"github.com/park285/code-duel/internal/obslog"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"
)

//go:embed problems.yaml
var defaultSeed []byte

type seedFile struct {
	Problems []*Problem `yaml:"problems"`
}

// ParseSeed decodes a YAML problem list, deriving slug and id from the title when absent.
func ParseSeed(b []byte) ([]*Problem, error) {
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	for i, p := range f.Problems {
		if p == nil {
			return nil, fmt.Errorf("problem %d: empty entry", i)
		}
		if strings.TrimSpace(p.Slug) == "" {
			p.Slug = slug.Make(p.Title)
		}
		if strings.TrimSpace(p.ID) == "" {
			p.ID = p.Slug
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("problem %d (%s): %w", i, p.Title, err)
		}
	}
	return f.Problems, nil
}

// LoadSeed reads path, or the embedded catalog when path is empty.
func LoadSeed(path string) ([]*Problem, error) {
	if strings.TrimSpace(path) == "" {
		return ParseSeed(defaultSeed)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(b)
}

func Seed(ctx context.Context, w Writer, problems []*Problem) error {
	for _, p := range problems {
		if err := w.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	obslog.L().Info("problem_seed", zap.Int("count", len(problems)))
	return nil
}

func validate(p *Problem) error {
	if p == nil || strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Title) == "" {
		return ErrInvalid
	}
	if p.TimeMinutes <= 0 || len(p.TestCases) == 0 {
		return ErrInvalid
	}
	for _, tc := range p.TestCases {
		if len(tc.Outputs) == 0 {
			return ErrInvalid
		}
	}
	return nil
}
