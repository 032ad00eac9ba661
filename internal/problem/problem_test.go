package problem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedEmbedded(t *testing.T) {
	ps, err := LoadSeed("")
	require.NoError(t, err)
	require.NotEmpty(t, ps)

	byMinutes := map[int]int{}
	for _, p := range ps {
		byMinutes[p.TimeMinutes]++
		assert.NotEmpty(t, p.Slug)
		assert.Equal(t, p.Slug, p.ID)
	}
	for _, m := range []int{5, 10, 20} {
		assert.Positive(t, byMinutes[m], "no problem for %d minutes", m)
	}
}

func TestParseSeedDerivesSlug(t *testing.T) {
	ps, err := ParseSeed([]byte(`problems:
  - title: "Two Sum II!"
    time: 5
    test_cases:
      - input: "1"
        output: ["1"]
`))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "two-sum-ii", ps[0].Slug)
	assert.Equal(t, "two-sum-ii", ps[0].ID)
}

func TestParseSeedRejectsCaseWithoutOutput(t *testing.T) {
	_, err := ParseSeed([]byte(`problems:
  - title: Broken
    time: 5
    test_cases:
      - input: "1"
`))
	assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	ps, err := LoadSeed("")
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, repo, ps))

	p, err := repo.Random(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, p.TimeMinutes)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)

	_, err = repo.Random(ctx, 7)
	assert.ErrorIs(t, err, ErrNoProblem)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	dto := got.DTO()
	assert.Equal(t, got.Title, dto.Title)
}
