package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
)

func testConfidenceConfig() config.ConfidenceConfig {
	return config.ConfidenceConfig{SpecificMatch: 90, GenericMatch: 60, ReviewThreshold: 70}
}

func TestFindPlantedItems_SpecificBeatsGeneric(t *testing.T) {
	m := NewMatcher(DefaultPatterns(), testConfidenceConfig())

	items := []model.MenuItem{
		{Name: "planted.chicken Burger", Description: "with planted strips"},
		{Name: "Planted Bowl", Description: "brand mention only"},
		{Name: "Beef Burger"},
	}

	got := m.FindPlantedItems(items)
	require.Len(t, got, 2)

	assert.True(t, got[0].Specific)
	assert.Equal(t, 90, got[0].Confidence)
	assert.Equal(t, "planted.chicken", got[0].Pattern)

	assert.False(t, got[1].Specific)
	assert.Equal(t, 60, got[1].Confidence)
	assert.Equal(t, "planted", got[1].Pattern)
}

func TestFindPlantedItems_GenericNeedsWordBoundary(t *testing.T) {
	m := NewMatcher(DefaultPatterns(), testConfidenceConfig())

	got := m.FindPlantedItems([]model.MenuItem{
		{Name: "Transplanted Garden Salad"},
		{Name: "Replanted Herb Bowl"},
	})
	assert.Empty(t, got)
}

func TestFindPlantedItems_MatchesDescription(t *testing.T) {
	m := NewMatcher(DefaultPatterns(), testConfidenceConfig())

	got := m.FindPlantedItems([]model.MenuItem{
		{Name: "Crispy Wrap", Description: "made with planted kebab"},
	})
	require.Len(t, got, 1)
	assert.True(t, got[0].Specific)
	assert.Equal(t, "planted kebab", got[0].Pattern)
}

func TestFindPlantedItems_VeganFlag(t *testing.T) {
	m := NewMatcher(DefaultPatterns(), testConfidenceConfig())

	got := m.FindPlantedItems([]model.MenuItem{
		{Name: "planted.chicken Bowl", Description: "100% vegan"},
		{Name: "planted.chicken Wrap"},
	})
	require.Len(t, got, 2)
	assert.True(t, got[0].Vegan)
	assert.False(t, got[1].Vegan)
	// The vegan marker never changes the score.
	assert.Equal(t, got[0].Confidence, got[1].Confidence)
}

func TestKeywords_DedupedLowercase(t *testing.T) {
	m := NewMatcher(Patterns{
		Specific: []string{"Planted Chicken", "planted chicken"},
		Generic:  []string{"Planted"},
	}, testConfidenceConfig())

	kws := m.Keywords()
	assert.Equal(t, []string{"planted", "planted chicken"}, kws)
}

func TestLoadPatterns_FillsEmptySectionsFromDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("specific:\n  - \"planted.burger\"\n"), 0o644))

	p, err := LoadPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"planted.burger"}, p.Specific)
	assert.Equal(t, DefaultPatterns().Generic, p.Generic)
	assert.Equal(t, DefaultPatterns().Vegan, p.Vegan)
}

func TestLoadPatterns_MissingFile(t *testing.T) {
	_, err := LoadPatterns(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
