package confidence

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/platform"
	"github.com/eatplanted/venuescout/pkg/anthropic"
)

type stubClassifier struct {
	verdict bool
	err     error
	calls   int
}

func (c *stubClassifier) Classify(ctx context.Context, venueName string, item model.MenuItem) (bool, error) {
	c.calls++
	return c.verdict, c.err
}

func scorerConfig(useAI bool) config.ConfidenceConfig {
	return config.ConfidenceConfig{
		SpecificMatch:   90,
		GenericMatch:    60,
		ReviewThreshold: 70,
		UseAIClassifier: useAI,
	}
}

func specificMatch() platform.Match {
	return platform.Match{
		Item:       model.MenuItem{Name: "planted.chicken Burger"},
		Confidence: 90,
		Pattern:    "planted.chicken",
		Specific:   true,
	}
}

func genericMatch() platform.Match {
	return platform.Match{
		Item:       model.MenuItem{Name: "Planted Bowl"},
		Confidence: 60,
		Pattern:    "planted",
	}
}

func TestScoreDish_SpecificMatchSkipsClassifier(t *testing.T) {
	cls := &stubClassifier{verdict: false}
	s := NewScorer(scorerConfig(true), cls)

	score, flags, aiCalls := s.ScoreDish(context.Background(), "Green Garden", specificMatch(), false)
	assert.Equal(t, 90, score)
	assert.Empty(t, flags)
	assert.Zero(t, aiCalls)
	assert.Zero(t, cls.calls)
}

func TestScoreDish_VerifiedGenericScoresMidpoint(t *testing.T) {
	cls := &stubClassifier{verdict: true}
	s := NewScorer(scorerConfig(true), cls)

	score, flags, aiCalls := s.ScoreDish(context.Background(), "Green Garden", genericMatch(), false)
	assert.Equal(t, 75, score)
	assert.Contains(t, flags, model.FlagGenericMatch)
	assert.Equal(t, 1, aiCalls)
}

func TestScoreDish_RejectedGenericDropsToZero(t *testing.T) {
	cls := &stubClassifier{verdict: false}
	s := NewScorer(scorerConfig(true), cls)

	score, _, aiCalls := s.ScoreDish(context.Background(), "Green Garden", genericMatch(), false)
	assert.Zero(t, score)
	assert.Equal(t, 1, aiCalls)
}

func TestScoreDish_ClassifierErrorKeepsPatternScore(t *testing.T) {
	cls := &stubClassifier{err: eris.New("api down")}
	s := NewScorer(scorerConfig(true), cls)

	score, _, aiCalls := s.ScoreDish(context.Background(), "Green Garden", genericMatch(), false)
	assert.Equal(t, 60, score)
	assert.Equal(t, 1, aiCalls)
}

func TestScoreDish_ClassifierDisabled(t *testing.T) {
	cls := &stubClassifier{verdict: false}
	s := NewScorer(scorerConfig(false), cls)

	score, _, aiCalls := s.ScoreDish(context.Background(), "Green Garden", genericMatch(), false)
	assert.Equal(t, 60, score)
	assert.Zero(t, aiCalls)
	assert.Zero(t, cls.calls)
}

func TestScoreDish_PartialParseDocksScore(t *testing.T) {
	s := NewScorer(scorerConfig(false), nil)

	score, flags, _ := s.ScoreDish(context.Background(), "Green Garden", specificMatch(), true)
	assert.Equal(t, 80, score)
	assert.Contains(t, flags, model.FlagPartialParse)
}

func TestScoreDish_ClampsAtZero(t *testing.T) {
	cls := &stubClassifier{verdict: false}
	s := NewScorer(scorerConfig(true), cls)

	// Rejected generic plus the partial-parse dock must not go negative.
	score, _, _ := s.ScoreDish(context.Background(), "Green Garden", genericMatch(), true)
	assert.Zero(t, score)
}

func TestScoreDish_VeganFlagDoesNotChangeScore(t *testing.T) {
	s := NewScorer(scorerConfig(false), nil)

	m := specificMatch()
	m.Vegan = true
	score, flags, _ := s.ScoreDish(context.Background(), "Green Garden", m, false)
	assert.Equal(t, 90, score)
	assert.Contains(t, flags, model.FlagVeganLabelled)
}

type fakeModelClient struct {
	text string
	err  error
}

func (f *fakeModelClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{Text: f.text}, nil
}

func TestAIClassifier_ParsesVerdict(t *testing.T) {
	c := NewAIClassifier(&fakeModelClient{text: `{"planted": true}`}, "claude-haiku-4-5-20251001")

	ok, err := c.Classify(context.Background(), "Green Garden", model.MenuItem{Name: "Planted Bowl"})
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestAIClassifier_StripsCodeFences(t *testing.T) {
	c := NewAIClassifier(&fakeModelClient{text: "```json\n{\"planted\": false}\n```"}, "claude-haiku-4-5-20251001")

	ok, err := c.Classify(context.Background(), "Green Garden", model.MenuItem{Name: "Planted Bowl"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAIClassifier_MalformedVerdict(t *testing.T) {
	c := NewAIClassifier(&fakeModelClient{text: "it sure looks planted to me"}, "claude-haiku-4-5-20251001")

	_, err := c.Classify(context.Background(), "Green Garden", model.MenuItem{Name: "Planted Bowl"})
	assert.Error(t, err)
}

func TestAIClassifier_APIError(t *testing.T) {
	c := NewAIClassifier(&fakeModelClient{err: eris.New("overloaded")}, "claude-haiku-4-5-20251001")

	_, err := c.Classify(context.Background(), "Green Garden", model.MenuItem{Name: "Planted Bowl"})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	s := NewScorer(scorerConfig(false), nil)

	assert.Equal(t, model.EntityPending, s.StatusFor(70))
	assert.Equal(t, model.EntityPending, s.StatusFor(90))
	assert.Equal(t, model.EntityNeedsReview, s.StatusFor(69))
	assert.Equal(t, model.EntityNeedsReview, s.StatusFor(0))
}
