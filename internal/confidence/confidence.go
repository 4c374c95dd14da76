// Package confidence assigns correctness scores to staged entities. The base
// score comes from the pattern match tier; adjustments and an optional AI
// check refine it before the review queue decides routing.
package confidence

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/platform"
	"github.com/eatplanted/venuescout/pkg/anthropic"
)

// Classifier answers whether a matched menu item really is the brand's
// product. Only consulted for generic matches.
type Classifier interface {
	Classify(ctx context.Context, venueName string, item model.MenuItem) (bool, error)
}

// Scorer computes entity confidence scores.
type Scorer struct {
	cfg        config.ConfidenceConfig
	classifier Classifier
}

// NewScorer creates a Scorer. classifier may be nil; it is only used when
// cfg.UseAIClassifier is set.
func NewScorer(cfg config.ConfidenceConfig, classifier Classifier) *Scorer {
	return &Scorer{cfg: cfg, classifier: classifier}
}

// ScoreDish computes the final score and flags for one matched menu item.
// partialParse marks items recovered by the text-scan fallback layer, which
// carry less structure and get docked. A generic match that the AI classifier
// rejects drops to zero; classifier errors leave the pattern score untouched.
func (s *Scorer) ScoreDish(ctx context.Context, venueName string, m platform.Match, partialParse bool) (int, []string, int) {
	score := m.Confidence
	var flags []string
	aiCalls := 0

	if !m.Specific {
		flags = append(flags, model.FlagGenericMatch)

		if s.cfg.UseAIClassifier && s.classifier != nil {
			aiCalls++
			ok, err := s.classifier.Classify(ctx, venueName, m.Item)
			switch {
			case err != nil:
				zap.L().Warn("ai classification failed, keeping pattern score",
					zap.String("item", m.Item.Name), zap.Error(err))
			case ok:
				// Verified generic match sits between the tiers.
				score = (s.cfg.GenericMatch + s.cfg.SpecificMatch) / 2
			default:
				score = 0
			}
		}
	}

	if m.Vegan {
		flags = append(flags, model.FlagVeganLabelled)
	}
	if partialParse {
		flags = append(flags, model.FlagPartialParse)
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, flags, aiCalls
}

// StatusFor routes a score: at or above the review threshold the entity waits
// as pending; below it, it is flagged for human review.
func (s *Scorer) StatusFor(score int) model.EntityStatus {
	if score >= s.cfg.ReviewThreshold {
		return model.EntityPending
	}
	return model.EntityNeedsReview
}

// AIClassifier implements Classifier over the model API with a strict JSON
// contract.
type AIClassifier struct {
	client anthropic.Client
	model  string
}

// NewAIClassifier creates an AIClassifier.
func NewAIClassifier(client anthropic.Client, model string) *AIClassifier {
	return &AIClassifier{client: client, model: model}
}

const classifierSystem = `You verify restaurant menu items. Answer whether the item is a product of the plant-based brand "Planted" (planted.chicken, planted.kebab, planted.pulled, planted.bratwurst, planted.steak, planted.schnitzel). Mentions of generic plant-based meat from other brands do not count. Respond with JSON only: {"planted": true|false}`

type classifierVerdict struct {
	Planted bool `json:"planted"`
}

// Classify sends one item for verification.
func (c *AIClassifier) Classify(ctx context.Context, venueName string, item model.MenuItem) (bool, error) {
	prompt := "Venue: " + venueName + "\nItem: " + item.Name
	if item.Description != "" {
		prompt += "\nDescription: " + item.Description
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 64,
		System:    classifierSystem,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return false, eris.Wrap(err, "confidence: classify")
	}
	resp.Usage.LogCost(c.model, "classify")

	text := strings.TrimSpace(resp.Text)
	// Models occasionally fence the JSON; strip markers before decoding.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var verdict classifierVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &verdict); err != nil {
		return false, eris.Wrapf(err, "confidence: parse verdict %q", resp.Text)
	}
	return verdict.Planted, nil
}
