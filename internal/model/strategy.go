package model

import "time"

// StrategyOrigin describes how a strategy came to exist.
type StrategyOrigin string

const (
	OriginSeed    StrategyOrigin = "seed"    // shipped with the system
	OriginAgent   StrategyOrigin = "agent"   // proposed by an AI agent
	OriginManual  StrategyOrigin = "manual"  // entered by an operator
	OriginEvolved StrategyOrigin = "evolved" // derived from a parent strategy
)

// Strategy is a performance-tracked search query template scoped to a
// (platform, country) pair. Strategies are never deleted, only deprecated.
type Strategy struct {
	ID            string `json:"id"`
	Platform      string `json:"platform"`
	Country       string `json:"country"`
	QueryTemplate string `json:"query_template"`

	// SuccessRate is round(SuccessfulDiscoveries/TotalUses*100). It is
	// meaningless until TotalUses > 0, except for evolved strategies which
	// inherit the parent's rate as a prior.
	SuccessRate            int `json:"success_rate"`
	TotalUses              int `json:"total_uses"`
	SuccessfulDiscoveries  int `json:"successful_discoveries"`
	FalsePositives         int `json:"false_positives"`

	Tags             []string       `json:"tags,omitempty"`
	Origin           StrategyOrigin `json:"origin"`
	ParentStrategyID string         `json:"parent_strategy_id,omitempty"`

	DeprecatedAt     *time.Time `json:"deprecated_at,omitempty"`
	DeprecatedReason string     `json:"deprecated_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the strategy may still be selected for discovery.
func (s *Strategy) Active() bool {
	return s.DeprecatedAt == nil
}

// StrategyTier buckets strategies by statistical reliability of their rate.
type StrategyTier string

const (
	TierHigh     StrategyTier = "high"     // uses>=5, rate>=70
	TierMedium   StrategyTier = "medium"   // uses>=5, 40<=rate<70
	TierLow      StrategyTier = "low"      // uses>=5, rate<40
	TierUntested StrategyTier = "untested" // uses<5
)
