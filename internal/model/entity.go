package model

import "time"

// EntityKind distinguishes staged venues from staged dishes.
type EntityKind string

const (
	EntityVenue EntityKind = "venue"
	EntityDish  EntityKind = "dish"
)

// EntityStatus is the review state of a staged entity. Promoted is terminal:
// the record has been copied into the production data model and is owned by
// that system from then on.
type EntityStatus string

const (
	EntityPending     EntityStatus = "pending"
	EntityNeedsReview EntityStatus = "needs_review"
	EntityApproved    EntityStatus = "approved"
	EntityRejected    EntityStatus = "rejected"
	EntityPromoted    EntityStatus = "promoted"
)

// DiscoveredEntity is a staged venue or dish awaiting human review.
type DiscoveredEntity struct {
	ID             string       `json:"id"`
	Kind           EntityKind   `json:"kind"`
	Status         EntityStatus `json:"status"`
	Platform       string       `json:"platform"`
	Country        string       `json:"country"`
	City           string       `json:"city,omitempty"`
	Name           string       `json:"name"`
	URL            string       `json:"url,omitempty"`
	VenueID        string       `json:"venue_id,omitempty"`
	ParentEntityID string       `json:"parent_entity_id,omitempty"` // dish -> venue
	RunID          string       `json:"run_id,omitempty"`
	StrategyID     string       `json:"strategy_id,omitempty"`

	// ConfidenceScore is a 0-100 correctness estimate assigned at creation.
	ConfidenceScore int      `json:"confidence_score"`
	Flags           []string `json:"flags,omitempty"`

	// Dish-only fields.
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Currency    string `json:"currency,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity flags set during extraction and chain detection.
const (
	FlagChainSuspect  = "chain_suspect"
	FlagVeganLabelled = "vegan_labelled"
	FlagGenericMatch  = "generic_match"
	FlagPartialParse  = "partial_parse"
)

// VenueData is the structured output of a platform adapter's venue-page
// parse. Fields are best-effort; a failed parse yields an empty Name and an
// empty MenuItems slice, never an error.
type VenueData struct {
	Name      string     `json:"name"`
	Address   string     `json:"address,omitempty"`
	City      string     `json:"city,omitempty"`
	Country   string     `json:"country,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Rating    float64    `json:"rating,omitempty"`
	URL       string     `json:"url,omitempty"`
	MenuItems []MenuItem `json:"menu_items"`
}

// MenuItem is one dish on a venue's menu.
type MenuItem struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Section     string `json:"section,omitempty"`
}

// SearchHit is one result returned by a platform's search page parse,
// deduplicated by VenueID.
type SearchHit struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	VenueID string `json:"venue_id"`
	City    string `json:"city,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}
