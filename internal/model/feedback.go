package model

import "time"

// FeedbackResult classifies a reviewer's verdict on a staged entity.
type FeedbackResult string

const (
	FeedbackCorrect    FeedbackResult = "correct"
	FeedbackWrongItem  FeedbackResult = "wrong_product"
	FeedbackWrongPrice FeedbackResult = "wrong_price"
	FeedbackWrongName  FeedbackResult = "wrong_name"
	FeedbackNotPlanted FeedbackResult = "not_planted"
	FeedbackNotFound   FeedbackResult = "not_found"
	FeedbackError      FeedbackResult = "error"
)

// Valid reports whether r is one of the known result types.
func (r FeedbackResult) Valid() bool {
	switch r {
	case FeedbackCorrect, FeedbackWrongItem, FeedbackWrongPrice,
		FeedbackWrongName, FeedbackNotPlanted, FeedbackNotFound, FeedbackError:
		return true
	}
	return false
}

// FeedbackRecord is one human review verdict. The feedback log is append-only
// and is the source of truth for recomputing strategy performance; records
// are never mutated.
type FeedbackRecord struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Result     FeedbackResult `json:"result"`
	Reviewer   string         `json:"reviewer"`
	Notes      string         `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
