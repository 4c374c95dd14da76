package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStats_MergeAddsKeywise(t *testing.T) {
	s := RunStats{StatQueriesExecuted: 3, StatVenuesFound: 2}
	s.Merge(RunStats{StatQueriesExecuted: 2, StatVenuesStaged: 1})

	assert.Equal(t, int64(5), s[StatQueriesExecuted])
	assert.Equal(t, int64(2), s[StatVenuesFound])
	assert.Equal(t, int64(1), s[StatVenuesStaged])
}

func TestRunStats_MergeIgnoresNegativeDeltas(t *testing.T) {
	s := RunStats{StatErrors: 4}
	s.Merge(RunStats{StatErrors: -3, StatPagesFetched: 0})

	assert.Equal(t, int64(4), s[StatErrors])
	assert.NotContains(t, s, StatPagesFetched)
}

func TestRunStats_CloneIsIndependent(t *testing.T) {
	s := RunStats{StatVenuesFound: 1}
	c := s.Clone()
	c[StatVenuesFound] = 99

	assert.Equal(t, int64(1), s[StatVenuesFound])
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestFeedbackResult_Valid(t *testing.T) {
	assert.True(t, FeedbackCorrect.Valid())
	assert.True(t, FeedbackNotPlanted.Valid())
	assert.True(t, FeedbackError.Valid())
	assert.False(t, FeedbackResult("maybe").Valid())
	assert.False(t, FeedbackResult("").Valid())
}
