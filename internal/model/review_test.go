package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviewStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to ReviewStatus
		want     bool
	}{
		{ReviewPending, ReviewInReview, true},
		{ReviewPending, ReviewResolved, false},
		{ReviewPending, ReviewEscalated, false},
		{ReviewInReview, ReviewResolved, true},
		{ReviewInReview, ReviewEscalated, true},
		{ReviewInReview, ReviewPending, true},
		{ReviewEscalated, ReviewInReview, true},
		{ReviewEscalated, ReviewResolved, false},
		{ReviewResolved, ReviewPending, false},
		{ReviewResolved, ReviewInReview, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
			if tt.want {
				assert.NoError(t, CheckReviewTransition(tt.from, tt.to))
			} else {
				assert.Error(t, CheckReviewTransition(tt.from, tt.to))
			}
		})
	}
}

func TestCheckReviewTransition_UnknownStatus(t *testing.T) {
	t.Parallel()

	err := CheckReviewTransition(ReviewPending, ReviewStatus("closed"))
	assert.ErrorContains(t, err, "unknown review status")
}

func TestReviewStatus_Open(t *testing.T) {
	t.Parallel()

	assert.True(t, ReviewPending.Open())
	assert.True(t, ReviewInReview.Open())
	assert.True(t, ReviewEscalated.Open())
	assert.False(t, ReviewResolved.Open())
}
