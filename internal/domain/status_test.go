package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEnumIsClosed(t *testing.T) {
	assert.Len(t, Statuses, 8)
	for _, s := range Statuses {
		assert.True(t, s.Valid(), s)
		parsed, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("In_Progress")
	assert.Error(t, err)
	assert.False(t, Status("done").Valid())
}

func TestParseStatusIgnoresCase(t *testing.T) {
	s, err := ParseStatus("pending_peer_review")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPeerReview, s)
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCompleted, false},
		{StatusAccepted, StatusAmended, true},
		{StatusAmended, StatusAmendedPendingApproval, true},
		{StatusAmendedPendingApproval, StatusAccepted, true},
		{StatusAmendedPendingApproval, StatusRejected, true},
		{StatusAccepted, StatusPendingPeerReview, true},
		{StatusAmended, StatusPendingPeerReview, true},
		{StatusPendingPeerReview, StatusPendingExecutiveApproval, true},
		{StatusPendingExecutiveApproval, StatusCompleted, true},
		{StatusAccepted, StatusCompleted, false},
		{StatusCompleted, StatusAccepted, false},
		{StatusRejected, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusRejected} {
		assert.True(t, from.Terminal())
		for _, to := range Statuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestPendingApprovalStatuses(t *testing.T) {
	assert.True(t, StatusPendingExecutiveApproval.PendingApproval())
	assert.True(t, StatusAmendedPendingApproval.PendingApproval())
	assert.True(t, StatusPendingPeerReview.PendingApproval())
	assert.False(t, StatusPending.PendingApproval())
	assert.False(t, StatusAccepted.PendingApproval())
}
