package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	a, err := NewDefault()
	require.NoError(t, err)

	require.True(t, a.Allow("ADMIN", ResourceSubmission, ActionReview))
	require.True(t, a.Allow("ADMIN", ResourceOrganization, ActionModerate))
	require.True(t, a.Allow("ADMIN", ResourceCampaign, ActionDistribute))

	require.False(t, a.Allow("AMBASSADOR", ResourceSubmission, ActionReview))
	require.False(t, a.Allow("ORGANIZATION", ResourceOrganization, ActionModerate))
}
