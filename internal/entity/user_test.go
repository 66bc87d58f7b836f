package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to UserState
		want     bool
	}{
		{UserStatePendingEmailVerification, UserStatePendingApproval, true},
		{UserStatePendingEmailVerification, UserStateActive, false},
		{UserStatePendingApproval, UserStateActive, true},
		{UserStatePendingApproval, UserStateRejected, true},
		{UserStatePendingApproval, UserStateSuspended, false},
		{UserStateActive, UserStateSuspended, true},
		{UserStateActive, UserStateRejected, false},
		{UserStateActive, UserStatePendingApproval, false},
		{UserStateSuspended, UserStateActive, true},
		{UserStateRejected, UserStateActive, true},
		{UserStateRejected, UserStatePendingApproval, false},
		{UserStateActive, UserStateActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseUserRole(t *testing.T) {
	for _, raw := range []string{"user", "moderator", "admin"} {
		role, err := ParseUserRole(raw)
		require.NoError(t, err)
		assert.Equal(t, UserRole(raw), role)
	}

	_, err := ParseUserRole("superuser")
	assert.Error(t, err)
	_, err = ParseUserRole("Admin")
	assert.Error(t, err)
}

func TestUserStateScanRejectsUnknownValues(t *testing.T) {
	var state UserState
	require.NoError(t, state.Scan([]byte("pending_approval")))
	assert.Equal(t, UserStatePendingApproval, state)

	assert.Error(t, state.Scan("deleted"))
	assert.Error(t, state.Scan(nil))
	assert.Error(t, state.Scan(42))
	assert.Equal(t, UserStatePendingApproval, state)

	_, err := UserState("deleted").Value()
	assert.Error(t, err)
}

func TestUserRoleScan(t *testing.T) {
	var role UserRole
	require.NoError(t, role.Scan("moderator"))
	assert.Equal(t, UserRoleModerator, role)
	assert.Error(t, role.Scan("root"))

	value, err := UserRoleAdmin.Value()
	require.NoError(t, err)
	assert.Equal(t, "admin", value)
}

func TestUserAccessHelpers(t *testing.T) {
	moderator := &User{Username: "mod", Role: UserRoleModerator, State: UserStateActive}
	assert.True(t, moderator.HasAdminAccess())
	assert.False(t, moderator.IsAdmin())
	assert.True(t, moderator.IsActive())
	assert.Equal(t, "mod", moderator.Name())

	member := &User{Username: "anna", DisplayName: "Anna B", Role: UserRoleUser, State: UserStateSuspended}
	assert.False(t, member.HasAdminAccess())
	assert.False(t, member.IsActive())
	assert.Equal(t, "Anna B", member.Name())
}
