// ABOUTME: Tests for role resolution
// ABOUTME: Configured memberships combined with power-level roles

package matrix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/vpsbot/internal/config"
)

const testRoom = id.RoomID("!ops:example.org")

func powerLevels(users map[id.UserID]int) *event.PowerLevelsEventContent {
	return &event.PowerLevelsEventContent{Users: users}
}

func TestResolve_ConfiguredMembers(t *testing.T) {
	r := NewRoleResolver(config.AuthorizationConfig{
		Members: map[string][]string{
			"provisioner": {"@alice:example.org"},
			"billing":     {"@alice:example.org", "@bob:example.org"},
		},
	})

	roles, err := r.Resolve(context.Background(), newFakeAPI(), testRoom, "@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "provisioner"}, roles)

	roles, err = r.Resolve(context.Background(), newFakeAPI(), testRoom, "@mallory:example.org")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestResolve_PowerLevels(t *testing.T) {
	api := newFakeAPI()
	api.setState(testRoom, event.StatePowerLevels, "", powerLevels(map[id.UserID]int{
		"@admin:example.org": 100,
		"@mod:example.org":   50,
		"@user:example.org":  10,
	}))
	r := NewRoleResolver(config.AuthorizationConfig{PowerLevelRoles: true})

	tests := []struct {
		user id.UserID
		want []string
	}{
		{"@admin:example.org", []string{RoleAdmin, RoleModerator}},
		{"@mod:example.org", []string{RoleModerator}},
		{"@user:example.org", nil},
		{"@stranger:example.org", nil},
	}
	for _, tt := range tests {
		t.Run(tt.user.String(), func(t *testing.T) {
			roles, err := r.Resolve(context.Background(), api, testRoom, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, roles)
		})
	}
}

func TestResolve_PowerLevelLookupFailureKeepsConfiguredRoles(t *testing.T) {
	r := NewRoleResolver(config.AuthorizationConfig{
		Members:         map[string][]string{"provisioner": {"@alice:example.org"}},
		PowerLevelRoles: true,
	})

	roles, err := r.Resolve(context.Background(), newFakeAPI(), testRoom, "@alice:example.org")
	require.Error(t, err)
	assert.Equal(t, []string{"provisioner"}, roles)
}
