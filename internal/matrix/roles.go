// ABOUTME: Role resolution for chat users
// ABOUTME: Combines configured role membership with the invoking room's power levels

package matrix

import (
	"context"
	"fmt"
	"sort"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/vpsbot/internal/config"
)

// Power-level derived role names.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

const (
	adminPowerLevel     = 100
	moderatorPowerLevel = 50
)

// RoleResolver computes the role names a user holds in a room.
type RoleResolver struct {
	members     map[id.UserID][]string
	powerLevels bool
}

// NewRoleResolver builds a resolver from the authorization config.
func NewRoleResolver(cfg config.AuthorizationConfig) *RoleResolver {
	members := make(map[id.UserID][]string)
	for role, users := range cfg.Members {
		for _, u := range users {
			members[id.UserID(u)] = append(members[id.UserID(u)], role)
		}
	}
	for u := range members {
		sort.Strings(members[u])
	}
	return &RoleResolver{members: members, powerLevels: cfg.PowerLevelRoles}
}

// Resolve returns the roles of user in room. When power-level roles are enabled
// and the room state cannot be read, the configured roles are still returned
// together with the error.
func (r *RoleResolver) Resolve(ctx context.Context, api API, room id.RoomID, user id.UserID) ([]string, error) {
	roles := append([]string(nil), r.members[user]...)
	if !r.powerLevels {
		return roles, nil
	}

	var pl event.PowerLevelsEventContent
	if err := api.StateEvent(ctx, room, event.StatePowerLevels, "", &pl); err != nil {
		return roles, fmt.Errorf("reading power levels of %s: %w", room, err)
	}
	return append(roles, powerRoles(pl.GetUserLevel(user))...), nil
}

func powerRoles(level int) []string {
	switch {
	case level >= adminPowerLevel:
		return []string{RoleAdmin, RoleModerator}
	case level >= moderatorPowerLevel:
		return []string{RoleModerator}
	default:
		return nil
	}
}
