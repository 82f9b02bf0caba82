package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/repository"
)

type settingsGetter interface {
	GetSettings(ctx context.Context, guild string) (*repository.Settings, error)
}

// roleNamer resolves a role ID to its name within a guild.
type roleNamer func(guildID, roleID string) (string, bool)

func stateRoles(st *discordgo.State) roleNamer {
	return func(guildID, roleID string) (string, bool) {
		r, err := st.Role(guildID, roleID)
		if err != nil || r == nil {
			return "", false
		}
		return r.Name, true
	}
}

// djAuthorizer lets administrators and members holding the DJ role manage
// the queue. The role name comes from the guild's settings, falling back to
// the process-wide default.
type djAuthorizer struct {
	settings    settingsGetter
	defaultRole string
	roleName    roleNamer
}

func newDJAuthorizer(settings settingsGetter, defaultRole string, roles roleNamer) *djAuthorizer {
	return &djAuthorizer{settings: settings, defaultRole: defaultRole, roleName: roles}
}

func (a *djAuthorizer) CanManageQueue(guildID string, caller player.Caller) bool {
	if caller.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	want := a.djRole(guildID)
	if want == "" {
		return false
	}
	for _, id := range caller.RoleIDs {
		if name, ok := a.roleName(guildID, id); ok && strings.EqualFold(name, want) {
			return true
		}
	}
	return false
}

func (a *djAuthorizer) djRole(guildID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	set, err := a.settings.GetSettings(ctx, guildID)
	if err != nil {
		slog.Debug("dj role lookup", "guildID", guildID, "err", err)
		return a.defaultRole
	}
	if set.DJRole != "" {
		return set.DJRole
	}
	return a.defaultRole
}
