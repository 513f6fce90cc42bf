package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord user has the DJ role before
// executing destructive commands such as stop, clear and disconnect.
type PermissionChecker struct {
	djRoleID string
}

// NewPermissionChecker creates a PermissionChecker with the given DJ role ID.
func NewPermissionChecker(djRoleID string) *PermissionChecker {
	return &PermissionChecker{djRoleID: djRoleID}
}

// IsDJ checks whether the interaction author has the configured DJ role.
// If djRoleID is empty, every member counts as a DJ. Members with the
// Manage Server permission always do. Returns false if the interaction has
// no Member (e.g., direct message interactions).
func (p *PermissionChecker) IsDJ(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return p.djRoleID == "" && i.GuildID != ""
	}
	if p.djRoleID == "" {
		return true
	}
	if i.Member.Permissions&discordgo.PermissionManageGuild != 0 {
		return true
	}
	return slices.Contains(i.Member.Roles, p.djRoleID)
}
