package handlers

import (
	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/guildtune/internal/player"
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) str(name string) string {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionString {
		return v.StringValue()
	}
	return ""
}

func (o options) int(name string, def int) int {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionInteger {
		return int(v.IntValue())
	}
	return def
}

func (o options) bool(name string) bool {
	if v, ok := o[name]; ok && v.Type == discordgo.ApplicationCommandOptionBoolean {
		return v.BoolValue()
	}
	return false
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	return i.Member.User.ID
}

// callerOf describes who sent an interaction. voiceChannel looks up the
// member's current voice channel.
func callerOf(i *discordgo.InteractionCreate, voiceChannel func(guildID, userID string) string) player.Caller {
	c := player.Caller{
		UserID:        userIDOf(i),
		TextChannelID: i.ChannelID,
	}
	if i.Member != nil {
		c.RoleIDs = i.Member.Roles
		c.Permissions = i.Member.Permissions
	}
	if c.UserID != "" && voiceChannel != nil {
		c.VoiceChannelID = voiceChannel(i.GuildID, c.UserID)
	}
	return c
}
