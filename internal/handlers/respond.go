package handlers

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// response answers one interaction, either directly or by editing a deferred
// reply.
type response struct {
	s        *discordgo.Session
	i        *discordgo.InteractionCreate
	deferred bool
}

func flagsFor(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// deferReply acknowledges the interaction so slow work can follow.
func (r *response) deferReply(ephemeral bool) {
	if r.deferred {
		return
	}
	if err := r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flagsFor(ephemeral)},
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", r.i.GuildID, "err", err)
		return
	}
	r.deferred = true
}

func (r *response) text(content string, ephemeral bool) {
	r.send(&discordgo.InteractionResponseData{Content: content, Flags: flagsFor(ephemeral)})
}

func (r *response) embed(e *discordgo.MessageEmbed, ephemeral bool) {
	r.send(&discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{e},
		Flags:  flagsFor(ephemeral),
	})
}

func (r *response) send(data *discordgo.InteractionResponseData) {
	if r.deferred {
		edit := &discordgo.WebhookEdit{}
		if data.Content != "" {
			edit.Content = &data.Content
		}
		if len(data.Embeds) > 0 {
			edit.Embeds = &data.Embeds
		}
		if _, err := r.s.InteractionResponseEdit(r.i.Interaction, edit); err != nil {
			slog.Warn("edit reply failed", "guildID", r.i.GuildID, "err", err)
		}
		return
	}
	if err := r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		slog.Warn("reply failed", "guildID", r.i.GuildID, "err", err)
	}
}
