package handlers

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/ui"
)

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// channelNotifier posts playback events to the text channel the last command
// came from.
type channelNotifier struct {
	send embedSender
}

func (n channelNotifier) NowPlaying(guildID, textChannelID string, t player.Track) {
	n.post(guildID, textChannelID, ui.AnnounceEmbed(t))
}

func (n channelNotifier) PlaybackError(guildID, textChannelID string, t player.Track, err error) {
	n.post(guildID, textChannelID, ui.PlaybackErrorEmbed(t, err))
}

func (n channelNotifier) QueueFinished(guildID, textChannelID string) {
	n.post(guildID, textChannelID, ui.InfoEmbed("Queue finished", "Add more with `/play`."))
}

func (n channelNotifier) post(guildID, channelID string, e *discordgo.MessageEmbed) {
	if channelID == "" {
		return
	}
	if _, err := n.send.ChannelMessageSendEmbed(channelID, e); err != nil {
		slog.Warn("post notification", "guildID", guildID, "channelID", channelID, "err", err)
	}
}
