package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorError   = 0x992222
	colorInfo    = 0x2F3136

	barWidth = 10
	// Discord rejects embed titles over 256 characters.
	maxTitle = 200
)

var ErrPageOutOfRange = errors.New("the queue isn't that big")

func trackLink(t player.Track) string {
	title := utils.EscapeMd(utils.Truncate(t.Title, maxTitle))
	if t.Source.PageURL == "" {
		return title
	}
	link := t.Source.PageURL
	if t.Source.Start > 0 && t.Source.VideoID != "" {
		link += fmt.Sprintf("&t=%d", int(t.Source.Start.Seconds()))
	}
	return fmt.Sprintf("[%s](%s)", title, link)
}

func trackLength(t player.Track) string {
	if t.Source.IsLive {
		return "live"
	}
	return utils.PrettyTime(t.Duration)
}

func requester(t player.Track) string {
	if t.RequestedBy == "" {
		return ""
	}
	return fmt.Sprintf("\nRequested by: <@%s>", t.RequestedBy)
}

func withThumbnail(e *discordgo.MessageEmbed, t player.Track) *discordgo.MessageEmbed {
	if t.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return e
}

func progressLine(snap player.Snapshot) string {
	cur := snap.Current
	button := "▶️"
	if snap.Status == player.StatusPaused {
		button = "⏸️"
	}
	if cur.Source.IsLive {
		return fmt.Sprintf("%s %s `[ live ]`", button, ProgressBar(barWidth, 0))
	}
	progress := 0.0
	if cur.Duration > 0 {
		progress = float64(snap.Position) / float64(cur.Duration)
	}
	return fmt.Sprintf("%s %s `[ %s/%s ]`", button, ProgressBar(barWidth, progress),
		utils.PrettyTime(snap.Position), utils.PrettyTime(cur.Duration))
}

func statusFlags(snap player.Snapshot) string {
	var flags []string
	if snap.Loop {
		flags = append(flags, "🔁")
	}
	if snap.Filter != "" {
		flags = append(flags, "filter: `"+snap.Filter+"`")
	}
	flags = append(flags, fmt.Sprintf("🔊 %d%%", int(snap.Volume*100+0.5)))
	return strings.Join(flags, " · ")
}

// PlayingEmbed renders the current track of snap.
func PlayingEmbed(snap player.Snapshot) *discordgo.MessageEmbed {
	cur := snap.Current
	if cur == nil {
		return ErrorEmbed("Nothing Playing", "No track is playing right now.")
	}
	title, color := "Now Playing", colorPlaying
	if snap.Status == player.StatusPaused {
		title, color = "Paused", colorPaused
	}
	e := &discordgo.MessageEmbed{
		Title: title,
		Description: fmt.Sprintf("**%s**%s\n\n%s\n%s",
			trackLink(*cur), requester(*cur), progressLine(snap), statusFlags(snap)),
		Color: color,
	}
	if cur.Artist != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: "Source: " + cur.Artist}
	}
	return withThumbnail(e, *cur)
}

// QueueEmbed renders one page of the pending queue. Pages start at 1.
func QueueEmbed(snap player.Snapshot, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if snap.Current == nil && len(snap.Queue) == 0 {
		return nil, player.ErrEmptyQueue
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	maxPage := max((len(snap.Queue)+pageSize-1)/pageSize, 1)
	if page < 1 || page > maxPage {
		return nil, ErrPageOutOfRange
	}

	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "**%s**%s\n%s\n\n", trackLink(*snap.Current), requester(*snap.Current), progressLine(snap))
	}
	begin := (page - 1) * pageSize
	items := lo.Slice(snap.Queue, begin, begin+pageSize)
	if len(items) > 0 {
		b.WriteString("**Up next:**\n")
		for i, t := range items {
			fmt.Fprintf(&b, "`%d.` %s `[ %s ]`\n", begin+i+1, trackLink(t), trackLength(t))
		}
	}

	total := lo.SumBy(snap.Queue, func(t player.Track) time.Duration { return t.Duration })
	e := &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: countTracks(len(snap.Queue)), Inline: true},
			{Name: "Total length", Value: lo.Ternary(total > 0, utils.PrettyTime(total), "-"), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: statusFlags(snap)},
	}
	if snap.Current != nil {
		withThumbnail(e, *snap.Current)
	}
	return e, nil
}

func countTracks(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 track"
	}
	return fmt.Sprintf("%d tracks", n)
}

// EnqueuedEmbed confirms what a play command added.
func EnqueuedEmbed(res player.EnqueueResult) *discordgo.MessageEmbed {
	if len(res.Added) == 0 {
		return ErrorEmbed("Nothing added", "No playable tracks were found.")
	}
	first := res.Added[0]
	e := &discordgo.MessageEmbed{Color: colorInfo}
	switch {
	case res.Started != nil && len(res.Added) == 1:
		e.Title = "Now Playing"
		e.Description = fmt.Sprintf("**%s** `[ %s ]`", trackLink(*res.Started), trackLength(*res.Started))
		return withThumbnail(e, *res.Started)
	case len(res.Added) == 1:
		e.Title = "Queued"
		e.Description = fmt.Sprintf("**%s** `[ %s ]`\nPosition in queue: %d", trackLink(first), trackLength(first), res.Position)
		return withThumbnail(e, first)
	}
	e.Title = "Playlist queued"
	e.Description = fmt.Sprintf("Added %s, starting with **%s**.", countTracks(len(res.Added)), trackLink(first))
	if res.Started != nil {
		e.Description += fmt.Sprintf("\nNow playing **%s**.", trackLink(*res.Started))
	}
	return withThumbnail(e, first)
}

// AnnounceEmbed is posted to the text channel when a track starts on its own.
func AnnounceEmbed(t player.Track) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: fmt.Sprintf("**%s** `[ %s ]`%s", trackLink(t), trackLength(t), requester(t)),
		Color:       colorPlaying,
	}
	return withThumbnail(e, t)
}

func PlaybackErrorEmbed(t player.Track, err error) *discordgo.MessageEmbed {
	return ErrorEmbed("Playback failed",
		fmt.Sprintf("Could not play **%s**: %s", trackLink(t), utils.Truncate(err.Error(), 300)))
}

func ErrorEmbed(title, desc string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: desc, Color: colorError}
}

func InfoEmbed(title, desc string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: desc, Color: colorInfo}
}
