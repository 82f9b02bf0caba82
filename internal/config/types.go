package config

import "time"

type Config struct {
	DiscordToken          string
	SpotifyClientID       string
	SpotifyClientSecret   string
	DataDir               string
	BotStatus             string // online/dnd/idle/invisible
	BotActivity           string
	EnableSponsorBlock    bool
	SponsorBlockTimeout   time.Duration // backoff after SponsorBlock outages
	RegisterCommandsOnBot bool
	YouTubePOToken        string
	YouTubeCookiesPath    string
	FFmpegPath            string
	DJRole                string

	StopTimeout        time.Duration
	HTTPAddr           string
	ResolveRate        float64 // yt-dlp invocations per second, 0 disables
	ResolveConcurrency int

	LogLevel  string
	LogFormat string

	FiltersFile string
	// Filters are extra ffmpeg filter presets read from FiltersFile, keyed by
	// name. They override built-in presets of the same name.
	Filters map[string]string
}

// filtersFile is the FILTERS_FILE layout.
type filtersFile struct {
	Filters []struct {
		Name  string `yaml:"name"`
		Chain string `yaml:"chain"`
	} `yaml:"filters"`
}
