package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

// getduration accepts Go durations ("2s") and bare integers in unit.
func getduration(key string, def, unit time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// LoadConfig reads .env (if present) and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	var errs []error
	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		SpotifyClientID:       os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:   os.Getenv("SPOTIFY_CLIENT_SECRET"),
		DataDir:               getenv("DATA_DIR", "./data"),
		BotStatus:             getenv("BOT_STATUS", "online"),
		BotActivity:           getenv("BOT_ACTIVITY", "music"),
		EnableSponsorBlock:    getbool("ENABLE_SPONSORBLOCK", false),
		RegisterCommandsOnBot: getbool("REGISTER_COMMANDS_ON_BOT", false),
		YouTubePOToken:        os.Getenv("YOUTUBE_PO_TOKEN"),
		YouTubeCookiesPath:    os.Getenv("YOUTUBE_COOKIES_PATH"),
		FFmpegPath:            getenv("FFMPEG_PATH", "ffmpeg"),
		DJRole:                getenv("DJ_ROLE", "DJ"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		LogLevel:              strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getenv("LOG_FORMAT", "text")),
		FiltersFile:           os.Getenv("FILTERS_FILE"),
	}

	var err error
	// SPONSORBLOCK_TIMEOUT has always been given in minutes.
	if cfg.SponsorBlockTimeout, err = getduration("SPONSORBLOCK_TIMEOUT", 5*time.Minute, time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.StopTimeout, err = getduration("STOP_TIMEOUT", 2*time.Second, time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.ResolveRate, err = strconv.ParseFloat(getenv("RESOLVE_RATE", "2"), 64); err != nil {
		errs = append(errs, fmt.Errorf("RESOLVE_RATE: %w", err))
	}
	if cfg.ResolveConcurrency, err = strconv.Atoi(getenv("RESOLVE_CONCURRENCY", "4")); err != nil {
		errs = append(errs, fmt.Errorf("RESOLVE_CONCURRENCY: %w", err))
	}

	if cfg.FiltersFile != "" {
		if cfg.Filters, err = loadFilters(cfg.FiltersFile); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(append(errs, Validate(cfg))...); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// Validate returns every problem found in cfg, joined.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.DiscordToken == "" {
		errs = append(errs, ErrConfig("DISCORD_TOKEN required"))
	}
	if (cfg.SpotifyClientID == "") != (cfg.SpotifyClientSecret == "") {
		errs = append(errs, ErrConfig("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set together"))
	}
	switch cfg.BotStatus {
	case "online", "dnd", "idle", "invisible":
	default:
		errs = append(errs, ErrConfig(fmt.Sprintf("BOT_STATUS %q is invalid; valid values: online, dnd, idle, invisible", cfg.BotStatus)))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrConfig(fmt.Sprintf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel)))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, ErrConfig(fmt.Sprintf("LOG_FORMAT %q is invalid; valid values: text, json", cfg.LogFormat)))
	}
	if cfg.StopTimeout <= 0 {
		errs = append(errs, ErrConfig("STOP_TIMEOUT must be positive"))
	}
	if cfg.ResolveRate < 0 {
		errs = append(errs, ErrConfig("RESOLVE_RATE must not be negative"))
	}
	if cfg.ResolveConcurrency < 1 {
		errs = append(errs, ErrConfig("RESOLVE_CONCURRENCY must be at least 1"))
	}
	return errors.Join(errs...)
}

func loadFilters(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	m, err := LoadFiltersFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return m, nil
}

// LoadFiltersFromReader decodes a filters document:
//
//	filters:
//	  - name: lofi
//	    chain: lowpass=f=3000,aecho=0.8:0.7:40:0.3
func LoadFiltersFromReader(r io.Reader) (map[string]string, error) {
	var doc filtersFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := make(map[string]string, len(doc.Filters))
	var errs []error
	for i, fl := range doc.Filters {
		name := strings.ToLower(strings.TrimSpace(fl.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("filters[%d].name is required", i))
			continue
		}
		if _, dup := out[name]; dup {
			errs = append(errs, fmt.Errorf("filters[%d].name %q is a duplicate", i, name))
			continue
		}
		out[name] = strings.TrimSpace(fl.Chain)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
