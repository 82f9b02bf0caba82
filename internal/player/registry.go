package player

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/sonroyaalmerol/guildtune/internal/observe"
)

// Registry maps guild IDs to their sessions for the life of the process.
// Its lock covers lookup and insertion only.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*GuildSession
	metrics  *observe.Metrics
}

func NewRegistry(m *observe.Metrics) *Registry {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{sessions: make(map[string]*GuildSession), metrics: m}
}

// GetOrCreate returns the guild's session, creating an idle one with an
// empty queue on first use.
func (r *Registry) GetOrCreate(guildID string) *GuildSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := newGuildSession(guildID)
	r.sessions[guildID] = s
	r.metrics.Sessions.Add(context.Background(), 1)
	return s
}

// Peek returns the guild's session or nil without creating one.
func (r *Registry) Peek(guildID string) *GuildSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// GuildIDs returns the guilds that have a session, in no particular order.
func (r *Registry) GuildIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Collect(maps.Keys(r.sessions))
}
