package player

import (
	"maps"
	"slices"
)

// Filter is an ffmpeg audio filter chain selected by name. An empty Chain
// plays the source unmodified.
type Filter struct {
	Name  string
	Chain string
}

// FilterSet maps preset names to ffmpeg -af chains.
type FilterSet map[string]string

func DefaultFilters() FilterSet {
	return FilterSet{
		"bass":      "bass=g=20",
		"treble":    "treble=g=5",
		"nightcore": "asetrate=48000*1.25,aresample=48000",
		"vaporwave": "asetrate=48000*0.8,aresample=48000",
		"echo":      "aecho=0.8:0.9:1000:0.3",
		"clear":     "",
	}
}

// With returns a copy of fs with extra merged over it.
func (fs FilterSet) With(extra map[string]string) FilterSet {
	out := maps.Clone(fs)
	if out == nil {
		out = FilterSet{}
	}
	maps.Copy(out, extra)
	return out
}

func (fs FilterSet) Lookup(name string) (Filter, bool) {
	chain, ok := fs[name]
	if !ok {
		return Filter{}, false
	}
	return Filter{Name: name, Chain: chain}, true
}

// Names returns the preset names in sorted order.
func (fs FilterSet) Names() []string {
	return slices.Sorted(maps.Keys(fs))
}
