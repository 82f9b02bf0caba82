package resolve

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Matches 0:00, 12:34, 1:23:45.
var timestampRe = regexp.MustCompile(`(?:\d+:)+\d+`)

type chapter struct {
	Label  string
	Start  time.Duration
	Length time.Duration
}

// parseChapters reads a chapter list from a video description. A list only
// counts if it starts at 0:00; lines before that are ignored, as are lines
// with more than one timestamp. The last chapter runs to total.
func parseChapters(description string, total time.Duration) []chapter {
	var found []chapter
	for line := range strings.Lines(description) {
		line = strings.TrimSpace(line)
		matches := timestampRe.FindAllString(line, -1)
		if len(matches) != 1 {
			continue
		}
		ts := matches[0]
		start := parseTimestamp(ts)
		if len(found) == 0 && start != 0 {
			continue
		}
		_, label, _ := strings.Cut(line, ts)
		if label == "" {
			label, _, _ = strings.Cut(line, ts)
		}
		label = strings.Trim(label, " -:–—|>")
		if label == "" {
			label = "Chapter " + strconv.Itoa(len(found)+1)
		}
		found = append(found, chapter{Label: label, Start: start})
	}
	if len(found) < 2 {
		return nil
	}

	slices.SortStableFunc(found, func(a, b chapter) int { return cmp.Compare(a.Start, b.Start) })
	out := make([]chapter, 0, len(found))
	for i, ch := range found {
		end := total
		if i+1 < len(found) {
			end = found[i+1].Start
		}
		if end > ch.Start {
			ch.Length = end - ch.Start
			out = append(out, ch)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

func parseTimestamp(s string) time.Duration {
	total := 0
	for p := range strings.SplitSeq(s, ":") {
		n, _ := strconv.Atoi(p)
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
