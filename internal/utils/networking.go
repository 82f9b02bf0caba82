package utils

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
)

func RandomUserAgent() string {
	// Chrome majors from roughly the last six months.
	const minMajor = 132
	const maxMajor = 138

	major := rand.IntN(maxMajor-minMajor+1) + minMajor
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		major,
	)
}

var defaultHeaders = map[string]string{
	"Referer":         "https://www.youtube.com/",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Origin":          "https://www.youtube.com",
	"Connection":      "keep-alive",
}

// BuildFFmpegHeaders renders headers for ffmpeg's -headers option as
// CRLF-terminated "Key: Value" lines in key order. Missing browser defaults
// are filled in, including a User-Agent.
func BuildFFmpegHeaders(base map[string]string) string {
	h := make(map[string]string, len(base)+len(defaultHeaders)+1)
	for k, v := range base {
		k = http.CanonicalHeaderKey(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		h[k] = strings.TrimSpace(v)
	}
	for k, v := range defaultHeaders {
		if _, ok := h[k]; !ok {
			h[k] = v
		}
	}
	if _, ok := h["User-Agent"]; !ok {
		h["User-Agent"] = RandomUserAgent()
	}

	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(h)) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, h[k])
	}
	return b.String()
}
