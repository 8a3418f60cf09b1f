package contentid

import (
	"path/filepath"
	"strings"
)

// InferTrackMeta guesses title, artist and album from a file name shaped like
// "Artist - Title.ext". Album cannot be inferred and is always empty.
func InferTrackMeta(filePath string) (title, artist, album string) {
	base := filepath.Base(filePath)
	stem := base
	if idx := strings.LastIndex(base, "."); idx > 0 {
		stem = base[:idx]
	}
	stem = strings.TrimSpace(stem)

	parts := strings.Split(stem, " - ")
	if len(parts) >= 2 {
		a := strings.TrimSpace(parts[0])
		t := strings.TrimSpace(strings.Join(parts[1:], " - "))
		if a != "" && t != "" {
			return t, a, ""
		}
	}

	if stem == "" {
		stem = "Unknown Track"
	}
	return stem, "Unknown Artist", ""
}
