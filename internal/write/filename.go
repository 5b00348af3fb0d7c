// Package write implements the final pipeline stage: rendering organized
// posts into the By-Domain / By-Entity markdown trees plus the batch
// manifest.
package write

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

const maxEventChars = 50

// SafeEvent renders the event summary as a path-safe filename component:
// every character outside [A-Za-z0-9_-] becomes an underscore and the
// result is truncated to 50 characters.
func SafeEvent(event string) string {
	runes := []rune(event)
	if len(runes) > maxEventChars {
		runes = runes[:maxEventChars]
	}
	out := make([]rune, len(runes))
	for i, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out[i] = r
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// LinkHash returns the first 6 hex characters of the MD5 of the link. It
// is the uniqueness suffix that keeps distinct links from colliding after
// event truncation.
func LinkHash(link string) string {
	if link == "" {
		return "nolink"
	}
	sum := md5.Sum([]byte(link))
	return hex.EncodeToString(sum[:])[:6]
}

// Filename renders the markdown filename for a post.
func Filename(event, date, link string) string {
	return fmt.Sprintf("%s_%s_%s.md", SafeEvent(event), date, LinkHash(link))
}
