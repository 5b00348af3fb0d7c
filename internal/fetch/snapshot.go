package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/datascout/scout/internal/model"
)

// WriteSnapshot dumps the normalized posts of one source as pretty JSON
// under dir, named <source_type>_<safe_name>.json.
func WriteSnapshot(dir string, typ model.SourceType, name string, posts []model.RawPost) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "fetch: create snapshot dir")
	}

	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return eris.Wrap(err, "fetch: marshal snapshot")
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", typ, SafeName(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "fetch: write snapshot")
	}
	return nil
}

// SafeName replaces every byte outside [A-Za-z0-9_-] with an underscore so
// a display name is always a valid single path element.
func SafeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
