// Package export stores artifacts produced by non-preview runs.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds the artifact name for fn: the sanitized function name,
// a UTC timestamp and a short random suffix so that exports in the same
// second do not collide.
func FileName(fn, ext string, at time.Time) string {
	base := strings.Trim(unsafeChars.ReplaceAllString(fn, "-"), "-")
	if base == "" {
		base = "export"
	}
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	name := fmt.Sprintf("%s-%s-%s", base, at.UTC().Format("20060102-150405"), suffix)
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return name
}

// Dir writes artifacts into a local directory.
type Dir struct {
	path string
	now  func() time.Time
}

// NewDir returns a sink writing into path, creating it if necessary.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Dir{path: path, now: time.Now}, nil
}

// Save writes out and returns the file path.
func (d *Dir) Save(ctx context.Context, fn string, out engine.Output) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(d.path, FileName(fn, out.Extension, d.now()))
	if err := os.WriteFile(target, out.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}
