package httpcore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Archiver writes successful response bodies to disk. Verifiers read
// these files back out, so the naming convention is a compatibility
// contract, not a style choice.
type Archiver struct {
	rawDir string
}

// NewArchiver builds an Archiver rooted at rawDir, creating it if absent.
func NewArchiver(rawDir string) (*Archiver, error) {
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir %s: %w", rawDir, err)
	}
	return &Archiver{rawDir: rawDir}, nil
}

// Save writes body to
// {raw_dir}/{endpointName}_{identifier}_{YYYYMMDD_HHMMSS}.{ext} and
// returns the path written.
func (a *Archiver) Save(endpointName, identifier, ext string, body []byte) (string, error) {
	ts := time.Now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s.%s", sanitizeComponent(endpointName), sanitizeComponent(identifier), ts, ext)
	path := filepath.Join(a.rawDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write raw archive %s: %w", path, err)
	}
	return path, nil
}

// sanitizeComponent strips path separators from a name component so a
// malicious or malformed identifier can't escape rawDir.
func sanitizeComponent(s string) string {
	return filepath.Base(filepath.Clean(s))
}
