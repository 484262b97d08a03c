package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRoot is the artifact root used when none is configured.
const DefaultRoot = "target/test-artifacts"

// TimestampLayout renders capture times in file names.
const TimestampLayout = "2006-01-02_15-04-05.000000000"

const maxNameLen = 80

// Layout maps artifact kinds to directories under a fixed root.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root, or DefaultRoot when empty.
func NewLayout(root string) Layout {
	if strings.TrimSpace(root) == "" {
		root = DefaultRoot
	}
	return Layout{Root: root}
}

// Dir returns the directory holding artifacts of kind.
func (l Layout) Dir(kind Kind) string {
	return filepath.Join(l.Root, kind.dir())
}

// Ensure creates the root and every kind directory.
func (l Layout) Ensure() error {
	for _, kind := range Kinds() {
		if err := os.MkdirAll(l.Dir(kind), 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return nil
}

// Create opens a new, exclusively created file named
// <unit>-<timestamp><ext>. A numeric suffix resolves collisions, so two
// captures never share a path.
func (l Layout) Create(kind Kind, unit string, ts time.Time) (*os.File, error) {
	dir := l.Dir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	base := SanitizeName(unit) + "-" + ts.Format(TimestampLayout)
	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		f, err := os.OpenFile(filepath.Join(dir, name+kind.Ext()), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create artifact: %w", err)
		}
	}
}

// Reserve creates an empty file and returns its path, for writers that
// insist on opening the path themselves.
func (l Layout) Reserve(kind Kind, unit string, ts time.Time) (string, error) {
	f, err := l.Create(kind, unit, ts)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Write persists data as a new artifact file and returns its path.
func (l Layout) Write(kind Kind, unit string, ts time.Time, data []byte) (string, error) {
	f, err := l.Create(kind, unit, ts)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}

// Move relocates src into a new artifact file, copying when a rename
// crosses file systems.
func (l Layout) Move(kind Kind, unit string, ts time.Time, src string) (string, error) {
	dst, err := l.Reserve(kind, unit, ts)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("move artifact: %w", err)
	}
	_ = os.Remove(src)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SanitizeName makes a unit name safe for use in a file name.
func SanitizeName(name string) string {
	out := strings.Builder{}
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
		if out.Len() >= maxNameLen {
			break
		}
	}
	s := strings.Trim(out.String(), ".")
	if s == "" {
		return "unit"
	}
	return s
}
