package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const upSuffix = ".up.sql"

// ErrInvalidName is returned for a .up.sql file whose name does not start
// with a numeric version followed by an underscore.
var ErrInvalidName = errors.New("invalid migration filename")

// File is one forward migration on disk.
type File struct {
	Version     int64  `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
}

// ParseName extracts the version and description from
// "<digits>_<description>.up.sql". Names without the .up.sql suffix are
// reported with ok=false and no error; they are not migrations.
func ParseName(name string) (version int64, description string, ok bool, err error) {
	if !strings.HasSuffix(name, upSuffix) {
		return 0, "", false, nil
	}
	stem := strings.TrimSuffix(name, upSuffix)
	prefix, desc, found := strings.Cut(stem, "_")
	if !found || prefix == "" || !isDigits(prefix) {
		return 0, "", true, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, "", true, fmt.Errorf("%w: %s: %v", ErrInvalidName, name, err)
	}
	return v, desc, true, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Scan returns the forward migrations in dir ordered by numeric version.
// Lexical order is never used: 2 sorts before 10 regardless of padding.
func Scan(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	files := make([]File, 0, len(entries))
	seen := make(map[int64]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, desc, ok, err := ParseName(e.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", v, prev, e.Name())
		}
		seen[v] = e.Name()
		files = append(files, File{
			Version:     v,
			Description: desc,
			Name:        e.Name(),
			Path:        filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}
