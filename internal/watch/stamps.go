package watch

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Stamps records the last-known modification time of each path.
type Stamps struct {
	paths   []string
	last    map[string]time.Time
	changed []string
}

// NewStamps records the current modification times of paths.
func NewStamps(paths ...string) (*Stamps, error) {
	s := &Stamps{paths: append([]string(nil), paths...), last: make(map[string]time.Time, len(paths))}
	for _, p := range paths {
		mt, err := modTime(p)
		if err != nil {
			return nil, err
		}
		s.last[p] = mt
	}
	return s, nil
}

// Advance re-reads every path and reports whether at least one modification
// time is strictly newer than recorded. Newer times are recorded. A path that
// no longer exists yields ErrMissing.
func (s *Stamps) Advance() (bool, error) {
	s.changed = s.changed[:0]
	for _, p := range s.paths {
		mt, err := modTime(p)
		if err != nil {
			return false, err
		}
		if mt.After(s.last[p]) {
			s.last[p] = mt
			s.changed = append(s.changed, p)
		}
	}
	return len(s.changed) > 0, nil
}

// Changed returns the paths that advanced in the last call to Advance.
func (s *Stamps) Changed() []string {
	return append([]string(nil), s.changed...)
}

// Last returns the recorded modification time for path.
func (s *Stamps) Last(path string) time.Time {
	return s.last[path]
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}
