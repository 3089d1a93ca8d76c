package watch

import (
	"context"
	"errors"
	"time"

	"cpwatch/internal/logging"
)

// Notifier is a pollable source of filesystem events.
type Notifier interface {
	Poll(ctx context.Context, timeout time.Duration) (Event, bool, error)
}

// DefaultPollInterval bounds each wait so cancellation is observed promptly.
const DefaultPollInterval = 500 * time.Millisecond

// removeGrace is how long a removed file may stay absent before it counts as
// deleted; atomic-save editors rename the old file away and create a new one.
const removeGrace = 200 * time.Millisecond

// WaitForChange blocks until n reports an event that s confirms as a real
// change. It returns false with a nil error when ctx ends, and ErrMissing
// (wrapped) when a watched file disappears.
func WaitForChange(ctx context.Context, n Notifier, s *Stamps, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		ev, ok, err := n.Poll(ctx, interval)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return false, err
			}
			// fsnotify errors (queue overflow and the like) are transient.
			logging.WatchError("Poll failed, continuing: %v", err)
			continue
		}
		if !ok {
			continue
		}

		if ev.Removed() {
			select {
			case <-ctx.Done():
				return false, nil
			case <-time.After(removeGrace):
			}
		}

		changed, err := s.Advance()
		if err != nil {
			if errors.Is(err, ErrMissing) {
				return false, err
			}
			logging.WatchError("Stat failed, continuing: %v", err)
			continue
		}
		if changed {
			logging.Watch("Change detected: %s", ev.Path)
			return true, nil
		}
		logging.WatchDebug("Duplicate event ignored: %s", ev.Path)
	}
}
