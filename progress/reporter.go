package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handle is one updatable status surface, usually a chat message the bot
// keeps editing in place. Key must be stable for the handle's lifetime.
type Handle interface {
	Update(ctx context.Context, text string) error
	Key() string
}

// RateLimitedError signals the destination refused an update and asked us
// to back off for RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// priorityMarkers are substrings whose presence makes an update important
// enough to bypass the edit throttle.
var priorityMarkers = []string{
	"Complete!", "Failed", "Error", "Cancelled", "Starting", "100%",
}

const maxUpdateAttempts = 3

// Reporter pushes status text to handles while respecting a per-handle
// minimum edit interval. Delivery is best effort: Report never returns an
// error, it drops the update and logs instead.
type Reporter struct {
	log      *logrus.Entry
	throttle time.Duration

	mu       sync.Mutex
	lastEdit map[string]time.Time
	lastText map[string]string
}

func NewReporter(log *logrus.Entry, throttle time.Duration) *Reporter {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	return &Reporter{
		log:      log,
		throttle: throttle,
		lastEdit: make(map[string]time.Time),
		lastText: make(map[string]string),
	}
}

func isPriority(text string) bool {
	for _, m := range priorityMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Report sends text to h. Duplicate text and updates inside the throttle
// window are silently dropped unless the text carries a priority marker.
func (r *Reporter) Report(ctx context.Context, h Handle, text string) {
	key := h.Key()
	now := time.Now()

	r.mu.Lock()
	if r.lastText[key] == text {
		r.mu.Unlock()
		return
	}
	if !isPriority(text) && now.Sub(r.lastEdit[key]) < r.throttle {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := h.Update(ctx, text)
		if err == nil {
			// Only a delivered update counts against the throttle and
			// dedupe state; a dropped one must stay retryable.
			r.mu.Lock()
			r.lastEdit[key] = time.Now()
			r.lastText[key] = text
			r.mu.Unlock()
			return
		}

		var rle *RateLimitedError
		if errors.As(err, &rle) && attempt < maxUpdateAttempts {
			select {
			case <-time.After(rle.RetryAfter):
				continue
			case <-ctx.Done():
				return
			}
		}
		if attempt < maxUpdateAttempts {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}
		r.log.WithError(err).WithField("key", key).Warn("progress update dropped")
	}
}

// Forget clears the throttle state for a finished handle.
func (r *Reporter) Forget(h Handle) {
	key := h.Key()
	r.mu.Lock()
	delete(r.lastEdit, key)
	delete(r.lastText, key)
	r.mu.Unlock()
}

// LogHandle is a Handle that writes updates to the log. API-submitted jobs
// with no chat message to edit use it.
type LogHandle struct {
	Log *logrus.Entry
	ID  string
}

func (l *LogHandle) Update(_ context.Context, text string) error {
	l.Log.WithField("job", l.ID).Info(text)
	return nil
}

func (l *LogHandle) Key() string { return "log_" + l.ID }
