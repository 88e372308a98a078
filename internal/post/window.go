package post

import (
	"errors"
	"time"
)

// WindowSpan is the length of the rolling engagement window.
const WindowSpan = 24 * time.Hour

// EventKind identifies an engagement event applied to a post's window.
type EventKind string

// Engagement event kinds.
const (
	EventView    EventKind = "view"
	EventLike    EventKind = "like"
	EventComment EventKind = "comment"
	EventSave    EventKind = "save"
	EventShare   EventKind = "share"
)

// ErrUnknownEventKind is returned when an event kind is not recognized.
var ErrUnknownEventKind = errors.New("unknown engagement event kind")

// ValidEventKind reports whether kind is a recognized engagement event.
func ValidEventKind(kind EventKind) bool {
	switch kind {
	case EventView, EventLike, EventComment, EventSave, EventShare:
		return true
	}
	return false
}

// Window holds the rolling 24-hour engagement counters for a post.
// Counters only ever increase within a window; there is no decrement
// path (undo actions adjust lifetime counters elsewhere, never these).
type Window struct {
	Views     int64     `json:"views_24h"`
	Likes     int64     `json:"likes_24h"`
	Comments  int64     `json:"comments_24h"`
	Saves     int64     `json:"saves_24h"`
	Shares    int64     `json:"shares_24h"`
	StartedAt time.Time `json:"window_started_at"`
}

// Stale reports whether the window started a full span or more before now.
func (w *Window) Stale(now time.Time) bool {
	return now.Sub(w.StartedAt) >= WindowSpan
}

// Reset zeroes all counters and restarts the window at now.
func (w *Window) Reset(now time.Time) {
	*w = Window{StartedAt: now}
}

// Apply records one engagement event at now, lazily resetting the window
// first if it has gone stale. The reset happens before the increment, so
// the first event of a fresh window always leaves its counter at exactly 1.
func (w *Window) Apply(now time.Time, kind EventKind) error {
	if !ValidEventKind(kind) {
		return ErrUnknownEventKind
	}
	if w.Stale(now) {
		w.Reset(now)
	}
	if w.StartedAt.IsZero() {
		w.StartedAt = now
	}
	switch kind {
	case EventView:
		w.Views++
	case EventLike:
		w.Likes++
	case EventComment:
		w.Comments++
	case EventSave:
		w.Saves++
	case EventShare:
		w.Shares++
	}
	return nil
}

// Volume returns the total engagement volume in the current window.
func (w *Window) Volume() int64 {
	return w.Views + w.Likes + w.Comments + w.Saves + w.Shares
}

// ElapsedHours returns how long the window has been open at now, in
// fractional hours, with a floor of one hour so per-hour rate checks do
// not divide by a near-zero interval.
func (w *Window) ElapsedHours(now time.Time) float64 {
	if w.StartedAt.IsZero() {
		return 1
	}
	h := now.Sub(w.StartedAt).Hours()
	if h < 1 {
		return 1
	}
	return h
}
