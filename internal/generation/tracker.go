package generation

import (
	"sync"
	"time"
)

type entry struct {
	UserID    int64
	StartedAt time.Time
}

// Tracker records lessons with a generation in flight. One process only; a
// restart forgets every entry.
type Tracker struct {
	inflight sync.Map
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart claims lessonID for userID. It reports false when another
// generation already holds the lesson.
func (t *Tracker) TryStart(lessonID string, userID int64, now time.Time) bool {
	_, loaded := t.inflight.LoadOrStore(lessonID, entry{UserID: userID, StartedAt: now})
	return !loaded
}

// Finish releases lessonID and returns the user that claimed it.
func (t *Tracker) Finish(lessonID string) (int64, bool) {
	v, ok := t.inflight.LoadAndDelete(lessonID)
	if !ok {
		return 0, false
	}
	return v.(entry).UserID, true
}

func (t *Tracker) InFlight(lessonID string) bool {
	_, ok := t.inflight.Load(lessonID)
	return ok
}
