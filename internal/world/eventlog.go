package world

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxEvents caps the event log; merges evict the oldest records by the total
// order once the cap is exceeded.
const MaxEvents = 300

// NormalizeEvents converts raw wire records into GameEvents. Missing
// year/month fall back to the current world time, the time rank prefers the
// server month stamp, and each record receives its ingestion-order sequence
// within the batch. Records without a server id get a locally generated one
// so deduplication still has a key.
func NormalizeEvents(raw []RawEvent, year, month int) []GameEvent {
	if len(raw) == 0 {
		return nil
	}
	events := make([]GameEvent, 0, len(raw))
	for i, r := range raw {
		ev := GameEvent{
			ID:               r.ID,
			Text:             r.Text,
			Content:          r.Content,
			Year:             year,
			Month:            month,
			Seq:              i,
			RelatedAvatarIDs: r.RelatedAvatarIDs,
			IsMajor:          r.IsMajor,
			IsStory:          r.IsStory,
		}
		if r.Year != nil {
			ev.Year = *r.Year
		}
		if r.Month != nil {
			ev.Month = *r.Month
		}
		if r.MonthStamp != nil {
			ev.TimeRank = *r.MonthStamp
		} else {
			ev.TimeRank = ev.Year*12 + ev.Month
		}
		if ev.Text == "" {
			ev.Text = ev.Content
		}
		if ev.ID == "" {
			ev.ID = "local-" + uuid.NewString()
		}
		if r.CreatedAt != "" {
			if ts, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
				ev.CreatedAt = ts
			}
		}
		events = append(events, ev)
	}
	return events
}

// compareEvents implements the log's total order, ascending (oldest first):
// server timestamps when both records carry one, then time rank, then
// ingestion sequence with absent (-1) sorting first.
func compareEvents(a, b GameEvent) int {
	if !a.CreatedAt.IsZero() && !b.CreatedAt.IsZero() {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		if b.CreatedAt.Before(a.CreatedAt) {
			return 1
		}
	}
	if a.TimeRank != b.TimeRank {
		if a.TimeRank < b.TimeRank {
			return -1
		}
		return 1
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return 0
}

// EventLog is the ordered, deduplicated, capacity-bounded record sequence.
type EventLog struct {
	entries []GameEvent
	index   map[string]struct{}
	cap     int
}

// NewEventLog constructs an empty log with the default capacity.
func NewEventLog() *EventLog {
	return NewEventLogWithCap(MaxEvents)
}

// NewEventLogWithCap constructs an empty log with an explicit capacity,
// used by tests exercising eviction.
func NewEventLogWithCap(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = MaxEvents
	}
	return &EventLog{
		entries: make([]GameEvent, 0),
		index:   make(map[string]struct{}),
		cap:     capacity,
	}
}

// Merge appends the batch records whose ids are new, re-sorts under the
// total order, and evicts the oldest overflow. Reports whether the log
// changed. Because the order is ascending, eviction keeps the trailing
// window.
func (l *EventLog) Merge(batch []GameEvent) bool {
	if l == nil || len(batch) == 0 {
		return false
	}
	changed := false
	for _, ev := range batch {
		if _, dup := l.index[ev.ID]; dup {
			continue
		}
		l.entries = append(l.entries, ev)
		l.index[ev.ID] = struct{}{}
		changed = true
	}
	if !changed {
		return false
	}
	sort.SliceStable(l.entries, func(i, j int) bool {
		return compareEvents(l.entries[i], l.entries[j]) < 0
	})
	l.evictOverflow()
	return true
}

// Prepend inserts already-ascending older history at the front of the log,
// skipping ids that are already present. Used when paging backwards; the
// page arrives newest-first and must be reversed by the caller first.
func (l *EventLog) Prepend(batch []GameEvent) {
	if l == nil || len(batch) == 0 {
		return
	}
	fresh := make([]GameEvent, 0, len(batch))
	for _, ev := range batch {
		if _, dup := l.index[ev.ID]; dup {
			continue
		}
		fresh = append(fresh, ev)
		l.index[ev.ID] = struct{}{}
	}
	if len(fresh) == 0 {
		return
	}
	l.entries = append(fresh, l.entries...)
	l.evictOverflow()
}

// Replace swaps the log contents wholesale for a fresh filter load.
func (l *EventLog) Replace(batch []GameEvent) {
	if l == nil {
		return
	}
	l.entries = l.entries[:0]
	l.index = make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		if _, dup := l.index[ev.ID]; dup {
			continue
		}
		l.entries = append(l.entries, ev)
		l.index[ev.ID] = struct{}{}
	}
	l.evictOverflow()
}

func (l *EventLog) evictOverflow() {
	if len(l.entries) <= l.cap {
		return
	}
	overflow := len(l.entries) - l.cap
	for _, ev := range l.entries[:overflow] {
		delete(l.index, ev.ID)
	}
	l.entries = append([]GameEvent(nil), l.entries[overflow:]...)
}

// Contains reports whether an id is present.
func (l *EventLog) Contains(id string) bool {
	if l == nil {
		return false
	}
	_, ok := l.index[id]
	return ok
}

// Len reports the number of stored records.
func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// List returns a copy of the log in ascending order.
func (l *EventLog) List() []GameEvent {
	if l == nil || len(l.entries) == 0 {
		return nil
	}
	out := make([]GameEvent, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear empties the log.
func (l *EventLog) Clear() {
	if l == nil {
		return
	}
	l.entries = l.entries[:0]
	l.index = make(map[string]struct{})
}

// ReverseEvents flips a newest-first pull page into ascending order in
// place and returns the slice for chaining.
func ReverseEvents(events []GameEvent) []GameEvent {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}
