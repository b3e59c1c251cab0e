package world

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"mortalpath/client/internal/seq"
	"mortalpath/client/internal/telemetry"
)

// Operation families used with the request sequencer. A completion for a
// family commits only while its ticket is still the latest issued one.
const (
	familyState  = "state"
	familyEvents = "events"
)

const defaultEventPageSize = 50

// Metric keys reported by the synchronizer.
const (
	metricStaleStateDrops = "sync_stale_state_drops"
	metricStaleEventDrops = "sync_stale_event_drops"
	metricFilteredEvents  = "sync_filtered_events"
	metricDeathRemovals   = "sync_death_removals"
	metricDroppedDeltas   = "sync_deltas_before_snapshot"
)

// StateFetcher pulls the authoritative full-state snapshot.
type StateFetcher interface {
	FetchFullState(ctx context.Context) (*FullState, error)
}

// MapFetcher pulls the bulk map payload.
type MapFetcher interface {
	FetchMap(ctx context.Context) (*MapData, error)
}

// EventPager pulls one page of historical events, newest-first.
type EventPager interface {
	FetchEventPage(ctx context.Context, filter EventFilter, cursor string, limit int) (*EventPage, error)
}

// PhenomenonClient lists the known phenomena and asks the server to switch
// the active one.
type PhenomenonClient interface {
	ListPhenomena(ctx context.Context) ([]Phenomenon, error)
	SetPhenomenon(ctx context.Context, id int) error
}

// EventSink receives every normalized event that enters the log, letting an
// archive retain history beyond the in-memory cap. Sink errors are logged
// and never block synchronization.
type EventSink interface {
	Record(events []GameEvent) error
}

// SynchronizerConfig carries the collaborators and tuning knobs for a
// Synchronizer. State, Maps, and Events are required; the rest are optional.
type SynchronizerConfig struct {
	State     StateFetcher
	Maps      MapFetcher
	Events    EventPager
	Phenomena PhenomenonClient
	Sink      EventSink
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	PageSize  int
	EventCap  int
}

// Synchronizer owns the local replica: avatar table, event log, map
// snapshot, current phenomenon, and the pagination state of the log. It is
// the sole writer of all of them; observers read through accessor copies.
type Synchronizer struct {
	mu sync.Mutex

	state     StateFetcher
	maps      MapFetcher
	events    EventPager
	phenomena PhenomenonClient
	sink      EventSink
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	pageSize  int

	seq *seq.Sequencer

	year  int
	month int

	table *Table
	log   *EventLog

	mapTiles       MapMatrix
	regions        map[string]Region
	frontendConfig map[string]any

	currentPhenomenon *Phenomenon
	phenomenaCache    []Phenomenon

	loaded bool

	filter        EventFilter
	cursor        string
	hasMore       bool
	loadingEvents bool
}

// NewSynchronizer constructs a synchronizer with an empty replica.
func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultEventPageSize
	}
	eventCap := cfg.EventCap
	if eventCap <= 0 {
		eventCap = MaxEvents
	}
	return &Synchronizer{
		state:     cfg.State,
		maps:      cfg.Maps,
		events:    cfg.Events,
		phenomena: cfg.Phenomena,
		sink:      cfg.Sink,
		logger:    logger,
		metrics:   metrics,
		pageSize:  pageSize,
		seq:       seq.New(),
		table:     NewTable(),
		log:       NewEventLogWithCap(eventCap),
		regions:   make(map[string]Region),
	}
}

// Initialize fetches the full state (and the map, when it is not loaded
// yet), applies the snapshot, and starts a fresh unfiltered event page load.
// Failures are logged, never returned to the caller as state changes;
// partial success is acceptable and leaves the replica unloaded until a
// state fetch succeeds.
func (s *Synchronizer) Initialize(ctx context.Context) {
	s.mu.Lock()
	needMap := len(s.mapTiles) == 0
	s.mu.Unlock()

	var wg sync.WaitGroup
	if needMap {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.PreloadMap(ctx)
		}()
	}

	s.FetchState(ctx)
	wg.Wait()

	if err := s.LoadEvents(ctx, EventFilter{}, false); err != nil {
		s.logger.Printf("initialize: event load failed: %v", err)
	}
}

// FetchState pulls the authoritative snapshot and applies it, unless a
// newer state fetch was issued while this one was in flight.
func (s *Synchronizer) FetchState(ctx context.Context) {
	ticket := s.seq.Issue(familyState)

	full, err := s.state.FetchFullState(ctx)
	if err != nil {
		s.logger.Printf("state fetch failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.IsLatest(familyState, ticket) {
		s.metrics.Add(metricStaleStateDrops, 1)
		return
	}
	s.applySnapshotLocked(full)
}

// ApplySnapshot replaces the replica with authoritative truth: time is set,
// the avatar table is replaced wholesale, the event log and cursor/filter
// state are cleared, and the loaded flag is raised. This is a replacement,
// not a merge.
func (s *Synchronizer) ApplySnapshot(full *FullState) {
	if full == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(full)
}

func (s *Synchronizer) applySnapshotLocked(full *FullState) {
	s.year = full.Year
	s.month = full.Month
	s.table.Replace(full.Avatars)

	s.log.Clear()
	s.filter = EventFilter{}
	s.cursor = ""
	s.hasMore = false
	s.loadingEvents = false
	if len(full.Events) > 0 {
		batch := NormalizeEvents(full.Events, full.Year, full.Month)
		s.log.Merge(batch)
		s.recordLocked(batch)
	}

	s.currentPhenomenon = clonePhenomenon(full.Phenomenon)
	s.loaded = true
}

// HandleDelta folds a push tick into the replica. Deltas arriving before
// the first snapshot are dropped, never queued. Death-marking events remove
// their related avatars before the generic merge step so a death record and
// a position update for the same id in one delta cannot race.
func (s *Synchronizer) HandleDelta(payload DeltaPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.metrics.Add(metricDroppedDeltas, 1)
		return
	}

	s.year = payload.Year
	s.month = payload.Month

	batch := NormalizeEvents(payload.Events, payload.Year, payload.Month)

	for _, id := range DeadAvatarIDs(batch) {
		if s.table.Remove(id) {
			s.metrics.Add(metricDeathRemovals, 1)
		}
	}

	s.table.Merge(payload.Avatars)

	if len(batch) > 0 {
		kept := batch
		if !s.filter.IsZero() {
			kept = kept[:0:0]
			for _, ev := range batch {
				if s.filter.Matches(ev) {
					kept = append(kept, ev)
				} else {
					s.metrics.Add(metricFilteredEvents, 1)
				}
			}
		}
		s.log.Merge(kept)
		// The archive keeps everything; the filter is display-only.
		s.recordLocked(batch)
	}

	if len(payload.Phenomenon) > 0 {
		var phenomenon *Phenomenon
		if err := json.Unmarshal(payload.Phenomenon, &phenomenon); err != nil {
			s.logger.Printf("delta: malformed phenomenon payload: %v", err)
		} else {
			s.currentPhenomenon = phenomenon
		}
	}
}

// LoadEvents pulls one event page for the filter. With append=false the log
// is replaced wholesale; with append=true the (older) page is prepended.
// A call while another pull is in flight returns immediately without
// touching the collaborator. Stale completions are discarded.
func (s *Synchronizer) LoadEvents(ctx context.Context, filter EventFilter, append bool) error {
	s.mu.Lock()
	if s.loadingEvents {
		s.mu.Unlock()
		return nil
	}
	s.loadingEvents = true
	s.filter = filter
	cursor := ""
	if append {
		cursor = s.cursor
	}
	ticket := s.seq.Issue(familyEvents)
	s.mu.Unlock()

	return s.loadPage(ctx, filter, cursor, append, ticket)
}

// loadPage performs the fetch for an already-issued ticket and commits the
// page unless a newer events-family ticket superseded it meanwhile.
func (s *Synchronizer) loadPage(ctx context.Context, filter EventFilter, cursor string, appending bool, ticket uint64) error {
	page, err := s.events.FetchEventPage(ctx, filter, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seq.IsLatest(familyEvents, ticket) {
		// A newer load or filter reset superseded this one; its flags are
		// no longer ours to touch.
		s.metrics.Add(metricStaleEventDrops, 1)
		return nil
	}
	s.loadingEvents = false
	if err != nil {
		s.logger.Printf("event page load failed: %v", err)
		return nil
	}

	batch := ReverseEvents(NormalizeEvents(page.Events, s.year, s.month))
	// The server is expected to honor the filter, but a page that slips
	// through unfiltered must not pollute the filtered log.
	kept := batch
	if !s.filter.IsZero() {
		kept = kept[:0:0]
		for _, ev := range batch {
			if s.filter.Matches(ev) {
				kept = append(kept, ev)
			} else {
				s.metrics.Add(metricFilteredEvents, 1)
			}
		}
	}
	if appending {
		s.log.Prepend(kept)
	} else {
		s.log.Replace(kept)
	}
	s.recordLocked(batch)
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
	return nil
}

// LoadMoreEvents pages backwards through history under the active filter.
func (s *Synchronizer) LoadMoreEvents(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || s.loadingEvents {
		s.mu.Unlock()
		return nil
	}
	filter := s.filter
	s.mu.Unlock()
	return s.LoadEvents(ctx, filter, true)
}

// ResetEvents synchronously clears the log and its cursor state under the
// new filter before the fetch begins, so a delta arriving mid-fetch is
// filtered against the new filter and a late completion for the old filter
// cannot resurrect stale cursor state. The superseding ticket is issued in
// the same critical section, invalidating any in-flight load atomically
// with the clear.
func (s *Synchronizer) ResetEvents(ctx context.Context, filter EventFilter) error {
	s.mu.Lock()
	s.filter = filter
	s.cursor = ""
	s.hasMore = false
	s.loadingEvents = true
	s.log.Clear()
	ticket := s.seq.Issue(familyEvents)
	s.mu.Unlock()
	return s.loadPage(ctx, filter, "", false, ticket)
}

// PhenomenaList returns the cached list, fetching and caching it when
// empty. Concurrent first calls each fetch independently; the call is
// idempotent and cheap, so the redundant request is tolerated instead of a
// lock across the fetch.
func (s *Synchronizer) PhenomenaList(ctx context.Context) []Phenomenon {
	s.mu.Lock()
	if len(s.phenomenaCache) > 0 {
		cached := make([]Phenomenon, len(s.phenomenaCache))
		copy(cached, s.phenomenaCache)
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	if s.phenomena == nil {
		return nil
	}
	list, err := s.phenomena.ListPhenomena(ctx)
	if err != nil {
		s.logger.Printf("phenomena list fetch failed: %v", err)
		return nil
	}

	s.mu.Lock()
	s.phenomenaCache = list
	s.mu.Unlock()

	out := make([]Phenomenon, len(list))
	copy(out, list)
	return out
}

// ChangePhenomenon asks the server to switch the active phenomenon and, on
// success, optimistically sets the current one from the cached list when the
// id is known. Failures propagate; no optimistic update happens then.
func (s *Synchronizer) ChangePhenomenon(ctx context.Context, id int) error {
	if s.phenomena == nil {
		return fmt.Errorf("change phenomenon: no phenomenon client configured")
	}
	if err := s.phenomena.SetPhenomenon(ctx, id); err != nil {
		return fmt.Errorf("change phenomenon: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.phenomenaCache {
		if p.ID == id {
			chosen := p
			s.currentPhenomenon = &chosen
			break
		}
	}
	return nil
}

// PreloadMap fetches the map payload best-effort. It never raises the
// loaded flag; only a successful state snapshot does that.
func (s *Synchronizer) PreloadMap(ctx context.Context) {
	data, err := s.maps.FetchMap(ctx)
	if err != nil {
		s.logger.Printf("map preload failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapTiles = data.Tiles
	regions := make(map[string]Region, len(data.Regions))
	for _, r := range data.Regions {
		regions[r.ID] = r
	}
	s.regions = regions
	s.frontendConfig = data.Config
}

// PreloadAvatars fetches the state best-effort and applies only time and
// avatars, leaving the event log and loaded flag untouched.
func (s *Synchronizer) PreloadAvatars(ctx context.Context) {
	ticket := s.seq.Issue(familyState)
	full, err := s.state.FetchFullState(ctx)
	if err != nil {
		s.logger.Printf("avatar preload failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.IsLatest(familyState, ticket) {
		s.metrics.Add(metricStaleStateDrops, 1)
		return
	}
	s.year = full.Year
	s.month = full.Month
	s.table.Replace(full.Avatars)
}

// Reset returns the replica to its unloaded zero state.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.year = 0
	s.month = 0
	s.table.Clear()
	s.log.Clear()
	s.currentPhenomenon = nil
	s.loaded = false
	s.filter = EventFilter{}
	s.cursor = ""
	s.hasMore = false
	s.loadingEvents = false
}

func (s *Synchronizer) recordLocked(batch []GameEvent) {
	if s.sink == nil || len(batch) == 0 {
		return
	}
	if err := s.sink.Record(batch); err != nil {
		s.logger.Printf("event archive write failed: %v", err)
	}
}

func clonePhenomenon(p *Phenomenon) *Phenomenon {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// --- Read-only observable state ---

// Time returns the current simulation year and month.
func (s *Synchronizer) Time() (year, month int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.year, s.month
}

// Loaded reports whether an authoritative snapshot has been applied.
func (s *Synchronizer) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// AvatarList returns the avatars ordered by id.
func (s *Synchronizer) AvatarList() []Avatar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.List()
}

// Avatar returns a single avatar by id.
func (s *Synchronizer) Avatar(id string) (Avatar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Get(id)
}

// Events returns a copy of the event log in ascending order.
func (s *Synchronizer) Events() []GameEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.List()
}

// EventsPagination reports the cursor state of the log.
func (s *Synchronizer) EventsPagination() (cursor string, hasMore, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasMore, s.loadingEvents
}

// EventsFilter returns the active filter.
func (s *Synchronizer) EventsFilter() EventFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// CurrentPhenomenon returns a copy of the active phenomenon, nil when none.
func (s *Synchronizer) CurrentPhenomenon() *Phenomenon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePhenomenon(s.currentPhenomenon)
}

// MapTiles returns the stored tile matrix.
func (s *Synchronizer) MapTiles() MapMatrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapTiles
}

// Regions returns the stored region table keyed by id.
func (s *Synchronizer) Regions() map[string]Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Region, len(s.regions))
	for id, r := range s.regions {
		out[id] = r
	}
	return out
}

// FrontendConfig returns the free-form config blob from the map payload.
func (s *Synchronizer) FrontendConfig() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontendConfig
}
