package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mortalpath/client/internal/archive"
	"mortalpath/client/internal/coordinator"
	"mortalpath/client/internal/telemetry"
	"mortalpath/client/internal/world"
)

// debugState is the payload served by /debug/state.
type debugState struct {
	Year        int               `json:"year"`
	Month       int               `json:"month"`
	Loaded      bool              `json:"loaded"`
	Connected   bool              `json:"connected"`
	LastError   string            `json:"lastError,omitempty"`
	AvatarCount int               `json:"avatarCount"`
	EventCount  int               `json:"eventCount"`
	HasMore     bool              `json:"hasMore"`
	Loading     bool              `json:"loading"`
	Filter      world.EventFilter `json:"filter"`
	Phenomenon  *world.Phenomenon `json:"phenomenon,omitempty"`
	Metrics     map[string]uint64 `json:"metrics,omitempty"`
}

// newDebugRouter exposes the replica's observable state for operators. The
// archive routes are registered only when an archive is configured.
func newDebugRouter(sync *world.Synchronizer, coord *coordinator.Coordinator, counters *telemetry.Counters, store *archive.Store) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		year, month := sync.Time()
		_, hasMore, loading := sync.EventsPagination()
		payload := debugState{
			Year:        year,
			Month:       month,
			Loaded:      sync.Loaded(),
			Connected:   coord.Connected(),
			LastError:   coord.LastError(),
			AvatarCount: len(sync.AvatarList()),
			EventCount:  len(sync.Events()),
			HasMore:     hasMore,
			Loading:     loading,
			Filter:      sync.EventsFilter(),
			Phenomenon:  sync.CurrentPhenomenon(),
			Metrics:     counters.Snapshot(),
		}
		writeJSON(w, payload)
	})

	r.Get("/debug/events", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, sync.Events())
	})

	r.Get("/debug/avatars", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, sync.AvatarList())
	})

	if store != nil {
		r.Get("/debug/archive", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			events, err := store.Recent(limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, events)
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
