package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mortalpath/client/internal/world"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestFetchFullState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/state" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"year":    5,
			"month":   3,
			"avatars": []map[string]any{{"id": "a1", "name": "Li Wei", "x": 1, "y": 2}},
			"events":  []map[string]any{{"id": "e1", "text": "dawn"}},
		})
	})

	state, err := client.FetchFullState(context.Background())
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if state.Year != 5 || state.Month != 3 {
		t.Fatalf("unexpected time %d/%d", state.Year, state.Month)
	}
	if len(state.Avatars) != 1 || state.Avatars[0].ID != "a1" || *state.Avatars[0].Name != "Li Wei" {
		t.Fatalf("unexpected avatars %+v", state.Avatars)
	}
	if len(state.Events) != 1 || state.Events[0].ID != "e1" {
		t.Fatalf("unexpected events %+v", state.Events)
	}
}

func TestFetchEventPageQueryEncoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("avatar_id_1") != "a1" || q.Get("avatar_id_2") != "a2" {
			t.Errorf("unexpected pair filter: %v", q)
		}
		if q.Get("cursor") != "c9" || q.Get("limit") != "25" {
			t.Errorf("unexpected paging params: %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"events":      []map[string]any{{"id": "e1", "text": "x"}},
			"next_cursor": "c10",
			"has_more":    true,
		})
	})

	page, err := client.FetchEventPage(context.Background(), world.EventFilter{AvatarID1: "a1", AvatarID2: "a2"}, "c9", 25)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if page.NextCursor != "c10" || !page.HasMore || len(page.Events) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestListPhenomenaUnwrapsEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/meta/phenomena" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"phenomena": []map[string]any{{"id": 1, "name": "灵气潮汐"}},
		})
	})

	list, err := client.ListPhenomena(context.Background())
	if err != nil {
		t.Fatalf("list phenomena: %v", err)
	}
	if len(list) != 1 || list[0].ID != 1 || list[0].Name != "灵气潮汐" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestSetPhenomenonPostsID(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/control/set_phenomenon" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	if err := client.SetPhenomenon(context.Background(), 7); err != nil {
		t.Fatalf("set phenomenon: %v", err)
	}
	if got["id"] != float64(7) {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestSaveGameReturnsFilename(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/game/save" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "filename": "save_001.json"})
	})

	name, err := client.SaveGame(context.Background(), "")
	if err != nil {
		t.Fatalf("save game: %v", err)
	}
	if name != "save_001.json" {
		t.Fatalf("unexpected filename %q", name)
	}
}

func TestNon2xxIncludesBodySnippet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "world not initialized", http.StatusConflict)
	})

	_, err := client.FetchFullState(context.Background())
	if err == nil {
		t.Fatalf("expected error on 409")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "world not initialized") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
}

func TestContextCancellationPropagates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.FetchFullState(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
