// Package world maintains the local replica of the remote simulation: the
// avatar table, the chronological event log, the map snapshot, and the
// current phenomenon. The Synchronizer is the sole writer of all of them.
package world

import (
	"encoding/json"
	"time"
)

// Avatar is a mutable world entity keyed by its stable id.
type Avatar struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Action string `json:"action,omitempty"`
	Gender string `json:"gender,omitempty"`
	PicID  int    `json:"pic_id,omitempty"`
	Realm  string `json:"realm,omitempty"`
	Age    int    `json:"age,omitempty"`
	SectID int    `json:"sect_id,omitempty"`
	Alive  bool   `json:"is_alive"`
}

// AvatarUpdate carries the partial avatar fields present in a delta or
// snapshot record. Pointer fields distinguish "absent" from zero values so a
// tick that only moves an avatar does not blank its other attributes.
type AvatarUpdate struct {
	ID     string  `json:"id"`
	Name   *string `json:"name"`
	X      *int    `json:"x"`
	Y      *int    `json:"y"`
	Action *string `json:"action"`
	Gender *string `json:"gender"`
	PicID  *int    `json:"pic_id"`
	Realm  *string `json:"realm"`
	Age    *int    `json:"age"`
	SectID *int    `json:"sect_id"`
	Alive  *bool   `json:"is_alive"`
}

// GameEvent is an immutable, append-only log entry. TimeRank is the coarse
// ordering key (year*12+month); CreatedAt is the finer-grained tiebreaker
// present on server-sourced records; Seq is the ingestion-order tiebreaker
// within a batch, -1 when the record predates sequence assignment.
type GameEvent struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	Content          string    `json:"content,omitempty"`
	Year             int       `json:"year"`
	Month            int       `json:"month"`
	TimeRank         int       `json:"timeRank"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	Seq              int       `json:"-"`
	RelatedAvatarIDs []string  `json:"relatedAvatarIds"`
	IsMajor          bool      `json:"isMajor"`
	IsStory          bool      `json:"isStory"`
}

// RawEvent mirrors the wire shape of an event record from either a push
// delta or a paginated pull. Optional fields stay pointers so normalisation
// can fall back to the current world time.
type RawEvent struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Content          string   `json:"content"`
	Year             *int     `json:"year"`
	Month            *int     `json:"month"`
	MonthStamp       *int     `json:"month_stamp"`
	RelatedAvatarIDs []string `json:"related_avatar_ids"`
	IsMajor          bool     `json:"is_major"`
	IsStory          bool     `json:"is_story"`
	CreatedAt        string   `json:"created_at"`
}

// Phenomenon is a named, time-bounded world-level modifier.
type Phenomenon struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Desc          string `json:"desc,omitempty"`
	Rarity        string `json:"rarity,omitempty"`
	DurationYears int    `json:"duration_years,omitempty"`
	EffectDesc    string `json:"effect_desc,omitempty"`
}

// Region is a named map location.
type Region struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Type     string `json:"type,omitempty"`
	SectName string `json:"sect_name,omitempty"`
}

// MapMatrix is the tile grid rendered by observers; the synchronizer only
// stores it.
type MapMatrix [][]string

// FullState is the authoritative snapshot returned by the state fetch.
type FullState struct {
	Year       int            `json:"year"`
	Month      int            `json:"month"`
	Avatars    []AvatarUpdate `json:"avatars"`
	Events     []RawEvent     `json:"events"`
	Phenomenon *Phenomenon    `json:"phenomenon"`
}

// MapData is the bulk map payload: tiles, regions, and the free-form
// frontend config blob the server attaches for observers.
type MapData struct {
	Tiles   MapMatrix      `json:"data"`
	Regions []Region       `json:"regions"`
	Config  map[string]any `json:"config"`
}

// DeltaPayload is a push tick: the latest simulation time plus changed
// avatars and new events. Phenomenon stays raw so "absent" and "null" can be
// told apart: absent leaves the current phenomenon untouched, null clears it.
type DeltaPayload struct {
	Type       string          `json:"type"`
	Year       int             `json:"year"`
	Month      int             `json:"month"`
	Avatars    []AvatarUpdate  `json:"avatars"`
	Events     []RawEvent      `json:"events"`
	Phenomenon json.RawMessage `json:"phenomenon"`
}

// EventPage is one page of a paginated pull, newest-first as served.
type EventPage struct {
	Events     []RawEvent `json:"events"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// EventFilter restricts the event log to records related to one avatar, or
// to records relating a pair of avatars. The zero value is unrestricted.
type EventFilter struct {
	AvatarID  string `json:"avatar_id,omitempty"`
	AvatarID1 string `json:"avatar_id_1,omitempty"`
	AvatarID2 string `json:"avatar_id_2,omitempty"`
}

// Matches reports whether the event passes the filter. Pair filters require
// both ids to be related; single filters require the one id.
func (f EventFilter) Matches(ev GameEvent) bool {
	if f.AvatarID1 != "" && f.AvatarID2 != "" {
		return relatedTo(ev, f.AvatarID1) && relatedTo(ev, f.AvatarID2)
	}
	if f.AvatarID != "" {
		return relatedTo(ev, f.AvatarID)
	}
	return true
}

// IsZero reports whether the filter is unrestricted.
func (f EventFilter) IsZero() bool {
	return f.AvatarID == "" && f.AvatarID1 == "" && f.AvatarID2 == ""
}

func relatedTo(ev GameEvent, id string) bool {
	for _, related := range ev.RelatedAvatarIDs {
		if related == id {
			return true
		}
	}
	return false
}
