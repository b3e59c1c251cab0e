package world

import "sort"

// Table is the associative store of avatars. The backing map is replaced,
// never mutated in place, whenever a merge changes anything, so observers
// holding a snapshot can rely on reference equality for change detection.
type Table struct {
	avatars map[string]Avatar
}

// NewTable constructs an empty avatar table.
func NewTable() *Table {
	return &Table{avatars: make(map[string]Avatar)}
}

// Merge folds a batch of partial updates into the table and reports whether
// anything changed. Records without an id are dropped. Records for unknown
// ids are inserted only when they carry a name; an unnamed record for an
// unknown id is discarded entirely rather than creating a placeholder.
func (t *Table) Merge(updates []AvatarUpdate) bool {
	if t == nil || len(updates) == 0 {
		return false
	}

	next := t.avatars
	copied := false
	ensureCopy := func() {
		if copied {
			return
		}
		fresh := make(map[string]Avatar, len(t.avatars)+len(updates))
		for id, av := range t.avatars {
			fresh[id] = av
		}
		next = fresh
		copied = true
	}

	changed := false
	for _, update := range updates {
		if update.ID == "" {
			continue
		}
		existing, ok := next[update.ID]
		if !ok {
			if update.Name == nil {
				continue
			}
			existing = Avatar{ID: update.ID, Alive: true}
		}
		ensureCopy()
		next[update.ID] = applyUpdate(existing, update)
		changed = true
	}

	if changed {
		t.avatars = next
	}
	return changed
}

func applyUpdate(base Avatar, update AvatarUpdate) Avatar {
	if update.Name != nil {
		base.Name = *update.Name
	}
	if update.X != nil {
		base.X = *update.X
	}
	if update.Y != nil {
		base.Y = *update.Y
	}
	if update.Action != nil {
		base.Action = *update.Action
	}
	if update.Gender != nil {
		base.Gender = *update.Gender
	}
	if update.PicID != nil {
		base.PicID = *update.PicID
	}
	if update.Realm != nil {
		base.Realm = *update.Realm
	}
	if update.Age != nil {
		base.Age = *update.Age
	}
	if update.SectID != nil {
		base.SectID = *update.SectID
	}
	if update.Alive != nil {
		base.Alive = *update.Alive
	}
	return base
}

// Replace swaps the table contents wholesale, used when applying an
// authoritative snapshot. Updates pass through the same insert gate as Merge
// so unnamed records never enter the table.
func (t *Table) Replace(updates []AvatarUpdate) {
	if t == nil {
		return
	}
	next := make(map[string]Avatar, len(updates))
	for _, update := range updates {
		if update.ID == "" || update.Name == nil {
			continue
		}
		next[update.ID] = applyUpdate(Avatar{ID: update.ID, Alive: true}, update)
	}
	t.avatars = next
}

// Remove deletes the avatar with the given id, reporting whether it existed.
// The backing map is replaced to preserve snapshot reference semantics.
func (t *Table) Remove(id string) bool {
	if t == nil || id == "" {
		return false
	}
	if _, ok := t.avatars[id]; !ok {
		return false
	}
	next := make(map[string]Avatar, len(t.avatars)-1)
	for existing, av := range t.avatars {
		if existing == id {
			continue
		}
		next[existing] = av
	}
	t.avatars = next
	return true
}

// Get returns the avatar stored under id.
func (t *Table) Get(id string) (Avatar, bool) {
	if t == nil {
		return Avatar{}, false
	}
	av, ok := t.avatars[id]
	return av, ok
}

// Len reports the number of stored avatars.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.avatars)
}

// Snapshot exposes the current backing map. Callers must treat it as
// read-only; merges swap the map rather than mutating it.
func (t *Table) Snapshot() map[string]Avatar {
	if t == nil {
		return nil
	}
	return t.avatars
}

// List returns the avatars ordered by id for deterministic iteration.
func (t *Table) List() []Avatar {
	if t == nil || len(t.avatars) == 0 {
		return nil
	}
	list := make([]Avatar, 0, len(t.avatars))
	for _, av := range t.avatars {
		list = append(list, av)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Clear empties the table.
func (t *Table) Clear() {
	if t == nil {
		return
	}
	t.avatars = make(map[string]Avatar)
}
