package world

import "strings"

// deathMarkers are the substrings the server embeds in event text when an
// avatar dies. The server formats these phrases in death_reason handling and
// in kill actions; keeping the set in one place makes wording changes a
// one-line fix. Matching on text is a heuristic; the server does not flag
// deaths structurally.
var deathMarkers = []string{
	"杀害",
	"身亡",
	"老死",
	"战死",
	"陨落",
	"寿元耗尽",
}

// IsDeathEvent reports whether the record's text or long-form content
// contains a death marker.
func IsDeathEvent(ev GameEvent) bool {
	for _, marker := range deathMarkers {
		if strings.Contains(ev.Text, marker) || strings.Contains(ev.Content, marker) {
			return true
		}
	}
	return false
}

// DeadAvatarIDs collects the related-avatar ids of every death-marking
// record in the batch. The synchronizer removes these from the table before
// the generic avatar merge so a death record and a position update for the
// same id in one delta cannot race.
func DeadAvatarIDs(events []GameEvent) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, ev := range events {
		if !IsDeathEvent(ev) {
			continue
		}
		for _, id := range ev.RelatedAvatarIDs {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
