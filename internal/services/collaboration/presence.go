package collaboration

import (
	"sort"
	"strings"

	"doc-collab/internal/models"

	"github.com/tidwall/gjson"
)

/*
LEARNING: PRESENCE DEDUPLICATION

One person can show up under several transport client ids: a second tab, or a
reconnect whose old client id has not timed out yet. The roster is keyed by
identity instead, and downstream consumers are only told about changes to the
set of identities, not about every awareness tick (cursor moves etc).
*/

const nameKeyPrefix = "name:"

// PresenceResult is the outcome of applying one awareness snapshot
type PresenceResult struct {
	Roster        []models.PresenceEntry
	Count         int
	CountChanged  bool
	RosterChanged bool
}

// PresenceAggregator turns awareness snapshots into a debounced roster.
// Not safe for concurrent use; the Controller drives it from its event loop.
type PresenceAggregator struct {
	lastCount     int
	lastRosterIDs map[string]struct{}
}

func NewPresenceAggregator() *PresenceAggregator {
	return &PresenceAggregator{lastRosterIDs: make(map[string]struct{})}
}

// Apply computes the roster for snapshot and reports what changed since the
// previously published values.
func (a *PresenceAggregator) Apply(snapshot models.AwarenessSnapshot) PresenceResult {
	roster := BuildRoster(snapshot)

	res := PresenceResult{Roster: roster, Count: len(roster)}

	if len(roster) != a.lastCount {
		a.lastCount = len(roster)
		res.CountChanged = true
	}

	if !sameIdentities(a.lastRosterIDs, roster) {
		ids := make(map[string]struct{}, len(roster))
		for _, e := range roster {
			ids[e.IdentityID] = struct{}{}
		}
		a.lastRosterIDs = ids
		res.RosterChanged = true
	}

	return res
}

// Reset forgets the published state, as when a session is torn down
func (a *PresenceAggregator) Reset() {
	a.lastCount = 0
	a.lastRosterIDs = make(map[string]struct{})
}

// BuildRoster deduplicates a snapshot by identity. Transport ids are visited
// in ascending order and the first entry per identity wins.
func BuildRoster(snapshot models.AwarenessSnapshot) []models.PresenceEntry {
	ids := make([]uint64, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	seen := make(map[string]struct{}, len(ids))
	roster := make([]models.PresenceEntry, 0, len(ids))

	for _, transportID := range ids {
		entry, ok := parsePresence(transportID, snapshot[transportID])
		if !ok {
			continue
		}
		if _, dup := seen[entry.IdentityID]; dup {
			continue
		}
		seen[entry.IdentityID] = struct{}{}
		roster = append(roster, entry)
	}

	return roster
}

// parsePresence extracts the user object from one raw awareness state.
// Participants with neither id nor name have not identified yet.
func parsePresence(transportID uint64, state string) (models.PresenceEntry, bool) {
	if !gjson.Valid(state) {
		return models.PresenceEntry{}, false
	}

	user := gjson.Get(state, "user")
	if !user.IsObject() {
		return models.PresenceEntry{}, false
	}

	id := scalar(user.Get("id"))
	name := scalar(user.Get("name"))
	if id == "" && name == "" {
		return models.PresenceEntry{}, false
	}

	identityID := id
	if identityID == "" {
		// Two unidentified guests with the same name collapse into one entry
		identityID = nameKeyPrefix + name
	}

	return models.PresenceEntry{
		IdentityID:  identityID,
		DisplayName: name,
		Color:       scalar(user.Get("color")),
		TransportID: transportID,
	}, true
}

func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return strings.TrimSpace(r.String())
	default:
		return ""
	}
}

func sameIdentities(prev map[string]struct{}, roster []models.PresenceEntry) bool {
	if len(prev) != len(roster) {
		return false
	}
	for _, e := range roster {
		if _, ok := prev[e.IdentityID]; !ok {
			return false
		}
	}
	return true
}
