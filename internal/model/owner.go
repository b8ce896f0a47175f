package model

import "sort"

// OwnerIndexEntry is one row of an issuer's reporting-owner table.
type OwnerIndexEntry struct {
	Name     string `json:"name"`
	OwnerID  string `json:"owner_id"`
	Position string `json:"position"`
}

// OwnerIndex maps reporting-owner names to their index entries.
type OwnerIndex map[string]OwnerIndexEntry

// Put stores e under its name. A later entry for the same name replaces the
// earlier one.
func (idx OwnerIndex) Put(e OwnerIndexEntry) {
	idx[e.Name] = e
}

// Position returns the indexed position for name, or "" if the owner is not
// in the index.
func (idx OwnerIndex) Position(name string) string {
	return idx[name].Position
}

// Entries returns the index entries sorted by name.
func (idx OwnerIndex) Entries() []OwnerIndexEntry {
	out := make([]OwnerIndexEntry, 0, len(idx))
	for _, e := range idx {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
