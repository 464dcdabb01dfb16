package scheduler

import (
	"sort"
	"strings"
	"time"
)

// Slot is the (date, start time, title) position a meeting occupies on the calendar.
type Slot struct {
	Date  string
	Start string
	Title string
}

// NewSlot normalizes the components of a slot.
func NewSlot(date time.Time, start string, title string) Slot {
	return Slot{Date: date.Format("2006-01-02"), Start: start, Title: strings.TrimSpace(title)}
}

// Key returns a comparable representation of the slot.
func (s Slot) Key() string {
	return s.Date + "|" + s.Start + "|" + s.Title
}

// Candidate describes a meeting competing for a slot.
type Candidate struct {
	ID          string
	Slot        Slot
	TemplateKey string
	Persisted   bool
	Cancelled   bool
}

// ConflictType describes why a generated candidate lost its slot.
type ConflictType string

const (
	// ConflictTypeSlot indicates a persisted meeting occupies the identical slot.
	ConflictTypeSlot ConflictType = "slot"
	// ConflictTypeTemplate indicates a persisted meeting was materialized from the same instance.
	ConflictTypeTemplate ConflictType = "template"
)

// Conflict records a generated candidate that was elided in favour of a persisted one.
type Conflict struct {
	GeneratedID string
	PersistedID string
	Type        ConflictType
}

// DetectConflicts reports which generated candidates are shadowed by persisted ones.
// Cancelled persisted rows still shadow their slot.
func DetectConflicts(persisted, generated []Candidate) []Conflict {
	bySlot := make(map[string]string, len(persisted))
	byTemplate := make(map[string]string, len(persisted))
	for _, p := range persisted {
		if _, exists := bySlot[p.Slot.Key()]; !exists {
			bySlot[p.Slot.Key()] = p.ID
		}
		if p.TemplateKey != "" {
			byTemplate[p.TemplateKey] = p.ID
		}
	}

	var conflicts []Conflict
	for _, g := range generated {
		if id, ok := byTemplate[g.ID]; ok {
			conflicts = append(conflicts, Conflict{GeneratedID: g.ID, PersistedID: id, Type: ConflictTypeTemplate})
			continue
		}
		if id, ok := bySlot[g.Slot.Key()]; ok {
			conflicts = append(conflicts, Conflict{GeneratedID: g.ID, PersistedID: id, Type: ConflictTypeSlot})
		}
	}
	return conflicts
}

// Resolve merges persisted and generated items into the visible calendar.
//
// Persisted items win over generated items for the same slot or template
// instance; cancelled persisted items are hidden. The result is sorted by
// (date, start, title, id) so it is deterministic for identical input.
func Resolve[T any](persisted, generated []T, describe func(T) Candidate) []T {
	pc := make([]Candidate, len(persisted))
	for i, item := range persisted {
		pc[i] = describe(item)
	}
	gc := make([]Candidate, len(generated))
	for i, item := range generated {
		gc[i] = describe(item)
	}

	shadowed := make(map[string]struct{})
	for _, c := range DetectConflicts(pc, gc) {
		shadowed[c.GeneratedID] = struct{}{}
	}

	type entry struct {
		item T
		c    Candidate
	}
	visible := make([]entry, 0, len(persisted)+len(generated))
	for i, item := range persisted {
		if pc[i].Cancelled {
			continue
		}
		visible = append(visible, entry{item: item, c: pc[i]})
	}
	for i, item := range generated {
		if _, hidden := shadowed[gc[i].ID]; hidden {
			continue
		}
		visible = append(visible, entry{item: item, c: gc[i]})
	}

	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i].c, visible[j].c
		if a.Slot.Date != b.Slot.Date {
			return a.Slot.Date < b.Slot.Date
		}
		if a.Slot.Start != b.Slot.Start {
			return a.Slot.Start < b.Slot.Start
		}
		if a.Slot.Title != b.Slot.Title {
			return a.Slot.Title < b.Slot.Title
		}
		return a.ID < b.ID
	})

	out := make([]T, len(visible))
	for i, e := range visible {
		out[i] = e.item
	}
	return out
}
