package update

import (
	"fmt"
	"maps"
	"slices"
)

// Merge combines two updates for the same chunk; b is the later one.
// A nil result means the pair cancels out and the chunk can be dropped.
// Pairs the protocol cannot produce return *InvariantViolation.
func Merge(a, b ChunkUpdate) (ChunkUpdate, error) {
	switch a := a.(type) {
	case Added:
		switch b := b.(type) {
		case Deleted:
			return nil, nil
		case Partial:
			return mergeAddedPartial(a, b), nil
		}
	case Deleted:
		if b, ok := b.(Added); ok {
			return mergeDeletedAdded(a, b), nil
		}
	case Partial:
		switch b := b.(type) {
		case Partial:
			return mergePartials(a, b), nil
		case Deleted:
			return mergePartialDeleted(a, b), nil
		}
	}
	return nil, &InvariantViolation{Prev: kindOf(a), Next: kindOf(b)}
}

func kindOf(u ChunkUpdate) Kind {
	if u == nil {
		return 0
	}
	return u.Kind()
}

// Fold merges a sequence of updates for one chunk in arrival order. After a
// cancellation the next update starts over, as it would in a fresh queue.
func Fold(updates ...ChunkUpdate) (ChunkUpdate, error) {
	var acc ChunkUpdate
	for _, u := range updates {
		if acc == nil {
			acc = u
			continue
		}
		merged, err := Merge(acc, u)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}

func mergeDeletedAdded(a Deleted, b Added) ChunkUpdate {
	deleted := newIDSet(a.Modules)
	added := newIDSet(b.Modules)

	netAdded := newIDSet()
	for _, id := range added.list() {
		if !deleted.has(id) {
			netAdded.add(id)
		}
	}
	netDeleted := newIDSet()
	for _, id := range deleted.list() {
		if !added.has(id) {
			netDeleted.add(id)
		}
	}
	if netAdded.len() == 0 && netDeleted.len() == 0 {
		return nil
	}
	return Partial{Added: netAdded.list(), Deleted: netDeleted.list()}
}

func mergePartials(a, b Partial) ChunkUpdate {
	introduced := newIDSet(a.Added)
	added := newIDSet(a.Added, b.Added)
	deleted := newIDSet(a.Deleted, b.Deleted)

	for _, id := range b.Added {
		deleted.remove(id)
	}
	for _, id := range b.Deleted {
		added.remove(id)
		// a brought it in, so the baseline never had it
		if introduced.has(id) {
			deleted.remove(id)
		}
	}
	return Partial{Added: added.list(), Deleted: deleted.list()}
}

func mergeAddedPartial(a Added, b Partial) ChunkUpdate {
	modules := newIDSet(a.Modules, b.Added)
	for _, id := range b.Deleted {
		modules.remove(id)
	}
	return Added{Modules: modules.list()}
}

func mergePartialDeleted(a Partial, b Deleted) ChunkUpdate {
	modules := newIDSet(b.Modules)
	for _, id := range a.Added {
		modules.remove(id)
	}
	return Deleted{Modules: modules.list()}
}

// MergeList combines two chunk list updates for the same resource; b is the
// later one. Chunks that cancel out, or net to an empty partial, are left out.
func MergeList(a, b ChunkListUpdate) (ChunkListUpdate, error) {
	chunks, err := mergeChunks(a.Chunks, b.Chunks)
	if err != nil {
		return ChunkListUpdate{}, err
	}
	merged, err := mergeMergedLists(a.Merged, b.Merged)
	if err != nil {
		return ChunkListUpdate{}, err
	}
	return ChunkListUpdate{Chunks: chunks, Merged: merged}, nil
}

func mergeChunks(a, b Chunks) (Chunks, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}

	out := make(Chunks, len(a)+len(b))
	for _, path := range slices.Sorted(maps.Keys(a)) {
		ua := a[path]
		ub, ok := b[path]
		if !ok {
			out[path] = ua
			continue
		}
		m, err := Merge(ua, ub)
		if err != nil {
			return nil, fmt.Errorf("merge chunk %s: %w", path, err)
		}
		if keep(m) {
			out[path] = m
		}
	}
	for path, ub := range b {
		if _, ok := a[path]; !ok {
			out[path] = ub
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func keep(u ChunkUpdate) bool {
	if u == nil {
		return false
	}
	if p, ok := u.(Partial); ok && p.IsEmpty() {
		return false
	}
	return true
}

func mergeMergedLists(a, b []MergedUpdate) ([]MergedUpdate, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}

	acc := a[0]
	rest := append(slices.Clone(a[1:]), b...)
	for _, next := range rest {
		var err error
		acc, err = mergeMerged(acc, next)
		if err != nil {
			return nil, err
		}
	}
	if acc.IsEmpty() {
		return nil, nil
	}
	return []MergedUpdate{acc}, nil
}

func mergeMerged(a, b MergedUpdate) (MergedUpdate, error) {
	var entries map[ModuleID]ModuleEntry
	if len(a.Entries)+len(b.Entries) > 0 {
		entries = make(map[ModuleID]ModuleEntry, len(a.Entries)+len(b.Entries))
		maps.Copy(entries, a.Entries)
		maps.Copy(entries, b.Entries)
	}
	chunks, err := mergeChunks(a.Chunks, b.Chunks)
	if err != nil {
		return MergedUpdate{}, fmt.Errorf("merged update: %w", err)
	}
	return MergedUpdate{Entries: entries, Chunks: chunks}, nil
}

// idSet is an insertion-ordered set of module ids.
type idSet struct {
	order   []ModuleID
	members map[ModuleID]struct{}
}

func newIDSet(groups ...[]ModuleID) *idSet {
	s := &idSet{members: make(map[ModuleID]struct{})}
	for _, g := range groups {
		for _, id := range g {
			s.add(id)
		}
	}
	return s
}

func (s *idSet) add(id ModuleID) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
}

// remove keeps the id in order; list skips it unless it is added again.
func (s *idSet) remove(id ModuleID) {
	delete(s.members, id)
}

func (s *idSet) has(id ModuleID) bool {
	_, ok := s.members[id]
	return ok
}

func (s *idSet) len() int {
	return len(s.members)
}

// list returns members in first-insertion order, nil when empty.
func (s *idSet) list() []ModuleID {
	if len(s.members) == 0 {
		return nil
	}
	out := make([]ModuleID, 0, len(s.members))
	seen := make(map[ModuleID]struct{}, len(s.members))
	for _, id := range s.order {
		if _, ok := s.members[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
