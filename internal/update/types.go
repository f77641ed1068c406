// Package update models chunk updates from the dev-server stream and merges
// successive updates for the same chunk into one net update.
package update

import "fmt"

// ModuleID identifies a module inside a chunk.
type ModuleID string

// ChunkPath identifies a chunk.
type ChunkPath string

// Kind is the tag of a ChunkUpdate.
type Kind uint8

const (
	KindAdded Kind = iota + 1
	KindDeleted
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindDeleted:
		return "deleted"
	case KindPartial:
		return "partial"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ChunkUpdate is one of Added, Deleted or Partial.
type ChunkUpdate interface {
	Kind() Kind
	chunkUpdate()
}

// Added reports a chunk that became present with the given modules.
type Added struct {
	Modules []ModuleID
}

// Deleted reports a chunk that went away along with the given modules.
type Deleted struct {
	Modules []ModuleID
}

// Partial is a delta against the chunk's previous state. Added and Deleted
// are disjoint.
type Partial struct {
	Added   []ModuleID
	Deleted []ModuleID
}

func (Added) Kind() Kind   { return KindAdded }
func (Deleted) Kind() Kind { return KindDeleted }
func (Partial) Kind() Kind { return KindPartial }

func (Added) chunkUpdate()   {}
func (Deleted) chunkUpdate() {}
func (Partial) chunkUpdate() {}

// IsEmpty reports whether the partial carries no change.
func (p Partial) IsEmpty() bool {
	return len(p.Added) == 0 && len(p.Deleted) == 0
}

// Chunks maps chunk paths to their pending update.
type Chunks map[ChunkPath]ChunkUpdate

// ModuleEntry is the payload for one module in a merged update.
type ModuleEntry struct {
	Code string `json:"code"`
	URL  string `json:"url"`
	Map  string `json:"map,omitempty"`
}

// MergedUpdate is a pre-aggregated update: module payloads plus per-chunk
// membership changes.
type MergedUpdate struct {
	Entries map[ModuleID]ModuleEntry
	Chunks  Chunks
}

// IsEmpty reports whether the merged update carries neither entries nor chunks.
func (m MergedUpdate) IsEmpty() bool {
	return len(m.Entries) == 0 && len(m.Chunks) == 0
}

// ChunkListUpdate is the instruction carried by an update message.
type ChunkListUpdate struct {
	Chunks Chunks
	Merged []MergedUpdate
}

// IsEmpty reports whether the update changes nothing.
func (u ChunkListUpdate) IsEmpty() bool {
	if len(u.Chunks) > 0 {
		return false
	}
	for _, m := range u.Merged {
		if !m.IsEmpty() {
			return false
		}
	}
	return true
}
