package update

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire tags used by the dev server.
const (
	chunkListType = "ChunkListUpdate"
	mergedType    = "EcmascriptMergedUpdate"
)

// UnmarshalJSON accepts module ids sent as strings or as numbers.
func (id *ModuleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ModuleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil || n == "" {
		return fmt.Errorf("module id must be a string or number, got %s", data)
	}
	*id = ModuleID(n.String())
	return nil
}

type chunkUpdateWire struct {
	Type    string     `json:"type"`
	Modules []ModuleID `json:"modules,omitempty"`
	Added   []ModuleID `json:"added,omitempty"`
	Deleted []ModuleID `json:"deleted,omitempty"`
}

// DecodeChunkUpdate decodes one tagged chunk update.
func DecodeChunkUpdate(data []byte) (ChunkUpdate, error) {
	var w chunkUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode chunk update: %w", err)
	}
	switch w.Type {
	case "added":
		return Added{Modules: w.Modules}, nil
	case "deleted":
		return Deleted{Modules: w.Modules}, nil
	case "partial":
		return Partial{Added: w.Added, Deleted: w.Deleted}, nil
	default:
		return nil, fmt.Errorf("decode chunk update: unknown type %q", w.Type)
	}
}

func orEmpty(ids []ModuleID) []ModuleID {
	if ids == nil {
		return []ModuleID{}
	}
	return ids
}

func (a Added) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string     `json:"type"`
		Modules []ModuleID `json:"modules"`
	}{"added", orEmpty(a.Modules)})
}

func (d Deleted) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string     `json:"type"`
		Modules []ModuleID `json:"modules"`
	}{"deleted", orEmpty(d.Modules)})
}

func (p Partial) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string     `json:"type"`
		Added   []ModuleID `json:"added"`
		Deleted []ModuleID `json:"deleted"`
	}{"partial", orEmpty(p.Added), orEmpty(p.Deleted)})
}

func (c *Chunks) UnmarshalJSON(data []byte) error {
	var raw map[ChunkPath]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*c = nil
		return nil
	}
	out := make(Chunks, len(raw))
	for path, msg := range raw {
		u, err := DecodeChunkUpdate(msg)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", path, err)
		}
		out[path] = u
	}
	*c = out
	return nil
}

type mergedWire struct {
	Type    string                   `json:"type"`
	Entries map[ModuleID]ModuleEntry `json:"entries,omitempty"`
	Chunks  Chunks                   `json:"chunks,omitempty"`
}

func (m MergedUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(mergedWire{Type: mergedType, Entries: m.Entries, Chunks: m.Chunks})
}

func (m *MergedUpdate) UnmarshalJSON(data []byte) error {
	var w mergedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != "" && w.Type != mergedType {
		return fmt.Errorf("decode merged update: unknown type %q", w.Type)
	}
	*m = MergedUpdate{Entries: w.Entries, Chunks: w.Chunks}
	return nil
}

type chunkListWire struct {
	Type   string         `json:"type"`
	Chunks Chunks         `json:"chunks,omitempty"`
	Merged []MergedUpdate `json:"merged,omitempty"`
}

func (u ChunkListUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(chunkListWire{Type: chunkListType, Chunks: u.Chunks, Merged: u.Merged})
}

func (u *ChunkListUpdate) UnmarshalJSON(data []byte) error {
	var w chunkListWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != "" && w.Type != chunkListType {
		return fmt.Errorf("decode chunk list update: unknown type %q", w.Type)
	}
	*u = ChunkListUpdate{Chunks: w.Chunks, Merged: w.Merged}
	return nil
}
