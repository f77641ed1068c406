package reconciler

import (
	"fmt"
	"slices"

	"hotsync/internal/protocol"
	"hotsync/internal/resource"
	"hotsync/internal/update"
)

// Aggregate folds a partial message into the pending table. The first
// message for a resource is stored as is; later ones are merged into it.
// On error the stored entry is left unchanged.
func (r *Reconciler) Aggregate(msg protocol.ServerMessage) error {
	key := msg.Resource.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.pending[key]
	if !ok {
		cp := msg
		cp.Resource = msg.Resource.Clone()
		r.pending[key] = &cp
		r.pendingOrder = append(r.pendingOrder, key)
		r.log.Debug("queued first update for %s", msg.Resource)
		return nil
	}

	merged, err := update.MergeList(instruction(stored), instruction(&msg))
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", msg.Resource, err)
	}
	stored.Instruction = &merged
	if msg.Issues != nil {
		stored.Issues = msg.Issues
	}
	r.log.Debug("merged update for %s (%d chunk(s) pending)", msg.Resource, len(merged.Chunks))
	return nil
}

func instruction(msg *protocol.ServerMessage) update.ChunkListUpdate {
	if msg.Instruction == nil {
		return update.ChunkListUpdate{}
	}
	return *msg.Instruction
}

// Flush applies every pending update and empties the table. Entries
// aggregated while the batch is being applied land in a fresh table and wait
// for the next Flush. Returns the number of resources applied.
func (r *Reconciler) Flush() int {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return 0
	}
	batch := make([]protocol.ServerMessage, 0, len(r.pendingOrder))
	for _, key := range r.pendingOrder {
		batch = append(batch, *r.pending[key])
	}
	r.pending = make(map[resource.Key]*protocol.ServerMessage)
	r.pendingOrder = nil
	r.mu.Unlock()

	r.beforeRefresh()
	for _, msg := range batch {
		r.Dispatch(msg)
	}
	r.afterRefresh()

	r.log.Info("flushed %d resource update(s)", len(batch))
	return len(batch)
}

// dropPendingLocked discards the pending update for key. r.mu must be held.
func (r *Reconciler) dropPendingLocked(key resource.Key) {
	if _, ok := r.pending[key]; !ok {
		return
	}
	delete(r.pending, key)
	r.pendingOrder = slices.DeleteFunc(r.pendingOrder, func(k resource.Key) bool { return k == key })
	r.log.Debug("discarded pending update for %s", key)
}

// Pending reports how many resources have updates waiting for Flush.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
