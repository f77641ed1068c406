package reconciler

import (
	"slices"
	"sync"

	"hotsync/internal/logging"
	"hotsync/internal/protocol"
	"hotsync/internal/resource"
)

type listener struct {
	cb      Callback
	removed bool // guarded by Reconciler.mu
}

type callbackSet struct {
	resource  resource.Resource
	listeners []*listener
}

// Subscribe registers cb for res. The first callback for a resource sends a
// subscribe message upstream; later ones only join the set. The returned
// function removes this callback and is safe to call more than once. Removing
// the last callback sends an unsubscribe message, unless the server already
// ended the stream with notFound.
func (r *Reconciler) Subscribe(res resource.Resource, cb Callback) (unsubscribe func()) {
	res = res.Clone()
	key := res.Key()
	l := &listener{cb: cb}

	r.mu.Lock()
	set, ok := r.subscribers[key]
	if !ok {
		set = &callbackSet{resource: res}
		r.subscribers[key] = set
		r.send(protocol.Subscribe(res))
	}
	set.listeners = append(set.listeners, l)
	count := len(set.listeners)
	r.mu.Unlock()

	logging.SubscribeDebug("subscribed to %s (%d callback(s))", res, count)

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(key, set, l) })
	}
}

func (r *Reconciler) unsubscribe(key resource.Key, set *callbackSet, l *listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.removed = true
	set.listeners = slices.DeleteFunc(set.listeners, func(x *listener) bool { return x == l })
	if len(set.listeners) > 0 {
		return
	}
	// A notFound may already have torn the entry down, and a newer set may
	// have replaced it since.
	if r.subscribers[key] != set {
		return
	}
	delete(r.subscribers, key)
	r.send(protocol.Unsubscribe(set.resource))
	logging.SubscribeDebug("last callback for %s removed", set.resource)
}

// Dispatch delivers msg to every callback subscribed to its resource, in
// subscription order. Unknown resources are ignored: the message may race an
// unsubscribe. A notFound message clears the resource's subscribers, issue
// record and pending update without notifying the server, which has already
// dropped the stream.
func (r *Reconciler) Dispatch(msg protocol.ServerMessage) {
	key := msg.Resource.Key()

	r.mu.Lock()
	set, ok := r.subscribers[key]
	if msg.Type == protocol.TypeNotFound {
		// Everything held for the stream goes, before callbacks run so a
		// callback may resubscribe from scratch.
		delete(r.subscribers, key)
		delete(r.issues, key)
		r.dropPendingLocked(key)
	}
	if !ok {
		r.mu.Unlock()
		logging.SubscribeDebug("no subscribers for %s, dropping %s", msg.Resource, msg.Type)
		return
	}
	listeners := slices.Clone(set.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		r.mu.Lock()
		removed := l.removed
		r.mu.Unlock()
		if removed {
			continue
		}
		l.cb(msg)
	}

	if msg.Type == protocol.TypeNotFound {
		logging.SubscribeWarn("%s not found upstream, dropped %d callback(s)", msg.Resource, len(listeners))
	}
}

// Subscribers reports how many callbacks are registered for res.
func (r *Reconciler) Subscribers(res resource.Resource) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subscribers[res.Key()]; ok {
		return len(set.listeners)
	}
	return 0
}
