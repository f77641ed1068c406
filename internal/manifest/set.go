package manifest

import (
	"slices"
	"sync"

	"hotsync/internal/logging"
	"hotsync/internal/protocol"
	"hotsync/internal/reconciler"
	"hotsync/internal/resource"
)

// Subscriber is the part of reconciler.Reconciler a Set drives.
type Subscriber interface {
	Subscribe(res resource.Resource, cb reconciler.Callback) (unsubscribe func())
}

// Set holds one subscription per manifest resource.
type Set struct {
	sub Subscriber
	cb  reconciler.Callback

	mu      sync.Mutex
	current []resource.Resource
	handles map[resource.Key]func()
}

// NewSet creates an empty set that subscribes through sub with cb.
func NewSet(sub Subscriber, cb reconciler.Callback) *Set {
	return &Set{
		sub:     sub,
		cb:      cb,
		handles: make(map[resource.Key]func()),
	}
}

// Apply makes the live subscriptions match resources: new entries are
// subscribed and dropped entries unsubscribed. Returns how many of each.
func (s *Set) Apply(resources []resource.Resource) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	add, drop := Diff(s.current, resources)
	for _, res := range drop {
		key := res.Key()
		if unsub, ok := s.handles[key]; ok {
			unsub()
			delete(s.handles, key)
		}
		logging.ManifestDebug("unsubscribed %s", res)
	}
	for _, res := range add {
		key := res.Key()
		if _, ok := s.handles[key]; ok {
			continue
		}
		s.handles[key] = s.sub.Subscribe(res, s.track(key))
		logging.ManifestDebug("subscribed %s", res)
	}
	s.current = append(s.current[:0:0], resources...)

	if len(add)+len(drop) > 0 {
		logging.Manifest("manifest applied: +%d -%d (%d live)", len(add), len(drop), len(s.handles))
	}
	return len(add), len(drop)
}

// track wraps the set's callback so a notFound for key forgets the
// resource. The reconciler has already torn the subscription down; the next
// Apply that lists the resource subscribes it again.
func (s *Set) track(key resource.Key) reconciler.Callback {
	return func(msg protocol.ServerMessage) {
		if msg.Type == protocol.TypeNotFound {
			s.forget(key)
		}
		s.cb(msg)
	}
}

func (s *Set) forget(key resource.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[key]; !ok {
		return
	}
	delete(s.handles, key)
	s.current = slices.DeleteFunc(s.current, func(res resource.Resource) bool { return res.Key() == key })
	logging.ManifestWarn("%s was dropped by the server; it is resubscribed on the next manifest apply", key)
}

// Len reports how many resources are subscribed.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close unsubscribes everything.
func (s *Set) Close() {
	s.Apply(nil)
}
