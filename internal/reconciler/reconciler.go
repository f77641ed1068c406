// Package reconciler batches update messages per resource and fans them out
// to subscribers.
//
// One Reconciler owns two tables:
//   - pending: resource key -> accumulated partial update, emptied by Flush
//   - subscribers: resource key -> callbacks, created on first Subscribe and
//     removed with the last unsubscribe or a notFound message
//
// Upstream subscribe/unsubscribe notifications go through a caller-supplied
// Sender. Callbacks and hooks always run without the reconciler's lock held,
// so they may call back into the reconciler.
package reconciler

import (
	"fmt"
	"sync"

	"hotsync/internal/issues"
	"hotsync/internal/logging"
	"hotsync/internal/protocol"
	"hotsync/internal/resource"

	"github.com/google/uuid"
)

// Sender forwards client messages upstream. It is called with the
// reconciler's lock held, so it must not block or call back into the
// reconciler. Errors are logged and counted, never returned to callers.
type Sender interface {
	Send(msg protocol.ClientMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg protocol.ClientMessage) error

// Send calls f(msg).
func (f SenderFunc) Send(msg protocol.ClientMessage) error {
	return f(msg)
}

// Callback receives messages for a subscribed resource.
type Callback func(msg protocol.ServerMessage)

// Hooks are optional host callbacks. Nil fields are skipped.
type Hooks struct {
	// BeforeRefresh runs before a batch of updates is applied.
	BeforeRefresh func()
	// AfterRefresh runs after a batch of updates is applied.
	AfterRefresh func()
	// OnIssues receives the sorted issue list whenever a message carries one.
	OnIssues func(res resource.Resource, list []issues.Issue)
}

// Reconciler merges and batches update messages. Create one per session.
type Reconciler struct {
	sender    Sender
	hooks     Hooks
	sessionID string
	log       *logging.Logger

	mu           sync.Mutex
	pending      map[resource.Key]*protocol.ServerMessage
	pendingOrder []resource.Key
	subscribers  map[resource.Key]*callbackSet
	issues       map[resource.Key][]issues.Issue
	sendFailures int
}

// New creates a reconciler that notifies the server through sender.
func New(sender Sender, hooks Hooks) (*Reconciler, error) {
	if sender == nil {
		return nil, fmt.Errorf("new reconciler: sender is nil")
	}
	id := uuid.NewString()
	return &Reconciler{
		sender:      sender,
		hooks:       hooks,
		sessionID:   id,
		log:         logging.Get(logging.CategoryReconcile).With("session", id),
		pending:     make(map[resource.Key]*protocol.ServerMessage),
		subscribers: make(map[resource.Key]*callbackSet),
		issues:      make(map[resource.Key][]issues.Issue),
	}, nil
}

// SessionID identifies this reconciler in logs.
func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// HandleMessage routes one server message:
//   - issues: only records the issue list
//   - partial: aggregated until the next Flush
//   - anything else: dispatched to subscribers immediately
//
// A message whose issue list has no critical issue then flushes pending
// updates. Merge invariant violations are returned and should be treated as
// fatal by the host.
func (r *Reconciler) HandleMessage(msg protocol.ServerMessage) error {
	issues.Sort(msg.Issues)
	clean := r.recordIssues(msg)

	switch msg.Type {
	case protocol.TypeIssues:
	case protocol.TypePartial:
		if err := r.Aggregate(msg); err != nil {
			r.log.Error("aggregate %s: %v", msg.Resource, err)
			return err
		}
	default:
		r.applyNow(msg)
	}

	if clean {
		r.Flush()
	}
	return nil
}

// recordIssues stores msg's issue list and reports whether it was present and
// free of critical issues.
func (r *Reconciler) recordIssues(msg protocol.ServerMessage) bool {
	if msg.Issues == nil {
		return false
	}
	key := msg.Resource.Key()

	r.mu.Lock()
	if len(msg.Issues) == 0 {
		delete(r.issues, key)
	} else {
		r.issues[key] = msg.Issues
	}
	r.mu.Unlock()

	critical := issues.HasCritical(msg.Issues)
	if critical {
		logging.IssuesWarn("%d issue(s) for %s, holding %d pending update(s)", len(msg.Issues), msg.Resource, r.Pending())
	} else {
		logging.Issues("%d issue(s) for %s", len(msg.Issues), msg.Resource)
	}
	if r.hooks.OnIssues != nil {
		r.hooks.OnIssues(msg.Resource, msg.Issues)
	}
	return !critical
}

// Issues returns the last sorted issue list reported for res.
func (r *Reconciler) Issues(res resource.Resource) []issues.Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issues[res.Key()]
}

// Blocked reports whether any resource's last issue report contains a
// critical issue. Schedulers skip timed flushes while it holds.
func (r *Reconciler) Blocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.issues {
		if issues.HasCritical(list) {
			return true
		}
	}
	return false
}

// applyNow dispatches a non-batched message. Refresh hooks wrap it only when
// nothing is pending; otherwise the next Flush runs them.
func (r *Reconciler) applyNow(msg protocol.ServerMessage) {
	runHooks := r.Pending() == 0
	if runHooks {
		r.beforeRefresh()
	}
	r.Dispatch(msg)
	if runHooks {
		r.afterRefresh()
	}
}

func (r *Reconciler) beforeRefresh() {
	if r.hooks.BeforeRefresh != nil {
		r.hooks.BeforeRefresh()
	}
}

func (r *Reconciler) afterRefresh() {
	if r.hooks.AfterRefresh != nil {
		r.hooks.AfterRefresh()
	}
}

// send must be called with r.mu held.
func (r *Reconciler) send(msg protocol.ClientMessage) {
	if err := r.sender.Send(msg); err != nil {
		r.sendFailures++
		logging.SubscribeWarn("send %s %s: %v", msg.Type, msg.Path, err)
		return
	}
	logging.SubscribeDebug("sent %s %s", msg.Type, msg.Path)
}

// SendFailures reports how many upstream notifications failed to send.
func (r *Reconciler) SendFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendFailures
}
