package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/dispatch"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

// Banner is the connection banner the UI shows, derived from connection
// state changes.
type Banner string

const (
	BannerNone Banner = ""
	// BannerReconnecting shows while the manager is between attempts.
	BannerReconnecting Banner = "reconnecting"
	// BannerOffline is the persistent banner after the reconnect cap.
	BannerOffline Banner = "offline"
)

// Snapshot is the ephemeral UI state at one instant. None of it is
// persisted; it is all re-derivable from the owning components.
type Snapshot struct {
	Banner           Banner
	ReconnectAttempt int
	TypingSessions   map[uuid.UUID]bool
	LastError        string
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.TypingSessions = make(map[uuid.UUID]bool, len(s.TypingSessions))
	for k, v := range s.TypingSessions {
		c.TypingSessions[k] = v
	}
	return c
}

// Bridge derives ephemeral UI signals from connection and dispatcher
// events. It holds no durable state and has no mutation rights over the
// components it observes.
type Bridge struct {
	log *logger.Logger

	mu        sync.Mutex
	snapshot  Snapshot
	maxTries  int
	subs      map[int]func(Snapshot)
	nextSubID int

	unsubs []func()
}

func New(conn *transport.Manager, disp *dispatch.Dispatcher, maxReconnectAttempts int, log *logger.Logger) *Bridge {
	b := &Bridge{
		log:      log.With("component", "NotificationBridge"),
		snapshot: Snapshot{TypingSessions: make(map[uuid.UUID]bool)},
		maxTries: maxReconnectAttempts,
		subs:     make(map[int]func(Snapshot)),
	}
	b.unsubs = append(b.unsubs, conn.Subscribe(b.onConnEvent))
	b.unsubs = append(b.unsubs, disp.Subscribe(b.onDispatchEvent))
	return b
}

func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot.clone()
}

func (b *Bridge) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bridge) onConnEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventStateChanged:
		b.update(func(s *Snapshot) {
			s.ReconnectAttempt = ev.Attempt
			switch ev.State {
			case transport.StateConnected:
				s.Banner = BannerNone
				s.LastError = ""
			case transport.StateConnecting, transport.StateDisconnected:
				s.Banner = BannerReconnecting
			case transport.StateError:
				if b.maxTries > 0 && ev.Attempt >= b.maxTries {
					s.Banner = BannerOffline
				} else {
					s.Banner = BannerReconnecting
				}
				if ev.Err != nil {
					s.LastError = ev.Err.Error()
				}
			}
		})
	case transport.EventDiagnostic:
		if ev.Err != nil {
			b.update(func(s *Snapshot) {
				s.LastError = ev.Err.Error()
			})
		}
	}
}

func (b *Bridge) onDispatchEvent(ev dispatch.Event) {
	switch ev.Type {
	case dispatch.EventTypingChanged:
		b.update(func(s *Snapshot) {
			if ev.Typing {
				s.TypingSessions[ev.SessionID] = true
			} else {
				delete(s.TypingSessions, ev.SessionID)
			}
		})
	case dispatch.EventMessageFailed:
		if ev.Err != nil {
			b.update(func(s *Snapshot) {
				s.LastError = ev.Err.Error()
			})
		}
	case dispatch.EventMessageResolved:
		b.update(func(s *Snapshot) {
			s.LastError = ""
		})
	}
}

func (b *Bridge) update(mutate func(*Snapshot)) {
	b.mu.Lock()
	mutate(&b.snapshot)
	snap := b.snapshot.clone()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Dispose detaches from the observed components.
func (b *Bridge) Dispose() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}
