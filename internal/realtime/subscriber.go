package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calcuttalive/sweep-backend/internal/store"
)

// ConnState is the subscriber's connection state machine. One state object
// instead of scattered connected/reconnecting booleans.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StatePolling      ConnState = "polling"
	StateOffline      ConnState = "offline"
)

// Handlers receive mirror updates. They are invoked from the subscriber's
// goroutines, one at a time, and must not call back into the subscriber.
type Handlers struct {
	OnAssignmentAdded    func(store.Assignment)
	OnAssignmentRemoved  func(store.Assignment)
	OnParticipantAdded   func(store.Participant)
	OnParticipantRemoved func(store.Participant)
	OnStatusChange       func(store.EventStatus)
	OnError              func(error)
}

// Transport is the push channel. The production implementation dials the
// websocket endpoint; tests substitute a channel-backed fake.
type Transport interface {
	Connect(ctx context.Context) error
	Recv(ctx context.Context) (Notice, error)
	Close() error
}

// FetchFunc fetches the authoritative full state, used for the polling
// fallback and the post-reconnect resync.
type FetchFunc func(ctx context.Context) (Snapshot, error)

type Options struct {
	SilenceTimeout    time.Duration // push silence before falling back to polling
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	MaxPollFailures   int // consecutive poll failures before reporting offline
}

func (o *Options) defaults() {
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = time.Second
	}
	if o.MaxPollFailures <= 0 {
		o.MaxPollFailures = 3
	}
}

// Subscriber maintains a local mirror of one event's state. Push notices and
// poll snapshots merge through the same idempotent path, so a row delivered
// twice never signals twice.
type Subscriber struct {
	transport Transport
	fetch     FetchFunc
	handlers  Handlers
	opts      Options
	log       *zap.Logger

	// dispatchMu serializes handler callbacks. It is acquired while mu is
	// still held, so callbacks fire in mirror-mutation order even when the
	// recv loop and the poll loop apply concurrently.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	state        ConnState
	version      int
	status       store.EventStatus
	assignments  map[int64]store.Assignment
	participants map[int64]store.Participant
	items        map[int64]store.Item
	pollCancel   context.CancelFunc
	pollFailures int
}

func NewSubscriber(transport Transport, fetch FetchFunc, handlers Handlers, opts Options, log *zap.Logger) *Subscriber {
	opts.defaults()
	return &Subscriber{
		transport:    transport,
		fetch:        fetch,
		handlers:     handlers,
		opts:         opts,
		log:          log,
		state:        StateReconnecting,
		assignments:  make(map[int64]store.Assignment),
		participants: make(map[int64]store.Participant),
		items:        make(map[int64]store.Item),
	}
}

// Run drives the subscriber until ctx is cancelled. It owns the reconnect
// loop and the fallback polling goroutine.
func (s *Subscriber) Run(ctx context.Context) {
	defer s.stopPolling()
	for {
		if err := s.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.markDisconnected()
			s.startPolling(ctx)
			if !sleep(ctx, s.opts.ReconnectInterval) {
				return
			}
			continue
		}

		// Full resync before incremental updates resume, to repair any
		// gap from the outage. A fetch failure keeps the subscriber in
		// its degraded state and retries; connected is only declared
		// once a snapshot has actually landed. A row deleted server-side
		// during the outage would otherwise survive in the mirror.
		for {
			snap, err := s.fetch(ctx)
			if err == nil {
				s.applySnapshot(snap)
				break
			}
			if ctx.Err() != nil {
				_ = s.transport.Close()
				return
			}
			s.pollFailed(err)
			if !sleep(ctx, s.opts.ReconnectInterval) {
				_ = s.transport.Close()
				return
			}
		}
		s.stopPolling()
		s.setState(StateConnected)

		s.recvLoop(ctx)
		_ = s.transport.Close()
		if ctx.Err() != nil {
			return
		}
		s.markDisconnected()
		s.startPolling(ctx)
		if !sleep(ctx, s.opts.ReconnectInterval) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Subscriber) recvLoop(ctx context.Context) {
	for {
		rctx, cancel := context.WithTimeout(ctx, s.opts.SilenceTimeout)
		n, err := s.transport.Recv(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Push channel is silent but not closed: poll the
				// authoritative store until it speaks again.
				s.setState(StatePolling)
				s.startPolling(ctx)
				continue
			}
			return
		}
		s.apply(n)
		if s.State() != StateConnected {
			s.stopPolling()
			s.setState(StateConnected)
		}
	}
}

func (s *Subscriber) startPolling(ctx context.Context) {
	s.mu.Lock()
	if s.pollCancel != nil {
		s.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.mu.Unlock()
	go s.pollLoop(pctx)
}

func (s *Subscriber) stopPolling() {
	s.mu.Lock()
	cancel := s.pollCancel
	s.pollCancel = nil
	s.pollFailures = 0
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscriber) pollLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap, err := s.fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.pollFailed(err)
				continue
			}
			s.pollRecovered()
			s.applySnapshot(snap)
		}
	}
}

// pollFailed counts consecutive fetch failures, from the poll loop and from
// the resync retry alike; past the threshold the subscriber reports offline
// but keeps its mirror and keeps trying.
func (s *Subscriber) pollFailed(err error) {
	s.mu.Lock()
	s.pollFailures++
	crossed := s.pollFailures == s.opts.MaxPollFailures
	if s.pollFailures >= s.opts.MaxPollFailures {
		s.state = StateOffline
	}
	onError := s.handlers.OnError
	s.mu.Unlock()
	if s.log != nil {
		s.log.Warn("poll failed", zap.Error(err))
	}
	if crossed && onError != nil {
		onError(err)
	}
}

func (s *Subscriber) pollRecovered() {
	s.mu.Lock()
	s.pollFailures = 0
	if s.state != StateConnected {
		s.state = StatePolling
	}
	s.mu.Unlock()
}

func (s *Subscriber) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// markDisconnected downgrades connected to reconnecting. Once the poll loop
// has taken over the state it owns it (polling or offline), so a retrying
// dialer must not stomp it back every interval.
func (s *Subscriber) markDisconnected() {
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateReconnecting
	}
	s.mu.Unlock()
}

// State returns the connection state for UI display.
func (s *Subscriber) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Subscriber) Status() store.EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Assignments returns the mirrored assignments in draw order.
func (s *Subscriber) Assignments() []store.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DrawOrder < out[j].DrawOrder })
	return out
}

func (s *Subscriber) Participants() []store.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply merges one push notice into the mirror. Exported so tests and
// embedded consumers can drive the subscriber without a transport.
func (s *Subscriber) Apply(n Notice) { s.apply(n) }

func (s *Subscriber) apply(n Notice) {
	if n.Full != nil {
		s.applySnapshot(*n.Full)
		return
	}
	s.mu.Lock()
	var fire []func()
	var added []store.Assignment
	for _, c := range n.Changes {
		switch c.Kind {
		case KindAssignment:
			if c.Assignment == nil {
				continue
			}
			a := *c.Assignment
			switch c.Op {
			case OpInsert:
				if _, ok := s.assignments[a.ID]; ok {
					continue // duplicate delivery
				}
				s.assignments[a.ID] = a
				added = append(added, a)
			case OpDelete:
				if _, ok := s.assignments[a.ID]; !ok {
					continue
				}
				delete(s.assignments, a.ID)
				if h := s.handlers.OnAssignmentRemoved; h != nil {
					fire = append(fire, func() { h(a) })
				}
			}
		case KindParticipant:
			if c.Participant == nil {
				continue
			}
			p := *c.Participant
			switch c.Op {
			case OpInsert:
				if _, ok := s.participants[p.ID]; ok {
					continue
				}
				s.participants[p.ID] = p
				if h := s.handlers.OnParticipantAdded; h != nil {
					fire = append(fire, func() { h(p) })
				}
			case OpDelete:
				if _, ok := s.participants[p.ID]; !ok {
					continue
				}
				delete(s.participants, p.ID)
				if h := s.handlers.OnParticipantRemoved; h != nil {
					fire = append(fire, func() { h(p) })
				}
			}
		case KindItem:
			if c.Item == nil {
				continue
			}
			switch c.Op {
			case OpInsert, OpUpdate:
				s.items[c.Item.ID] = *c.Item
			case OpDelete:
				delete(s.items, c.Item.ID)
			}
		case KindStatus:
			if c.Status != "" && c.Status != s.status {
				s.status = c.Status
				if h := s.handlers.OnStatusChange; h != nil {
					st := c.Status
					fire = append(fire, func() { h(st) })
				}
			}
		}
	}
	if n.Version > s.version {
		s.version = n.Version
	}
	// New assignments surface to the UI in draw order even when one notice
	// batches several.
	sort.Slice(added, func(i, j int) bool { return added[i].DrawOrder < added[j].DrawOrder })
	if h := s.handlers.OnAssignmentAdded; h != nil {
		for _, a := range added {
			a := a
			fire = append(fire, func() { h(a) })
		}
	}
	s.dispatchMu.Lock()
	s.mu.Unlock()
	for _, f := range fire {
		f()
	}
	s.dispatchMu.Unlock()
}

// applySnapshot reconciles the authoritative full state against the mirror by
// diffing, so a poll result raises the same signals a push would have, once.
func (s *Subscriber) applySnapshot(snap Snapshot) {
	s.mu.Lock()
	var fire []func()

	seen := make(map[int64]bool, len(snap.Assignments))
	var added []store.Assignment
	for _, a := range snap.Assignments {
		seen[a.ID] = true
		if _, ok := s.assignments[a.ID]; !ok {
			s.assignments[a.ID] = a
			added = append(added, a)
		}
	}
	for id, a := range s.assignments {
		if !seen[id] {
			delete(s.assignments, id)
			if h := s.handlers.OnAssignmentRemoved; h != nil {
				a := a
				fire = append(fire, func() { h(a) })
			}
		}
	}

	seenP := make(map[int64]bool, len(snap.Participants))
	for _, p := range snap.Participants {
		seenP[p.ID] = true
		if _, ok := s.participants[p.ID]; !ok {
			s.participants[p.ID] = p
			if h := s.handlers.OnParticipantAdded; h != nil {
				p := p
				fire = append(fire, func() { h(p) })
			}
		}
	}
	for id, p := range s.participants {
		if !seenP[id] {
			delete(s.participants, id)
			if h := s.handlers.OnParticipantRemoved; h != nil {
				p := p
				fire = append(fire, func() { h(p) })
			}
		}
	}

	s.items = make(map[int64]store.Item, len(snap.Items))
	for _, it := range snap.Items {
		s.items[it.ID] = it
	}

	if snap.Status != "" && snap.Status != s.status {
		s.status = snap.Status
		if h := s.handlers.OnStatusChange; h != nil {
			st := snap.Status
			fire = append(fire, func() { h(st) })
		}
	}
	if snap.Version > s.version {
		s.version = snap.Version
	}

	sort.Slice(added, func(i, j int) bool { return added[i].DrawOrder < added[j].DrawOrder })
	if h := s.handlers.OnAssignmentAdded; h != nil {
		for _, a := range added {
			a := a
			fire = append(fire, func() { h(a) })
		}
	}
	s.dispatchMu.Lock()
	s.mu.Unlock()
	for _, f := range fire {
		f()
	}
	s.dispatchMu.Unlock()
}
