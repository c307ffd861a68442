// Package hub keeps the registry of live sessions.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/session"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub closed")

const closeTimeout = 10 * time.Second

// Factory builds a session for id. It is expected to load whatever is stored
// for id before the session starts taking commands, and to pass onIdle on to
// the session so the hub hears when it can be evicted.
type Factory func(parent context.Context, id string, onIdle func(*session.Session, uint64)) (*session.Session, error)

type HubMsg interface{ isHubMsg() }

type EnsureSession struct {
	ID    string
	Reply chan EnsureResult
}

type EnsureResult struct {
	Session *session.Session
	Err     error
}

type GetSession struct {
	ID    string
	Reply chan *session.Session
}

// RemoveSession closes the session and waits for its flush before the next
// message is handled, so a later Ensure loads what it wrote.
type RemoveSession struct {
	ID string
}

// SessionIdle is sent by a session that has had no clients and no messages
// for its idle timeout.
type SessionIdle struct {
	Session *session.Session
	Gen     uint64
}

// ShutdownHub stops every session, waits for their final flush, then
// closes Done.
type ShutdownHub struct {
	Done chan struct{}
}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (SessionIdle) isHubMsg()   {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	factory  Factory
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, factory Factory, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		factory:  factory,
		logger:   logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure returns the live session for id, creating and loading it first if
// needed. A load failure still yields a usable session; the factory decides
// how it is reported.
func (h *Hub) Ensure(ctx context.Context, id string) (*session.Session, error) {
	reply := make(chan EnsureResult, 1)
	if err := h.send(ctx, EnsureSession{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.Session, r.Err
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the live session for id, or nil.
func (h *Hub) Get(ctx context.Context, id string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, GetSession{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	if err := h.send(ctx, ShutdownHub{Done: done}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				if s := h.live(msg.ID); s != nil {
					// Queued ahead of any later idle close, so it wins.
					if err := s.Touch(h.ctx); err == nil {
						msg.Reply <- EnsureResult{Session: s}
						break
					}
					delete(h.sessions, msg.ID)
				}

				s, err := h.factory(h.ctx, msg.ID, h.reportIdle)
				if s != nil {
					h.sessions[msg.ID] = s
					h.logger.Info("session opened", zap.String("session", msg.ID))
				}
				msg.Reply <- EnsureResult{Session: s, Err: err}

			case GetSession:
				msg.Reply <- h.live(msg.ID) // May be nil

			case RemoveSession:
				if s := h.sessions[msg.ID]; s != nil {
					delete(h.sessions, msg.ID)
					h.closeSession(msg.ID, s)
				}

			case SessionIdle:
				h.evict(msg.Session, msg.Gen)

			case ShutdownHub:
				h.shutdown()
				close(msg.Done)
				return
			}
		}
	}
}

// live drops sessions whose loop has already exited.
func (h *Hub) live(id string) *session.Session {
	s := h.sessions[id]
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		delete(h.sessions, id)
		return nil
	default:
		return s
	}
}

// reportIdle is handed to sessions. It never blocks the session loop; a
// report dropped on a full inbox is repeated after the next idle period.
func (h *Hub) reportIdle(s *session.Session, gen uint64) {
	select {
	case h.inbox <- SessionIdle{Session: s, Gen: gen}:
	default:
	}
}

// evict closes an idle session unless it has been used since it reported.
func (h *Hub) evict(s *session.Session, gen uint64) {
	id := s.ID()
	if h.sessions[id] != s {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, closeTimeout)
	defer cancel()
	closed, err := s.CloseIfIdle(ctx, gen)
	if err != nil {
		h.logger.Warn("idle close failed", zap.String("session", id), zap.Error(err))
		return
	}
	if closed {
		delete(h.sessions, id)
		h.logger.Info("session evicted", zap.String("session", id), zap.Int("sessions", len(h.sessions)))
	}
}

func (h *Hub) closeSession(id string, s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		h.logger.Warn("session close failed", zap.String("session", id), zap.Error(err))
	}
}

func (h *Hub) shutdown() {
	var wg sync.WaitGroup
	for id, s := range h.sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.closeSession(id, s)
		}()
	}
	wg.Wait()
	h.logger.Info("hub stopped", zap.Int("sessions", len(h.sessions)))
	clear(h.sessions)
	h.cancel()
}
