// Package session runs one combat session as an actor: a single goroutine
// owns the state, applies commands in arrival order, drives the stopwatch
// and fans every committed snapshot out to subscribers.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("session closed")

const DefaultTickInterval = time.Second

// Persister receives committed snapshots. syncer.Coordinator implements it.
type Persister interface {
	Notify(snap engine.Snapshot)
	Save(ctx context.Context, snap engine.Snapshot) error
	Close(ctx context.Context) error
}

type Msg interface{ isSessionMsg() }

// Do applies one command and replies with the resulting update.
type Do struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Do) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Update // where this client wants to receive updates
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

// Replace swaps the whole state for Snapshot and writes it through right
// away. Used by import and by loading a saved combat.
type Replace struct {
	Ctx      context.Context
	Snapshot engine.Snapshot
	Reply    chan Result
}

func (Replace) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Touch marks the session as in use without doing anything else.
type Touch struct{}

func (Touch) isSessionMsg() {}

// CloseIfIdle shuts the session down only if it has no clients and nothing
// has reached it since the idle report carrying Gen.
type CloseIfIdle struct {
	Gen   uint64
	Reply chan bool
}

func (CloseIfIdle) isSessionMsg() {}

// Update is what subscribers receive after every commit.
type Update struct {
	Version      int
	State        engine.Snapshot
	TimerRunning bool
}

type Result struct {
	Update Update
	Err    error
}

type View struct {
	Version    int
	NumClients int
	Update     Update
}

type Options struct {
	TickInterval time.Duration
	// IdleTimeout is how long a session without clients may go without
	// messages before OnIdle is called. Zero disables idle reports.
	IdleTimeout time.Duration
	// OnIdle must not block. gen identifies the quiet period for CloseIfIdle.
	OnIdle func(s *Session, gen uint64)
}

type Session struct {
	id      string
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Update
	persist Persister
	logger  *zap.Logger

	tickEvery time.Duration
	ticker    *time.Ticker

	idleTicker *time.Ticker
	onIdle     func(*Session, uint64)
	activity   uint64
	seen       uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the session loop. The session stops when parent is cancelled
// or a Shutdown message arrives; either way pending writes are flushed.
func New(parent context.Context, id string, initial engine.State, persist Persister, logger *zap.Logger, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if persist == nil {
		persist = nopPersister{}
	}
	if initial.Roster == nil {
		initial = engine.NewEmptyState(initial.Rules)
	}

	s := &Session{
		id:        id,
		inbox:     make(chan Msg, 64),
		state:     initial,
		clients:   make(map[string]chan Update),
		persist:   persist,
		logger:    logger.Named("session").With(zap.String("session", id)),
		tickEvery: opts.TickInterval,
		onIdle:    opts.OnIdle,
		activity:  1,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if opts.IdleTimeout > 0 && opts.OnIdle != nil {
		s.idleTicker = time.NewTicker(opts.IdleTimeout)
	}
	s.syncTicker()

	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

// Inbox exposes the inbox so the transport layer and tests can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited and the final flush is over.
func (s *Session) Done() <-chan struct{} { return s.done }

// Do sends cmd and waits for the outcome.
func (s *Session) Do(ctx context.Context, cmd engine.Command) (Update, error) {
	reply := make(chan Result, 1)
	if err := s.send(ctx, Do{Cmd: cmd, Reply: reply}); err != nil {
		return Update{}, err
	}
	return s.await(ctx, reply)
}

func (s *Session) Replace(ctx context.Context, snap engine.Snapshot) (Update, error) {
	reply := make(chan Result, 1)
	if err := s.send(ctx, Replace{Ctx: ctx, Snapshot: snap, Reply: reply}); err != nil {
		return Update{}, err
	}
	return s.await(ctx, reply)
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Touch counts as activity for idle detection.
func (s *Session) Touch(ctx context.Context) error {
	return s.send(ctx, Touch{})
}

// CloseIfIdle stops the session if it is still idle since the report for gen
// and waits for the flush. It reports whether the session is gone.
func (s *Session) CloseIfIdle(ctx context.Context, gen uint64) (bool, error) {
	reply := make(chan bool, 1)
	if err := s.send(ctx, CloseIfIdle{Gen: gen, Reply: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return true, nil
		}
		return false, err
	}
	select {
	case closed := <-reply:
		if closed {
			<-s.done
		}
		return closed, nil
	case <-s.done:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close asks the loop to stop and waits until it has flushed.
func (s *Session) Close(ctx context.Context) error {
	if err := s.send(ctx, Shutdown{}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) send(ctx context.Context, m Msg) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) await(ctx context.Context, reply <-chan Result) (Update, error) {
	select {
	case r := <-reply:
		return r.Update, r.Err
	case <-s.done:
		return Update{}, ErrClosed
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

func (s *Session) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-s.tick():
			s.commit(engine.Command{Type: engine.CmdTickTimer})

		case <-s.idleTick():
			s.checkIdle()

		case m := <-s.inbox:
			if _, ok := m.(CloseIfIdle); !ok {
				s.activity++
			}
			switch msg := m.(type) {
			case Join:
				// New clients get the current snapshot before any later update.
				s.clients[msg.ClientID] = msg.Outbox
				s.deliver(msg.ClientID, msg.Outbox, s.current())

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case Do:
				upd, err := s.commit(msg.Cmd)
				msg.Reply <- Result{Update: upd, Err: err}

			case Replace:
				msg.Reply <- Result{Update: s.replace(msg.Ctx, msg.Snapshot)}

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					Update:     s.current(),
				}

			case Touch:

			case CloseIfIdle:
				if len(s.clients) > 0 || s.activity != msg.Gen {
					msg.Reply <- false
					break
				}
				s.logger.Info("closing idle session")
				s.shutdown()
				msg.Reply <- true
				return

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// commit applies cmd. Rejected commands and no-ops leave the version alone
// and reach nobody.
func (s *Session) commit(cmd engine.Command) (Update, error) {
	events, next, err := engine.Apply(s.state, cmd)
	if err != nil {
		s.logger.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return s.current(), err
	}
	if len(events) == 0 {
		return s.current(), nil
	}

	s.state = next
	s.version++
	s.syncTicker()

	upd := s.current()
	s.persist.Notify(upd.State)
	s.broadcast(upd)
	return upd, nil
}

func (s *Session) replace(ctx context.Context, snap engine.Snapshot) Update {
	if ctx == nil {
		ctx = s.ctx
	}
	s.state = engine.FromSnapshot(snap, s.state.Rules)
	s.version++
	s.syncTicker()

	upd := s.current()
	if err := s.persist.Save(ctx, upd.State); err != nil {
		// The replacement stands; the next autosave retries the write.
		s.logger.Warn("write after replace failed", zap.Error(err))
	}
	s.logger.Info("session replaced", zap.Int("combatants", len(upd.State.Combatants)))
	s.broadcast(upd)
	return upd
}

func (s *Session) current() Update {
	return Update{
		Version:      s.version,
		State:        s.state.ToSnapshot(),
		TimerRunning: s.state.TimerRunning,
	}
}

// syncTicker keeps the stopwatch ticker running exactly while the timer is.
func (s *Session) syncTicker() {
	switch {
	case s.state.TimerRunning && s.ticker == nil:
		s.ticker = time.NewTicker(s.tickEvery)
	case !s.state.TimerRunning && s.ticker != nil:
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) tick() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *Session) idleTick() <-chan time.Time {
	if s.idleTicker == nil {
		return nil
	}
	return s.idleTicker.C
}

// checkIdle reports the session once a full idle period has passed with no
// clients and no messages. Stopwatch ticks do not count as activity.
func (s *Session) checkIdle() {
	quiet := s.activity == s.seen
	s.seen = s.activity
	if quiet && len(s.clients) == 0 {
		s.onIdle(s, s.activity)
	}
}

func (s *Session) shutdown() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.idleTicker != nil {
		s.idleTicker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist.Close(ctx); err != nil {
		s.logger.Warn("final flush failed", zap.Error(err))
	}

	for id, ch := range s.clients {
		close(ch) // Tell client no more updates
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) broadcast(upd Update) {
	for id, ch := range s.clients {
		s.deliver(id, ch, upd)
	}
}

func (s *Session) deliver(id string, ch chan Update, upd Update) {
	select {
	case ch <- upd:
		// ok
	default:
		// Outbox full: the client fell behind, drop it.
		s.logger.Debug("dropping slow client", zap.String("client", id))
		close(ch)
		delete(s.clients, id)
	}
}

type nopPersister struct{}

func (nopPersister) Notify(engine.Snapshot)                       {}
func (nopPersister) Save(context.Context, engine.Snapshot) error { return nil }
func (nopPersister) Close(context.Context) error                 { return nil }
