package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/scamshield/wa-gateway/internal/creds"
	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/transport"
)

var ErrNotConnected = errors.New("transport session not connected")

type Dependencies struct {
	Dialer         transport.Dialer
	Creds          creds.Store
	Logger         *log.Logger
	ReconnectDelay time.Duration
	MessageBuffer  int
}

// Supervisor owns the transport session lifecycle and the process-wide
// connection state. All state mutation happens from the supervisor's own
// goroutines; everything else reads snapshots via Status.
type Supervisor struct {
	dialer         transport.Dialer
	creds          creds.Store
	logger         *log.Logger
	reconnectDelay time.Duration

	messages chan domain.InboundMessage

	mu       sync.Mutex
	state    domain.ConnectionState
	session  transport.Session
	dialing  bool
	stopping bool

	// generation advances on every Deauthorize. A dial that started under an
	// older generation resumed from credentials that have since been wiped;
	// its session must be discarded, never installed.
	generation uint64

	baseCtx context.Context
	wg      sync.WaitGroup
}

func New(deps Dependencies) *Supervisor {
	if deps.ReconnectDelay <= 0 {
		deps.ReconnectDelay = 5 * time.Second
	}
	if deps.MessageBuffer <= 0 {
		deps.MessageBuffer = 128
	}
	return &Supervisor{
		dialer:         deps.Dialer,
		creds:          deps.Creds,
		logger:         deps.Logger,
		reconnectDelay: deps.ReconnectDelay,
		messages:       make(chan domain.InboundMessage, deps.MessageBuffer),
		state: domain.ConnectionState{
			State:     domain.ConnDisconnected,
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// Start begins the first connection attempt. ctx bounds every goroutine the
// supervisor spawns, including reconnect timers.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.Initialize(ctx)
}

// Messages is the stream of inbound chat messages across all sessions.
func (s *Supervisor) Messages() <-chan domain.InboundMessage {
	return s.messages
}

// Status returns a read-only snapshot. Never blocks on network activity.
func (s *Supervisor) Status() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize is idempotent: a no-op while Connected or mid-handshake,
// otherwise it begins a fresh connection attempt.
func (s *Supervisor) Initialize(ctx context.Context) {
	s.mu.Lock()
	switch {
	case s.stopping, s.dialing:
		s.mu.Unlock()
		return
	case s.state.State == domain.ConnConnected,
		s.state.State == domain.ConnConnecting,
		s.state.State == domain.ConnChallengeReady:
		s.mu.Unlock()
		return
	}
	s.dialing = true
	s.setStateLocked(domain.ConnConnecting, "")
	generation := s.generation
	s.mu.Unlock()

	s.connect(ctx, generation)
}

func (s *Supervisor) connect(ctx context.Context, generation uint64) {
	blob, err := s.creds.Load(ctx)
	if err != nil && !errors.Is(err, creds.ErrNotFound) {
		s.logf("credential load failed, requesting fresh challenge: %v", err)
		blob = nil
	}

	session, dialErr := s.dialer.Dial(ctx, blob)

	s.mu.Lock()
	s.dialing = false
	if s.stopping || s.generation != generation {
		s.logf("discarding stale dial result")
		s.mu.Unlock()
		if dialErr == nil {
			_ = session.Close()
		}
		return
	}
	if dialErr != nil {
		s.logf("transport dial failed: %v", dialErr)
		s.setStateLocked(domain.ConnDisconnected, "")
		s.mu.Unlock()
		s.scheduleReconnect()
		return
	}
	s.session = session
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(session)
}

// pump consumes one session's event stream until its terminal close.
func (s *Supervisor) pump(session transport.Session) {
	defer s.wg.Done()

	sawClose := false
	for event := range session.Events() {
		switch {
		case event.Connection != nil:
			if s.handleConnectionEvent(session, *event.Connection) {
				sawClose = true
			}
		case event.Message != nil:
			if s.isCurrent(session) {
				select {
				case s.messages <- *event.Message:
				case <-s.context().Done():
				}
			}
		case event.Credentials != nil:
			// Persist before touching the next event so a crash cannot
			// acknowledge credentials the store never saw.
			if err := s.creds.Save(s.context(), event.Credentials); err != nil {
				s.logf("credential persist failed: %v", err)
			}
		}
	}

	if !sawClose {
		// Stream ended without a close frame; treat as a network drop.
		s.handleConnectionEvent(session, transport.ConnectionEvent{
			Status: transport.StatusClosed,
			Reason: domain.ReasonConnectionLost,
		})
	}
}

// handleConnectionEvent applies one lifecycle transition. Returns true for
// terminal close events.
func (s *Supervisor) handleConnectionEvent(session transport.Session, event transport.ConnectionEvent) bool {
	s.mu.Lock()
	if s.session != session {
		// A stale session (replaced by Deauthorize/Shutdown) may still flush
		// its close event; the state machine no longer belongs to it.
		s.mu.Unlock()
		return event.Status == transport.StatusClosed
	}

	switch event.Status {
	case transport.StatusChallenge:
		s.setStateLocked(domain.ConnChallengeReady, event.Challenge)
		s.mu.Unlock()
		return false

	case transport.StatusOpen:
		s.setStateLocked(domain.ConnConnected, "")
		s.mu.Unlock()
		return false

	case transport.StatusClosed:
		s.session = nil
		stopping := s.stopping
		if stopping {
			s.setStateLocked(domain.ConnDisconnected, "")
			s.mu.Unlock()
			return true
		}

		if Recoverable(event.Reason) {
			s.logf("session closed (%s), reconnecting in %s", event.Reason, s.reconnectDelay)
			s.setStateLocked(domain.ConnDisconnected, "")
			s.mu.Unlock()
			s.scheduleReconnect()
			return true
		}

		s.logf("session terminated (%s), clearing credentials; operator init required", event.Reason)
		s.setStateLocked(domain.ConnError, "")
		s.mu.Unlock()
		if err := s.creds.Delete(s.context()); err != nil {
			s.logf("credential wipe failed: %v", err)
		}
		return true
	}

	s.mu.Unlock()
	return false
}

func (s *Supervisor) scheduleReconnect() {
	ctx := s.context()
	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.reconnectDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		stale := s.generation != generation
		s.mu.Unlock()
		if stale {
			// Deauthorized while the backoff timer ran; reconnecting now
			// would bypass the operator-initiated re-login.
			return
		}
		s.Initialize(ctx)
	}()
}

// Deauthorize tears down the session, deletes persisted credentials, and
// forces Disconnected. The next Initialize starts from a fresh challenge.
func (s *Supervisor) Deauthorize(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.generation++
	s.setStateLocked(domain.ConnDisconnected, "")
	s.mu.Unlock()

	if session != nil {
		if err := session.Logout(ctx); err != nil {
			s.logf("logout request failed: %v", err)
		}
		_ = session.Close()
	}

	if err := s.creds.Delete(ctx); err != nil {
		return err
	}
	return nil
}

// Shutdown closes the active session gracefully and stops reconnects.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.stopping = true
	session := s.session
	s.session = nil
	s.setStateLocked(domain.ConnDisconnected, "")
	s.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	s.wg.Wait()
}

func (s *Supervisor) SendText(ctx context.Context, to, text string) error {
	session := s.currentSession()
	if session == nil {
		return ErrNotConnected
	}
	return session.SendText(ctx, to, text)
}

func (s *Supervisor) SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error {
	session := s.currentSession()
	if session == nil {
		return ErrNotConnected
	}
	return session.SendDocument(ctx, to, filename, mimeType, data)
}

func (s *Supervisor) Download(ctx context.Context, mediaRef string) ([]byte, error) {
	session := s.currentSession()
	if session == nil {
		return nil, ErrNotConnected
	}
	return session.Download(ctx, mediaRef)
}

func (s *Supervisor) currentSession() transport.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Supervisor) isCurrent(session transport.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == session
}

func (s *Supervisor) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Supervisor) setStateLocked(state domain.ConnState, challenge string) {
	s.state = domain.ConnectionState{
		State:     state,
		Challenge: challenge,
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
