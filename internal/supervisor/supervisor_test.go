package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scamshield/wa-gateway/internal/creds"
	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/transport"
)

type fakeSession struct {
	events chan transport.Event

	mu       sync.Mutex
	sent     []string
	logouts  int
	closed   bool
	closeErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan transport.Event, 16)}
}

func (f *fakeSession) Events() <-chan transport.Event { return f.events }

func (f *fakeSession) SendText(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) SendDocument(context.Context, string, string, string, []byte) error {
	return nil
}

func (f *fakeSession) Download(context.Context, string) ([]byte, error) {
	return nil, errors.New("no media in fake")
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return f.closeErr
}

func (f *fakeSession) emitOpen() {
	f.events <- transport.Event{Connection: &transport.ConnectionEvent{Status: transport.StatusOpen}}
}

func (f *fakeSession) emitChallenge(code string) {
	f.events <- transport.Event{Connection: &transport.ConnectionEvent{
		Status:    transport.StatusChallenge,
		Challenge: code,
	}}
}

func (f *fakeSession) emitClosed(reason domain.DisconnectReason) {
	f.events <- transport.Event{Connection: &transport.ConnectionEvent{
		Status: transport.StatusClosed,
		Reason: reason,
	}}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    [][]byte
	err      error

	// gate, when set, holds every dial in flight until the channel closes.
	gate chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, credentials []byte) (transport.Session, error) {
	d.mu.Lock()
	d.dials = append(d.dials, credentials)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.sessions) == 0 {
		session := newFakeSession()
		d.sessions = append(d.sessions, session)
		return session, nil
	}
	session := d.sessions[len(d.sessions)-1]
	if session.isClosed() {
		session = newFakeSession()
		d.sessions = append(d.sessions, session)
	}
	return session, nil
}

func (d *fakeDialer) queue(session *fakeSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, session)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type memoryCreds struct {
	mu      sync.Mutex
	blob    []byte
	deletes int
}

func (c *memoryCreds) Load(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blob == nil {
		return nil, creds.ErrNotFound
	}
	return append([]byte(nil), c.blob...), nil
}

func (c *memoryCreds) Save(_ context.Context, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob = append([]byte(nil), blob...)
	return nil
}

func (c *memoryCreds) Delete(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob = nil
	c.deletes++
	return nil
}

func (c *memoryCreds) stored() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.blob...)
}

func (c *memoryCreds) deleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", message)
}

func newTestSupervisor(dialer *fakeDialer, store creds.Store) *Supervisor {
	return New(Dependencies{
		Dialer:         dialer,
		Creds:          store,
		ReconnectDelay: 20 * time.Millisecond,
	})
}

func TestSupervisorChallengeThenConnected(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	store := &memoryCreds{}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)

	session.emitChallenge("2@login-code")
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnChallengeReady
	}, "challenge state")
	if sup.Status().Challenge != "2@login-code" {
		t.Fatalf("expected challenge payload, got %q", sup.Status().Challenge)
	}

	session.emitOpen()
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnConnected
	}, "connected state")
	if sup.Status().Challenge != "" {
		t.Fatalf("challenge must be cleared once connected")
	}
}

func TestSupervisorReconnectsAfterRecoverableClose(t *testing.T) {
	first := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(first)
	store := &memoryCreds{}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	first.emitOpen()
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnConnected
	}, "initial connect")

	first.emitClosed(domain.ReasonConnectionLost)
	waitFor(t, time.Second, func() bool {
		return dialer.dialCount() >= 2
	}, "reconnect dial within backoff window")

	if store.deleteCount() != 0 {
		t.Fatalf("recoverable close must not wipe credentials")
	}
}

func TestSupervisorUnrecoverableCloseWipesCredentialsAndStops(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	store := &memoryCreds{blob: []byte("keys")}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	session.emitOpen()
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnConnected
	}, "initial connect")

	session.emitClosed(domain.ReasonLoggedOut)
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnError
	}, "error state after logout")
	waitFor(t, time.Second, func() bool {
		return store.deleteCount() == 1
	}, "credential wipe")

	// No auto-reconnect: dial count stays at 1 past the backoff window.
	time.Sleep(100 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("expected no reconnect after unrecoverable close, got %d dials", dialer.dialCount())
	}

	// Operator re-initialization starts a fresh attempt without stored creds.
	fresh := newFakeSession()
	dialer.queue(fresh)
	sup.Initialize(ctx)
	waitFor(t, time.Second, func() bool {
		return dialer.dialCount() == 2
	}, "operator-initiated dial")
	dialer.mu.Lock()
	lastCreds := dialer.dials[1]
	dialer.mu.Unlock()
	if lastCreds != nil {
		t.Fatalf("expected fresh-challenge dial with nil credentials")
	}
}

func TestSupervisorInitializeIsIdempotentWhileConnected(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	sup := newTestSupervisor(dialer, &memoryCreds{})
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	session.emitOpen()
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnConnected
	}, "connect")

	sup.Initialize(ctx)
	sup.Initialize(ctx)
	if dialer.dialCount() != 1 {
		t.Fatalf("initialize while connected must not redial, got %d dials", dialer.dialCount())
	}
}

func TestSupervisorDeauthorizeLogsOutAndClearsCredentials(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	store := &memoryCreds{blob: []byte("keys")}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	session.emitOpen()
	waitFor(t, time.Second, func() bool {
		return sup.Status().State == domain.ConnConnected
	}, "connect")

	if err := sup.Deauthorize(ctx); err != nil {
		t.Fatalf("deauthorize failed: %v", err)
	}
	if sup.Status().State != domain.ConnDisconnected {
		t.Fatalf("expected disconnected after deauthorize, got %s", sup.Status().State)
	}
	if store.deleteCount() != 1 {
		t.Fatalf("expected credentials deleted")
	}
	session.mu.Lock()
	logouts := session.logouts
	session.mu.Unlock()
	if logouts != 1 {
		t.Fatalf("expected logout sent to transport, got %d", logouts)
	}

	// The torn-down session's close event must not trigger a reconnect.
	time.Sleep(100 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("deauthorized session must not auto-reconnect, got %d dials", dialer.dialCount())
	}
}

func TestSupervisorDeauthorizeDuringDialDiscardsStaleSession(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.queue(session)
	store := &memoryCreds{blob: []byte("keys")}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startDone := make(chan struct{})
	go func() {
		sup.Start(ctx)
		close(startDone)
	}()
	waitFor(t, time.Second, func() bool {
		return dialer.dialCount() == 1
	}, "dial in flight")

	if err := sup.Deauthorize(ctx); err != nil {
		t.Fatalf("deauthorize failed: %v", err)
	}
	if store.deleteCount() != 1 {
		t.Fatalf("expected credentials deleted")
	}

	// Releasing the dial must discard its session, not install it: the
	// resume it carries is based on credentials that no longer exist.
	close(dialer.gate)
	<-startDone
	waitFor(t, time.Second, func() bool {
		return session.isClosed()
	}, "stale session closed")

	if sup.Status().State != domain.ConnDisconnected {
		t.Fatalf("expected disconnected after deauthorize, got %s", sup.Status().State)
	}
	if err := sup.SendText(ctx, "a", "b"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("stale session must not be usable, got %v", err)
	}

	// And no reconnect may sneak in behind the operator's back.
	time.Sleep(100 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("expected no redial after discarded stale dial, got %d", dialer.dialCount())
	}
}

func TestSupervisorPersistsCredentialUpdates(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	store := &memoryCreds{}
	sup := newTestSupervisor(dialer, store)
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	session.emitOpen()

	session.events <- transport.Event{Credentials: []byte("rotated-keys")}
	waitFor(t, time.Second, func() bool {
		return string(store.stored()) == "rotated-keys"
	}, "credential update persisted")
}

func TestSupervisorForwardsInboundMessages(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{}
	dialer.queue(session)
	sup := newTestSupervisor(dialer, &memoryCreds{})
	defer sup.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	session.emitOpen()

	session.events <- transport.Event{Message: &domain.InboundMessage{
		Sender: "9199900001",
		Kind:   domain.PayloadText,
		Text:   "check this link",
	}}

	select {
	case message := <-sup.Messages():
		if message.Sender != "9199900001" || message.Text != "check this link" {
			t.Fatalf("unexpected message %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatalf("message never forwarded")
	}
}

func TestSupervisorSendTextRequiresSession(t *testing.T) {
	sup := newTestSupervisor(&fakeDialer{err: errors.New("no route")}, &memoryCreds{})
	defer sup.Shutdown()

	if err := sup.SendText(context.Background(), "a", "b"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
