package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/quota"
)

type fakeTransport struct {
	mu          sync.Mutex
	texts       []string
	downloads   []string
	mediaData   []byte
	downloadErr error
}

func (f *fakeTransport) SendText(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) Download(_ context.Context, mediaRef string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, mediaRef)
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.mediaData, nil
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type orchestratorCall struct {
	method string
	to     string
	arg    string
	data   []byte
}

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []orchestratorCall

	// acksAtCall captures how many transport sends had happened when the
	// orchestrator was invoked, to verify the working ack ordering.
	transport  *fakeTransport
	acksAtCall []int
}

func (f *fakeOrchestrator) record(call orchestratorCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.transport != nil {
		f.acksAtCall = append(f.acksAtCall, len(f.transport.sentTexts()))
	}
}

func (f *fakeOrchestrator) AnalyzeText(_ context.Context, to, text string) error {
	f.record(orchestratorCall{method: "text", to: to, arg: text})
	return nil
}

func (f *fakeOrchestrator) AnalyzeMedia(_ context.Context, to string, message domain.InboundMessage, data []byte) error {
	f.record(orchestratorCall{method: "media", to: to, arg: message.MediaRef, data: data})
	return nil
}

func (f *fakeOrchestrator) ReportJobStatus(_ context.Context, to, jobID string) error {
	f.record(orchestratorCall{method: "status", to: to, arg: jobID})
	return nil
}

func (f *fakeOrchestrator) DeliverReport(_ context.Context, to, reportID string) error {
	f.record(orchestratorCall{method: "pdf", to: to, arg: reportID})
	return nil
}

func (f *fakeOrchestrator) callList() []orchestratorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestratorCall(nil), f.calls...)
}

type failingQuota struct{}

func (failingQuota) CheckAndConsume(context.Context, string) (quota.Decision, error) {
	return quota.Decision{}, errors.New("store down")
}

func (failingQuota) Usage(context.Context, string) (quota.Usage, error) {
	return quota.Usage{}, errors.New("store down")
}

func (failingQuota) Reset(context.Context, string) error {
	return errors.New("store down")
}

type fixture struct {
	dispatcher   *Dispatcher
	transport    *fakeTransport
	orchestrator *fakeOrchestrator
	store        quota.Store
}

func newFixture(store quota.Store, failOpen bool) fixture {
	transport := &fakeTransport{mediaData: []byte("media-bytes")}
	orch := &fakeOrchestrator{transport: transport}
	dispatcher := New(Dependencies{
		Quota:         store,
		Transport:     transport,
		Orchestrator:  orch,
		MinTextLength: 10,
		QuotaFailOpen: failOpen,
	})
	return fixture{dispatcher: dispatcher, transport: transport, orchestrator: orch, store: store}
}

func textMessage(sender, text string) domain.InboundMessage {
	return domain.InboundMessage{
		Sender:    sender,
		Kind:      domain.PayloadText,
		Text:      text,
		ArrivedAt: time.Now(),
	}
}

func TestDispatcherFreeCommandsNeverConsumeQuota(t *testing.T) {
	store := quota.NewMemoryStore(1, 7)
	f := newFixture(store, true)
	ctx := context.Background()

	// Exhaust the single daily unit.
	f.dispatcher.handle(ctx, textMessage("a", "please check this suspicious text"))

	for i := 0; i < 5; i++ {
		f.dispatcher.handle(ctx, textMessage("a", "help"))
		f.dispatcher.handle(ctx, textMessage("a", "status job-1"))
		f.dispatcher.handle(ctx, textMessage("a", "pdf r1"))
	}

	usage, err := store.Usage(ctx, "a")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if usage.Count != 1 {
		t.Fatalf("commands must be free, expected count 1, got %d", usage.Count)
	}

	calls := f.orchestrator.callList()
	statuses, pdfs := 0, 0
	for _, call := range calls {
		switch call.method {
		case "status":
			statuses++
		case "pdf":
			pdfs++
		}
	}
	if statuses != 5 || pdfs != 5 {
		t.Fatalf("commands past the limit must still run, got %d status / %d pdf", statuses, pdfs)
	}
}

func TestDispatcherQuotaDenialRepliesWithUsageAndSkipsBackend(t *testing.T) {
	store := quota.NewMemoryStore(1, 7)
	f := newFixture(store, true)
	ctx := context.Background()

	f.dispatcher.handle(ctx, textMessage("a", "first billable suspicious text"))
	f.dispatcher.handle(ctx, textMessage("a", "second billable suspicious text"))

	calls := f.orchestrator.callList()
	if len(calls) != 1 {
		t.Fatalf("denied request must not reach the backend, got %d calls", len(calls))
	}

	texts := f.transport.sentTexts()
	denial := texts[len(texts)-1]
	if !strings.Contains(denial, "Daily limit reached") || !strings.Contains(denial, "0 remaining") {
		t.Fatalf("expected usage snapshot in denial, got:\n%s", denial)
	}
	if !strings.Contains(denial, "resets at") {
		t.Fatalf("expected reset time in denial, got:\n%s", denial)
	}

	// The denial reply itself is free: count is still at the limit.
	usage, _ := store.Usage(ctx, "a")
	if usage.Count != 1 {
		t.Fatalf("denial reply must not be billed, got count %d", usage.Count)
	}
}

func TestDispatcherSendsWorkingAckBeforeAnalysis(t *testing.T) {
	f := newFixture(quota.NewMemoryStore(10, 7), true)

	f.dispatcher.handle(context.Background(), textMessage("a", "check this long suspicious text"))

	f.orchestrator.mu.Lock()
	defer f.orchestrator.mu.Unlock()
	if len(f.orchestrator.acksAtCall) != 1 || f.orchestrator.acksAtCall[0] != 1 {
		t.Fatalf("expected exactly one ack sent before analysis, got %v", f.orchestrator.acksAtCall)
	}
}

func TestDispatcherShortTextGetsHintWithoutQuota(t *testing.T) {
	store := quota.NewMemoryStore(10, 7)
	f := newFixture(store, true)

	f.dispatcher.handle(context.Background(), textMessage("a", "hi"))

	if len(f.orchestrator.callList()) != 0 {
		t.Fatalf("short text must not be analyzed")
	}
	usage, _ := store.Usage(context.Background(), "a")
	if usage.Count != 0 {
		t.Fatalf("short text must be free, got count %d", usage.Count)
	}
	texts := f.transport.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "too short") {
		t.Fatalf("expected short-text hint, got %v", texts)
	}
}

func TestDispatcherUnsupportedKindGetsGuidanceWithoutQuota(t *testing.T) {
	store := quota.NewMemoryStore(10, 7)
	f := newFixture(store, true)

	f.dispatcher.handle(context.Background(), domain.InboundMessage{
		Sender: "a",
		Kind:   domain.PayloadUnsupported,
	})

	usage, _ := store.Usage(context.Background(), "a")
	if usage.Count != 0 {
		t.Fatalf("unsupported payloads must be free, got count %d", usage.Count)
	}
	texts := f.transport.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "only analyze") {
		t.Fatalf("expected guidance reply, got %v", texts)
	}
}

func TestDispatcherMediaDownloadsThenAnalyzes(t *testing.T) {
	f := newFixture(quota.NewMemoryStore(10, 7), true)

	f.dispatcher.handle(context.Background(), domain.InboundMessage{
		Sender:   "a",
		Kind:     domain.PayloadVideo,
		MediaRef: "m77",
		MimeType: "video/mp4",
	})

	calls := f.orchestrator.callList()
	if len(calls) != 1 || calls[0].method != "media" {
		t.Fatalf("expected one media analysis, got %+v", calls)
	}
	if string(calls[0].data) != "media-bytes" {
		t.Fatalf("expected downloaded bytes handed to orchestrator")
	}
}

func TestDispatcherMediaDownloadFailureRepliesSpecifically(t *testing.T) {
	f := newFixture(quota.NewMemoryStore(10, 7), true)
	f.transport.downloadErr = errors.New("media expired")

	f.dispatcher.handle(context.Background(), domain.InboundMessage{
		Sender:   "a",
		Kind:     domain.PayloadImage,
		MediaRef: "m1",
	})

	if len(f.orchestrator.callList()) != 0 {
		t.Fatalf("failed download must not reach the backend")
	}
	texts := f.transport.sentTexts()
	last := texts[len(texts)-1]
	if !strings.Contains(last, "Could not download") {
		t.Fatalf("expected download failure reply, got:\n%s", last)
	}
}

func TestDispatcherQuotaStoreOutageFailsOpen(t *testing.T) {
	f := newFixture(failingQuota{}, true)

	f.dispatcher.handle(context.Background(), textMessage("a", "long enough suspicious text"))

	if len(f.orchestrator.callList()) != 1 {
		t.Fatalf("fail-open must let the request through")
	}
}

func TestDispatcherQuotaStoreOutageFailsClosedWhenConfigured(t *testing.T) {
	f := newFixture(failingQuota{}, false)

	f.dispatcher.handle(context.Background(), textMessage("a", "long enough suspicious text"))

	if len(f.orchestrator.callList()) != 0 {
		t.Fatalf("fail-closed must block the request")
	}
	texts := f.transport.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "temporarily unavailable") {
		t.Fatalf("expected outage reply, got %v", texts)
	}
}

func TestDispatcherRunProcessesStreamConcurrently(t *testing.T) {
	messages := make(chan domain.InboundMessage)
	transport := &fakeTransport{mediaData: []byte("x")}
	orch := &fakeOrchestrator{}
	dispatcher := New(Dependencies{
		Messages:      messages,
		Quota:         quota.NewMemoryStore(100, 7),
		Transport:     transport,
		Orchestrator:  orch,
		MinTextLength: 5,
		QuotaFailOpen: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		messages <- textMessage("a", "suspicious enough text")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(orch.callList()) == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(orch.callList()) != 5 {
		t.Fatalf("expected 5 analyses, got %d", len(orch.callList()))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not drain on cancel")
	}
}
