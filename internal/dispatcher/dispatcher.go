package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/privacy"
	"github.com/scamshield/wa-gateway/internal/quota"
)

// Orchestrator performs the analysis work and sends result replies itself.
type Orchestrator interface {
	AnalyzeText(ctx context.Context, to, text string) error
	AnalyzeMedia(ctx context.Context, to string, message domain.InboundMessage, data []byte) error
	ReportJobStatus(ctx context.Context, to, jobID string) error
	DeliverReport(ctx context.Context, to, reportID string) error
}

// Transport is the slice of the session the dispatcher needs directly.
type Transport interface {
	SendText(ctx context.Context, to, text string) error
	Download(ctx context.Context, mediaRef string) ([]byte, error)
}

type Dependencies struct {
	Messages      <-chan domain.InboundMessage
	Quota         quota.Store
	Transport     Transport
	Orchestrator  Orchestrator
	Logger        *log.Logger
	MinTextLength int
	QuotaFailOpen bool
}

// Dispatcher consumes the inbound message stream, classifies each message,
// enforces quota before paid work, and hands billable payloads to the
// orchestrator. Each message is handled in its own goroutine; a failure in
// one never affects another or the connection supervisor.
type Dispatcher struct {
	messages      <-chan domain.InboundMessage
	quota         quota.Store
	transport     Transport
	orchestrator  Orchestrator
	logger        *log.Logger
	minTextLength int
	quotaFailOpen bool

	wg sync.WaitGroup
}

func New(deps Dependencies) *Dispatcher {
	if deps.MinTextLength <= 0 {
		deps.MinTextLength = 10
	}
	return &Dispatcher{
		messages:      deps.Messages,
		quota:         deps.Quota,
		transport:     deps.Transport,
		orchestrator:  deps.Orchestrator,
		logger:        deps.Logger,
		minTextLength: deps.MinTextLength,
		quotaFailOpen: deps.QuotaFailOpen,
	}
}

// Run consumes messages until ctx is canceled or the stream closes, then
// waits for in-flight handlers to drain.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-d.messages:
			if !ok {
				return
			}
			d.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer d.wg.Done()
				d.handle(ctx, m)
			}(message)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, message domain.InboundMessage) {
	switch message.Kind {
	case domain.PayloadText:
		d.handleText(ctx, message)
	case domain.PayloadImage, domain.PayloadVideo, domain.PayloadAudio, domain.PayloadDocument:
		d.handleMedia(ctx, message)
	default:
		d.reply(ctx, message.Sender, unsupportedText)
	}
}

func (d *Dispatcher) handleText(ctx context.Context, message domain.InboundMessage) {
	if cmd, ok := parseCommand(message.Text); ok {
		d.handleCommand(ctx, message.Sender, cmd)
		return
	}

	if len([]rune(message.Text)) < d.minTextLength {
		d.reply(ctx, message.Sender, shortTextHint)
		return
	}

	if !d.consumeQuota(ctx, message.Sender) {
		return
	}
	d.reply(ctx, message.Sender, workingText)

	if err := d.orchestrator.AnalyzeText(ctx, message.Sender, message.Text); err != nil {
		d.logf("text analysis reply failed sender=%s err=%v", privacy.MaskIdentity(message.Sender), err)
	}
}

func (d *Dispatcher) handleMedia(ctx context.Context, message domain.InboundMessage) {
	if !d.consumeQuota(ctx, message.Sender) {
		return
	}
	d.reply(ctx, message.Sender, workingText)

	data, err := d.transport.Download(ctx, message.MediaRef)
	if err != nil {
		d.logf("media download failed sender=%s ref=%s err=%v", privacy.MaskIdentity(message.Sender), message.MediaRef, err)
		d.reply(ctx, message.Sender, "Could not download that attachment. Please send it again.")
		return
	}

	if err := d.orchestrator.AnalyzeMedia(ctx, message.Sender, message, data); err != nil {
		d.logf("media analysis reply failed sender=%s err=%v", privacy.MaskIdentity(message.Sender), err)
	}
}

// handleCommand serves the free informational commands; none of these touch
// the quota store, even past the daily limit.
func (d *Dispatcher) handleCommand(ctx context.Context, sender string, cmd command) {
	switch cmd.kind {
	case commandHelp:
		d.reply(ctx, sender, helpText)
	case commandStatus:
		if cmd.arg == "" {
			d.reply(ctx, sender, `Usage: status <job id>`)
			return
		}
		if err := d.orchestrator.ReportJobStatus(ctx, sender, cmd.arg); err != nil {
			d.logf("status reply failed sender=%s err=%v", privacy.MaskIdentity(sender), err)
		}
	case commandPDF:
		if cmd.arg == "" {
			d.reply(ctx, sender, `Usage: pdf <report id>`)
			return
		}
		if err := d.orchestrator.DeliverReport(ctx, sender, cmd.arg); err != nil {
			d.logf("pdf delivery failed sender=%s err=%v", privacy.MaskIdentity(sender), err)
		}
	}
}

// consumeQuota charges one unit for a billable request. Storage failures are
// logged loudly and resolved by the configured fail-open policy so a transient
// outage does not silently block (or admit) everyone.
func (d *Dispatcher) consumeQuota(ctx context.Context, sender string) bool {
	decision, err := d.quota.CheckAndConsume(ctx, sender)
	if err != nil {
		d.logf("QUOTA STORE UNAVAILABLE sender=%s fail_open=%t err=%v", privacy.MaskIdentity(sender), d.quotaFailOpen, err)
		if d.quotaFailOpen {
			return true
		}
		d.reply(ctx, sender, "The service is temporarily unavailable. Please try again in a few minutes.")
		return false
	}

	if decision.Allowed {
		return true
	}

	usage := decision.Usage
	d.reply(ctx, sender, fmt.Sprintf(
		"Daily limit reached: %d of %d analyses used, %d remaining.\nYour quota resets at %s.\nCommands like help, status, and pdf stay available.",
		usage.Count,
		usage.Limit,
		usage.Remaining,
		usage.ResetsAt.Format("15:04 on Jan 2"),
	))
	return false
}

func (d *Dispatcher) reply(ctx context.Context, to, text string) {
	if err := d.transport.SendText(ctx, to, text); err != nil {
		d.logf("reply send failed to=%s err=%v", privacy.MaskIdentity(to), err)
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
