package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/scamshield/wa-gateway/internal/analysis"
	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/privacy"
)

// Sender delivers replies over the chat transport.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendDocument(ctx context.Context, to, filename, mimeType string, data []byte) error
}

// Backend is the analysis service consumed by the orchestrator.
type Backend interface {
	Analyze(ctx context.Context, input analysis.AnalyzeInput) (analysis.AnalyzeOutcome, error)
	JobStatus(ctx context.Context, jobID string) (domain.AnalysisJob, error)
	ExportPDF(ctx context.Context, reportID string, maxBytes int64) ([]byte, error)
}

type Dependencies struct {
	Backend          Backend
	Sender           Sender
	Cache            *analysis.ResultCache
	Logger           *log.Logger
	PollInterval     time.Duration
	PollMaxAttempts  int
	MaxDocumentBytes int64
}

// Orchestrator submits content to the analysis backend, polls async jobs to
// completion, and sends the formatted outcome back over the transport. Every
// processing failure becomes a specific user-facing reply; the returned error
// only reports reply-delivery failures.
type Orchestrator struct {
	backend          Backend
	sender           Sender
	cache            *analysis.ResultCache
	logger           *log.Logger
	pollInterval     time.Duration
	pollMaxAttempts  int
	maxDocumentBytes int64
}

func New(deps Dependencies) *Orchestrator {
	if deps.PollInterval <= 0 {
		deps.PollInterval = 3 * time.Second
	}
	if deps.PollMaxAttempts <= 0 {
		deps.PollMaxAttempts = 60
	}
	if deps.MaxDocumentBytes <= 0 {
		deps.MaxDocumentBytes = 16 * 1024 * 1024
	}
	return &Orchestrator{
		backend:          deps.Backend,
		sender:           deps.Sender,
		cache:            deps.Cache,
		logger:           deps.Logger,
		pollInterval:     deps.PollInterval,
		pollMaxAttempts:  deps.PollMaxAttempts,
		maxDocumentBytes: deps.MaxDocumentBytes,
	}
}

// AnalyzeText handles a text submission end to end. Messages that are a bare
// URL go to the backend as input_type=url.
func (o *Orchestrator) AnalyzeText(ctx context.Context, to, text string) error {
	inputType := analysis.InputText
	content := strings.TrimSpace(text)
	if isBareURL(content) {
		inputType = analysis.InputURL
	}

	var signature string
	if o.cache != nil {
		signature = o.cache.Signature(inputType, content)
		if report, ok := o.cache.Get(signature); ok {
			return o.sender.SendText(ctx, to, FormatReport(report))
		}
	}

	outcome, err := o.backend.Analyze(ctx, analysis.AnalyzeInput{
		InputType: inputType,
		Content:   content,
	})
	if err != nil {
		o.logf("text analysis submit failed sender=%s err=%v", privacy.MaskIdentity(to), err)
		return o.sender.SendText(ctx, to, submitFailureMessage())
	}

	report, reply := o.resolveOutcome(ctx, outcome)
	if report != nil && o.cache != nil {
		o.cache.Set(signature, *report)
	}
	return o.sender.SendText(ctx, to, reply)
}

// AnalyzeMedia handles an already-downloaded attachment.
func (o *Orchestrator) AnalyzeMedia(ctx context.Context, to string, message domain.InboundMessage, data []byte) error {
	outcome, err := o.backend.Analyze(ctx, analysis.AnalyzeInput{
		InputType: analysis.InputFile,
		Filename:  mediaFilename(message),
		MimeType:  message.MimeType,
		Data:      data,
	})
	if err != nil {
		o.logf("media analysis submit failed sender=%s kind=%s err=%v", privacy.MaskIdentity(to), message.Kind, err)
		return o.sender.SendText(ctx, to, submitFailureMessage())
	}

	_, reply := o.resolveOutcome(ctx, outcome)
	return o.sender.SendText(ctx, to, reply)
}

// resolveOutcome turns a submission outcome into the final reply, polling the
// job to a terminal state when the backend deferred the work.
func (o *Orchestrator) resolveOutcome(ctx context.Context, outcome analysis.AnalyzeOutcome) (*domain.Report, string) {
	if outcome.Report != nil {
		return outcome.Report, FormatReport(*outcome.Report)
	}
	return o.pollJob(ctx, outcome.JobID)
}

// pollJob polls on a fixed interval until a terminal status or attempt
// exhaustion. Exhaustion is a local timeout, not a job mutation: the job id
// stays valid for the free status command.
func (o *Orchestrator) pollJob(ctx context.Context, jobID string) (*domain.Report, string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, timeoutMessage(jobID)
		case <-ticker.C:
		}

		job, err := o.backend.JobStatus(ctx, jobID)
		if err != nil {
			// Transient poll failures burn an attempt but do not abort the series.
			o.logf("job poll failed job_id=%s attempt=%d err=%v", jobID, attempt, err)
			continue
		}

		switch job.Status {
		case domain.JobStatusSucceeded:
			report, err := analysis.DecodeResult(job.Result)
			if err != nil {
				o.logf("job result decode failed job_id=%s err=%v", jobID, err)
				return nil, fmt.Sprintf("Analysis finished but the result could not be read. Job id: %s.", jobID)
			}
			return report, FormatReport(*report)
		case domain.JobStatusFailed:
			reason := job.ErrorMessage
			if reason == "" {
				reason = "no reason given by the analysis service"
			}
			return nil, fmt.Sprintf("Analysis failed: %s", reason)
		}
	}

	return nil, timeoutMessage(jobID)
}

// ReportJobStatus answers the free `status <jobId>` command.
func (o *Orchestrator) ReportJobStatus(ctx context.Context, to, jobID string) error {
	job, err := o.backend.JobStatus(ctx, jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			return o.sender.SendText(ctx, to, fmt.Sprintf("No job found with id %s.", jobID))
		}
		o.logf("status lookup failed job_id=%s err=%v", jobID, err)
		return o.sender.SendText(ctx, to, "Could not reach the analysis service. Try again in a moment.")
	}

	switch job.Status {
	case domain.JobStatusSucceeded:
		report, err := analysis.DecodeResult(job.Result)
		if err != nil {
			return o.sender.SendText(ctx, to, fmt.Sprintf("Job %s finished but the result could not be read.", jobID))
		}
		return o.sender.SendText(ctx, to, FormatReport(*report))
	case domain.JobStatusFailed:
		reason := job.ErrorMessage
		if reason == "" {
			reason = "no reason given"
		}
		return o.sender.SendText(ctx, to, fmt.Sprintf("Job %s failed: %s", jobID, reason))
	default:
		if job.Progress > 0 {
			return o.sender.SendText(ctx, to, fmt.Sprintf("Job %s is still running (%d%% done).", jobID, job.Progress))
		}
		return o.sender.SendText(ctx, to, fmt.Sprintf("Job %s is still running.", jobID))
	}
}

// DeliverReport fetches the rendered PDF and sends it as a document. Anything
// over the transport's attachment ceiling is refused before an upload is
// attempted.
func (o *Orchestrator) DeliverReport(ctx context.Context, to, reportID string) error {
	data, err := o.backend.ExportPDF(ctx, reportID, o.maxDocumentBytes)
	if err != nil {
		if errors.Is(err, analysis.ErrArtifactTooLarge) {
			return o.sender.SendText(ctx, to, fmt.Sprintf(
				"The PDF for report %s is larger than the %d MB chat attachment limit. Download it from the web dashboard instead.",
				reportID,
				o.maxDocumentBytes/(1024*1024),
			))
		}
		o.logf("pdf export failed report_id=%s err=%v", reportID, err)
		return o.sender.SendText(ctx, to, fmt.Sprintf("Could not fetch the PDF for report %s. Try again later.", reportID))
	}

	return o.sender.SendDocument(ctx, to, "scam-report-"+reportID+".pdf", "application/pdf", data)
}

func isBareURL(content string) bool {
	if strings.ContainsAny(content, " \n\t") {
		return false
	}
	parsed, err := url.Parse(content)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func mediaFilename(message domain.InboundMessage) string {
	switch message.Kind {
	case domain.PayloadImage:
		return "attachment.jpg"
	case domain.PayloadVideo:
		return "attachment.mp4"
	case domain.PayloadAudio:
		return "attachment.ogg"
	default:
		return "attachment.bin"
	}
}

func submitFailureMessage() string {
	return "The analysis service is unavailable right now. Please try again in a few minutes."
}

func timeoutMessage(jobID string) string {
	return fmt.Sprintf(
		"Analysis is taking longer than expected. Check the result later with: status %s",
		jobID,
	)
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
