package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/scamshield/wa-gateway/internal/domain"
)

const (
	InputText = "text"
	InputURL  = "url"
	InputFile = "file"
)

// AnalyzeInput is one submission to the backend. Content carries text/url
// payloads; Data carries file payloads.
type AnalyzeInput struct {
	InputType string
	Content   string
	Filename  string
	MimeType  string
	Data      []byte
}

// AnalyzeOutcome is either an inline report or a handle for async work,
// never both.
type AnalyzeOutcome struct {
	Report *domain.Report
	JobID  string
}

type originBody struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type reportBody struct {
	ReportID        string     `json:"report_id"`
	Origin          originBody `json:"origin"`
	RiskLevel       string     `json:"risk_level"`
	Patterns        []string   `json:"patterns"`
	Recommendations []string   `json:"recommendations"`
}

type jobBody struct {
	JobID    string          `json:"job_id"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
}

func decodeReport(raw []byte) (*domain.Report, error) {
	var body reportBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode report body: %w", err)
	}
	if body.ReportID == "" {
		return nil, fmt.Errorf("report body missing report_id")
	}
	return &domain.Report{
		ReportID:         body.ReportID,
		OriginLabel:      body.Origin.Label,
		OriginConfidence: body.Origin.Confidence,
		RiskLevel:        domain.RiskLevel(body.RiskLevel),
		Patterns:         body.Patterns,
		Recommendations:  body.Recommendations,
	}, nil
}
