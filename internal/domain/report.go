package domain

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Report is the analysis verdict returned by the backend, either inline or as
// the result of a polled job. ReportID doubles as the handle for fetching the
// rendered PDF artifact later.
type Report struct {
	ReportID         string    `json:"report_id"`
	OriginLabel      string    `json:"origin_label"`
	OriginConfidence float64   `json:"origin_confidence"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Patterns         []string  `json:"patterns"`
	Recommendations  []string  `json:"recommendations"`
}
