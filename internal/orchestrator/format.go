package orchestrator

import (
	"fmt"
	"strings"

	"github.com/scamshield/wa-gateway/internal/domain"
)

const (
	maxPatternsShown        = 5
	maxRecommendationsShown = 3
)

// riskHeadlines drives the verdict banner. Unknown levels fall through to the
// minimal summary so a backend vocabulary change never suppresses a verdict.
var riskHeadlines = map[domain.RiskLevel]string{
	domain.RiskLow:      "LOW RISK - no strong scam signals found",
	domain.RiskMedium:   "MEDIUM RISK - some warning signs, stay cautious",
	domain.RiskHigh:     "HIGH RISK - strong scam indicators detected",
	domain.RiskCritical: "CRITICAL RISK - almost certainly a scam",
}

// FormatReport renders the chat reply for a verdict. Previews are bounded to
// keep replies inside transport message limits.
func FormatReport(report domain.Report) string {
	message, err := formatFull(report)
	if err != nil {
		return formatMinimal(report)
	}
	return message
}

func formatFull(report domain.Report) (string, error) {
	headline, known := riskHeadlines[report.RiskLevel]
	if !known {
		return "", fmt.Errorf("unknown risk level %q", report.RiskLevel)
	}
	if report.ReportID == "" {
		return "", fmt.Errorf("report missing identifier")
	}

	builder := &strings.Builder{}
	builder.WriteString("Scam analysis result\n")
	builder.WriteString(headline)
	builder.WriteString("\n")

	if report.OriginLabel != "" {
		fmt.Fprintf(
			builder,
			"\nOrigin: %s (%.0f%% confidence)\n",
			strings.ReplaceAll(report.OriginLabel, "_", " "),
			report.OriginConfidence*100,
		)
	}

	if len(report.Patterns) > 0 {
		builder.WriteString("\nPatterns found:\n")
		for index, pattern := range report.Patterns {
			if index == maxPatternsShown {
				fmt.Fprintf(builder, "  ...and %d more\n", len(report.Patterns)-maxPatternsShown)
				break
			}
			fmt.Fprintf(builder, "  %d. %s\n", index+1, pattern)
		}
	}

	if len(report.Recommendations) > 0 {
		builder.WriteString("\nWhat to do:\n")
		for index, recommendation := range report.Recommendations {
			if index == maxRecommendationsShown {
				break
			}
			fmt.Fprintf(builder, "  - %s\n", recommendation)
		}
	}

	fmt.Fprintf(builder, "\nFull PDF report: reply \"pdf %s\"", report.ReportID)
	return builder.String(), nil
}

// formatMinimal is the fallback when the full template cannot render: the
// verdict still reaches the user.
func formatMinimal(report domain.Report) string {
	level := string(report.RiskLevel)
	if level == "" {
		level = "unknown"
	}
	if report.ReportID == "" {
		return fmt.Sprintf("Analysis complete. Risk level: %s.", level)
	}
	return fmt.Sprintf("Analysis complete. Risk level: %s. Report id: %s.", level, report.ReportID)
}
