package suite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crucible/internal/engine"
)

// ResultSummary is the serialized view of one finished test.
type ResultSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Severity engine.Severity `json:"severity"`
	Status   engine.Status   `json:"status"`
	Duration time.Duration   `json:"duration"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
}

// Report is the aggregated outcome of the most recent suite run.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored"`
	PassRate    float64       `json:"pass_rate"`
	Duration    time.Duration `json:"duration"`

	// BySeverity groups every result under its case severity
	BySeverity map[engine.Severity][]ResultSummary `json:"by_severity"`
	// Failures lists FAILED and ERROR results with duration and error text
	Failures []ResultSummary `json:"failures,omitempty"`
}

// GenerateReport aggregates the most recent run: overall statistics,
// results grouped by severity, and the failed/errored list. It never fails;
// an empty run yields an empty report.
func (c *Coordinator) GenerateReport() *Report {
	report := &Report{
		GeneratedAt: time.Now(),
		BySeverity:  make(map[engine.Severity][]ResultSummary),
	}
	for _, result := range c.Results() {
		summary := summarize(result)
		report.Total++
		report.Duration += summary.Duration
		report.BySeverity[summary.Severity] = append(report.BySeverity[summary.Severity], summary)

		switch result.Status {
		case engine.StatusPassed:
			report.Passed++
		case engine.StatusFailed:
			report.Failed++
			report.Failures = append(report.Failures, summary)
		case engine.StatusSkipped:
			report.Skipped++
		case engine.StatusError:
			report.Errored++
			report.Failures = append(report.Failures, summary)
		}
	}
	if executed := report.Total - report.Skipped; executed > 0 {
		report.PassRate = float64(report.Passed) / float64(executed) * 100
	}
	return report
}

func summarize(result *engine.TestResult) ResultSummary {
	summary := ResultSummary{
		ID:       result.ID,
		Status:   result.Status,
		Duration: result.Duration(),
		Attempts: result.Attempts,
		Error:    result.Error,
	}
	if result.Case != nil {
		summary.Name = result.Case.Name
		summary.Severity = result.Case.Severity
		if summary.Name == "" {
			summary.Name = result.Case.ID
		}
	}
	return summary
}

// ReportSink persists a generated report.
type ReportSink interface {
	Write(report *Report) error
}

// JSONSink writes the report as an indented JSON document to a file,
// creating parent directories as needed.
type JSONSink struct {
	Path string
}

func (s *JSONSink) Write(report *Report) error {
	doc, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, doc, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
