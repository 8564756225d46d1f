// Package report renders a finished batch result as Markdown and JSON for
// external consumers. It adds no protocol or concurrency logic of its own.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pssnyder/engine-tester/internal/batch"
	"github.com/pssnyder/engine-tester/internal/conformance"
)

// DefaultBaseName returns the timestamped report base name used when the
// operator does not override the output paths.
func DefaultBaseName(at time.Time) string {
	return "engine_test_report_" + at.Format("20060102_150405")
}

// StageRecord is the serialized form of one stage result.
type StageRecord struct {
	Name     string  `json:"name"`
	OK       bool    `json:"ok"`
	Critical bool    `json:"critical"`
	Duration float64 `json:"duration"`
	Detail   string  `json:"detail"`
	FailType string  `json:"fail_type,omitempty"`
}

// EngineRecord is the serialized form of one engine's session.
type EngineRecord struct {
	Engine        string        `json:"engine"`
	Path          string        `json:"path"`
	CriticalPass  bool          `json:"critical_pass"`
	TotalDuration float64       `json:"total_duration"`
	Stages        []StageRecord `json:"stages"`
}

// Records flattens a batch result into the stable serialized contract.
func Records(result batch.Result) []EngineRecord {
	records := make([]EngineRecord, 0, len(result.Sessions))
	for _, session := range result.Sessions {
		record := EngineRecord{
			Engine:        session.Engine.Name,
			Path:          session.Engine.Path,
			CriticalPass:  session.Verdict() == conformance.OutcomePass,
			TotalDuration: session.Elapsed.Seconds(),
		}
		for _, stage := range session.Stages {
			record.Stages = append(record.Stages, StageRecord{
				Name:     string(stage.Stage.Kind),
				OK:       stage.Passed(),
				Critical: stage.Stage.Critical,
				Duration: stage.Elapsed.Seconds(),
				Detail:   stage.Detail,
				FailType: string(stage.Category),
			})
		}
		records = append(records, record)
	}
	return records
}

// WriteJSON emits the batch as an indented JSON array of engine records.
func WriteJSON(w io.Writer, result batch.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(Records(result)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteMarkdown emits the batch as a per-engine stage table report.
func WriteMarkdown(w io.Writer, result batch.Result) error {
	records := Records(result)
	passCount := 0
	for _, record := range records {
		if record.CriticalPass {
			passCount++
		}
	}

	var b strings.Builder
	b.WriteString("# Engine Test Report\n\n")
	fmt.Fprintf(&b, "Total engines: %d\n\n", len(records))
	fmt.Fprintf(&b, "Critical PASS: %d/%d\n\n", passCount, len(records))

	for _, record := range records {
		fmt.Fprintf(&b, "## Engine: %s\n", record.Engine)
		fmt.Fprintf(&b, "Path: `%s`\n", record.Path)
		fmt.Fprintf(&b, "Result: %s (critical tests)\n", verdictWord(record.CriticalPass))
		fmt.Fprintf(&b, "Total Duration: %.2fs\n\n", record.TotalDuration)
		b.WriteString("| Stage | OK | Time (s) | Detail |\n")
		b.WriteString("|-------|----|----------|--------|\n")
		for _, stage := range record.Stages {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s |\n",
				stage.Name, okWord(stage.OK), stage.Duration, stageDetail(stage))
		}
		b.WriteString("\n")
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func verdictWord(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func okWord(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

const detailCellMax = 120

// stageDetail renders a table-safe detail cell, prefixed with the failure
// category when present.
func stageDetail(stage StageRecord) string {
	detail := stage.Detail
	if stage.FailType != "" {
		detail = stage.FailType + ":" + detail
	}
	detail = strings.ReplaceAll(detail, "|", "/")
	detail = strings.ReplaceAll(detail, "\n", " ")
	if len(detail) > detailCellMax {
		detail = detail[:detailCellMax]
	}
	return detail
}
