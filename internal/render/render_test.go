package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/specfit/internal/repair"
	"github.com/ShayCichocki/specfit/pkg/models"
)

func sampleReport(overall float64) *models.ComplianceReport {
	return models.NewComplianceReport(models.ReportParts{
		Overall:     overall,
		Entities:    models.CategoryScore{Score: 0.5, Matched: 1, Expected: 2},
		Endpoints:   models.CategoryScore{Score: 1, Matched: 3, Expected: 3},
		Validations: models.CategoryScore{Score: 0.25, Matched: 1, Expected: 4},
		Missing: models.Categorized{
			Entities:    []string{"Cart"},
			Validations: []string{"Product.price: gt=0"},
		},
		Diagnostics: []string{"app/models.py:12: unreadable field"},
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("yaml")
	assert.Error(t, err)
}

func TestReportText(t *testing.T) {
	out := ReportText(sampleReport(0.62), 0.80)

	assert.Contains(t, out, "Compliance Report")
	assert.Contains(t, out, "62.0%")
	assert.Contains(t, out, "target 80.0%")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "Missing entities (1)")
	assert.Contains(t, out, "  - Cart")
	assert.Contains(t, out, "Missing validations (1)")
	assert.Contains(t, out, "Product.price: gt=0")
	assert.Contains(t, out, "Diagnostics (1)")
	assert.NotContains(t, out, "Missing endpoints")
}

func TestReportTextNil(t *testing.T) {
	assert.Contains(t, ReportText(nil, 0.8), "no report")
}

func TestReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Report(&buf, FormatJSON, sampleReport(0.62), 0.8))

	doc := buf.String()
	assert.Equal(t, 0.62, gjson.Get(doc, "overall").Float())
	assert.Equal(t, int64(4), gjson.Get(doc, "validations.expected").Int())
	assert.Equal(t, "Cart", gjson.Get(doc, "missing.entities.0").String())
}

func TestRepairText(t *testing.T) {
	res := &repair.Result{
		RunID:   "run-1234abcd",
		Initial: sampleReport(0.50),
		Final:   sampleReport(0.70),
		Attempts: []models.RepairAttempt{
			{Iteration: 1, ComplianceBefore: 0.50, ComplianceAfter: 0.70, Outcome: models.OutcomeImproved, PatternID: "pt-aaaa1111"},
			{Iteration: 2, ComplianceBefore: 0.70, ComplianceAfter: 0.60, Outcome: models.OutcomeRegressed},
			{Iteration: 3, ComplianceBefore: 0.70, ComplianceAfter: 0.70, Outcome: models.OutcomeGenerationFailed, Error: "patch generation failed: timeout"},
		},
		StopReason: repair.StopMaxIterations,
	}

	out := RepairText(res, 0.8)
	assert.Contains(t, out, "Repair run-1234abcd")
	assert.Contains(t, out, "#1 improved")
	assert.Contains(t, out, "(+0.20)")
	assert.Contains(t, out, "pt-aaaa1111")
	assert.Contains(t, out, "(-0.10)")
	assert.Contains(t, out, "patch generation failed: timeout")
	assert.Contains(t, out, "max-iterations")
	assert.Contains(t, out, "50.0% -> 70.0%")
	assert.Equal(t, 1, strings.Count(out, "Compliance Report"))
}

func TestRepairSkipped(t *testing.T) {
	var buf bytes.Buffer
	res := &repair.Result{RunID: "run-1", Skipped: true, SkipReason: "compliance 0.85 >= target 0.80"}
	require.NoError(t, Repair(&buf, FormatText, res, 0.8))
	assert.Contains(t, buf.String(), "skipped: compliance 0.85 >= target 0.80")

	buf.Reset()
	require.NoError(t, Repair(&buf, FormatJSON, res, 0.8))
	assert.True(t, gjson.Get(buf.String(), "skipped").Bool())
	assert.Equal(t, "run-1", gjson.Get(buf.String(), "run_id").String())
}
