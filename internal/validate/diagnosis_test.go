package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
)

const validDiagnosis = `# Diagnosis — Step 3

Gate: verification

## Hypotheses

- H1: upstream output quality degraded
- H2: current-step output incomplete
- H3: criteria misinterpreted

Selected: H2

## Evidence

- the step output is 60 bytes
- the verification log lists a FAIL on the size criterion

## Action Plan

- regenerate the step output in full
- re-run the verification gate
`

func writeDiagnosis(t *testing.T, projectDir string, step int, gate, content string) {
	t.Helper()
	path := DiagnosisPath(projectDir, step, gate)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDiagnosis_ValidLog(t *testing.T) {
	projectDir := t.TempDir()
	writeDiagnosis(t, projectDir, 3, "verification", validDiagnosis)

	res := Diagnosis(projectDir, 3, "verification")
	assert.True(t, res.Valid, "warnings: %v", res.Warnings)
}

func TestDiagnosis_MissingFile(t *testing.T) {
	res := Diagnosis(t.TempDir(), 3, "verification")
	assert.False(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "AD1 FAIL")
}

func TestDiagnosis_GateMismatch(t *testing.T) {
	projectDir := t.TempDir()
	writeDiagnosis(t, projectDir, 3, "pacs", validDiagnosis) // content says verification

	res := Diagnosis(projectDir, 3, "pacs")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "AD3 FAIL")
}

func TestDiagnosis_ForwardReference(t *testing.T) {
	projectDir := t.TempDir()
	content := strings.Replace(validDiagnosis,
		"- regenerate the step output in full",
		"- copy the structure from step-8 once it exists", 1)
	writeDiagnosis(t, projectDir, 3, "verification", content)

	res := Diagnosis(projectDir, 3, "verification")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "AD7 FAIL")
}

func TestDiagnosis_SelectedMustBeListed(t *testing.T) {
	projectDir := t.TempDir()
	content := strings.ReplaceAll(validDiagnosis, "- H3: criteria misinterpreted\n", "")
	content = strings.Replace(content, "Selected: H2", "Selected: H3", 1)
	// The Selected line does not count as a listing, so H3 is now unlisted
	// (AD9); strip H2 too so the count also falls below two (AD8).
	content = strings.ReplaceAll(content, "- H2: current-step output incomplete\n", "")

	writeDiagnosis(t, projectDir, 3, "verification", content)

	res := Diagnosis(projectDir, 3, "verification")
	assert.False(t, res.Valid)
}

func TestDiagnosis_MissingSections(t *testing.T) {
	projectDir := t.TempDir()
	writeDiagnosis(t, projectDir, 3, "verification",
		strings.Repeat("prose that names nothing structured about the failure\n", 5))

	res := Diagnosis(projectDir, 3, "verification")
	assert.False(t, res.Valid)
	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "AD4 FAIL")
	assert.Contains(t, joined, "AD5 FAIL")
	assert.Contains(t, joined, "AD6 FAIL")
	assert.Contains(t, joined, "AD8 FAIL")
}

// AD10: once a retry happened, the diagnosis must build on the prior one.
func TestDiagnosis_RetryRequiresPriorReference(t *testing.T) {
	projectDir := t.TempDir()
	writeDiagnosis(t, projectDir, 3, "verification", validDiagnosis)
	require.NoError(t, fsatomic.WriteInt(config.CounterPath(projectDir, 3, "verification"), 2))

	res := Diagnosis(projectDir, 3, "verification")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "AD10 FAIL")

	referenced := strings.Replace(validDiagnosis, "## Evidence",
		"The previous diagnosis selected H1 and its plan did not hold.\n\n## Evidence", 1)
	writeDiagnosis(t, projectDir, 3, "verification", referenced)

	res = Diagnosis(projectDir, 3, "verification")
	assert.True(t, res.Valid, "warnings: %v", res.Warnings)
}
