package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePacsLog(t *testing.T, projectDir string, step int, content string) {
	t.Helper()
	path := PacsLogPath(projectDir, step, "general")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

const validPacsLog = `# pACS Scoring — Step 2

## Pre-mortem

- risk: the parser may miss nested fences

## Scores

| F | 90 |
| C | 60 |
| L | 85 |

pACS = min(F, C, L) = 60
`

// Arithmetic hallucination scenario: a reported score above the dimension
// minimum must be rejected with the recomputed value in the message.
func TestPacsArithmetic_CatchesHallucination(t *testing.T) {
	content := strings.Replace(validPacsLog, "= 60", "= 90", 1)

	ok, warning := PacsArithmetic(content)
	assert.False(t, ok)
	assert.Contains(t, warning, "reported 90")
	assert.Contains(t, warning, "C=60")
	assert.Contains(t, warning, "F=90")
	assert.Contains(t, warning, "L=85")
	assert.Contains(t, warning, "= 60")
}

// Idempotency property: a correct log validates; any single change of the
// reported value away from the true minimum invalidates it.
func TestPacsArithmetic_Idempotency(t *testing.T) {
	ok, warning := PacsArithmetic(validPacsLog)
	assert.True(t, ok)
	assert.Empty(t, warning)

	for _, wrong := range []string{"= 59", "= 61", "= 100", "= 0"} {
		content := strings.Replace(validPacsLog, "= 60", wrong, 1)
		ok, _ := PacsArithmetic(content)
		assert.False(t, ok, "reported %s should be invalid", wrong)
	}
}

func TestPacsArithmetic_TranslationDimensions(t *testing.T) {
	content := "| Ft | 80 |\n| Ct | 75 |\n| Nt | 88 |\n\npACS = min(Ft, Ct, Nt) = 75\n"
	ok, warning := PacsArithmetic(content)
	assert.True(t, ok, warning)
}

func TestPacsArithmetic_GracefulSkips(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no dimensions", "pACS = 80\n"},
		{"conflicting duplicate dimension", "| F | 80 |\n| F | 70 |\n\npACS = 70\n"},
		{"multiple bare finals", "| F | 80 |\n| C | 70 |\n| L | 90 |\n\npACS = 70\npACS = 80\n"},
		{"no final", "| F | 80 |\n| C | 70 |\n| L | 90 |\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, warning := PacsArithmetic(tt.content)
			assert.True(t, ok, "ambiguous logs skip gracefully")
			assert.Contains(t, warning, "SKIP")
		})
	}
}

func TestPacsLog_ValidLog(t *testing.T) {
	projectDir := t.TempDir()
	writePacsLog(t, projectDir, 2, validPacsLog)

	res := PacsLog(projectDir, 2, "general")
	assert.True(t, res.Valid, "warnings: %v", res.Warnings)
	assert.Equal(t, 60, res.Score)
}

func TestPacsLog_MissingFile(t *testing.T) {
	res := PacsLog(t.TempDir(), 2, "general")
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "PA1 FAIL")
}

func TestPacsLog_TooFewDimensions(t *testing.T) {
	projectDir := t.TempDir()
	writePacsLog(t, projectDir, 2, "## Pre-mortem\n- risk\n\n| F | 90 |\n| C | 80 |\n\npACS = min(F, C) = 80\n")

	res := PacsLog(projectDir, 2, "general")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "PA3 FAIL")
}

func TestPacsLog_MissingPremortem(t *testing.T) {
	projectDir := t.TempDir()
	writePacsLog(t, projectDir, 2, "| F | 90 |\n| C | 80 |\n| L | 85 |\n\npACS = min(F, C, L) = 80\n")

	res := PacsLog(projectDir, 2, "general")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "PA4 FAIL")
}

// PA7: a red-zone score blocks advancement even when everything else holds.
func TestPacsLog_RedThresholdBlocks(t *testing.T) {
	projectDir := t.TempDir()
	writePacsLog(t, projectDir, 2, "## Pre-mortem\n- risk\n\n| F | 45 |\n| C | 60 |\n| L | 85 |\n\npACS = min(F, C, L) = 45\n")

	res := PacsLog(projectDir, 2, "general")
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "PA7 FAIL")
}

func TestPacsLog_ColorZoneConsistency(t *testing.T) {
	projectDir := t.TempDir()
	writePacsLog(t, projectDir, 2,
		"## Pre-mortem\n- risk\n\nZone: GREEN\n\n| F | 60 |\n| C | 65 |\n| L | 85 |\n\npACS = min(F, C, L) = 60\n")

	res := PacsLog(projectDir, 2, "general")
	assert.True(t, res.Valid, "PA6 is a warning, not a failure")
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "PA6 WARN")
}
