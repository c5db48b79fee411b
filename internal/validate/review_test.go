package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReview = `# Adversarial Review — Step 4

## Pre-mortem

- the parser could regress on CRLF input

## Issues Found

| Severity | Issue |
|---|---|
| Critical | off-by-one in the fence counter |
| Suggestion | rename the helper |

## Independent pACS

| F | 80 |
| C | 75 |
| L | 85 |

pACS = min(F, C, L) = 75

## Verdict

Verdict: PASS
`

func writeReview(t *testing.T, projectDir string, step int, content string) string {
	t.Helper()
	path := ReviewPath(projectDir, step)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReview_ValidReport(t *testing.T) {
	projectDir := t.TempDir()
	writeReview(t, projectDir, 4, validReview)

	res := Review(projectDir, 4)
	assert.True(t, res.Valid, "warnings: %v", res.Warnings)
	assert.Equal(t, "PASS", res.Verdict)
	assert.Equal(t, 1, res.CriticalCount)
	assert.Equal(t, 1, res.SuggestionCount)
	assert.Equal(t, 75, res.ReviewerPacs)
	assert.Equal(t, 80, res.PacsDimensions["F"])
}

func TestReview_MissingFile(t *testing.T) {
	res := Review(t.TempDir(), 4)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "R1 FAIL")
}

func TestReview_TooSmall(t *testing.T) {
	projectDir := t.TempDir()
	writeReview(t, projectDir, 4, "tiny")

	res := Review(projectDir, 4)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "R2 FAIL")
}

func TestReview_MissingSections(t *testing.T) {
	projectDir := t.TempDir()
	writeReview(t, projectDir, 4, strings.Repeat("filler text without the required structure\n", 10))

	res := Review(projectDir, 4)
	assert.False(t, res.Valid)
	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "R3 FAIL")
	assert.Contains(t, joined, "R4 FAIL")
}

// Rubber-stamp prevention: a review with zero issue rows fails R5.
func TestReview_RubberStamp(t *testing.T) {
	projectDir := t.TempDir()
	content := strings.Replace(validReview,
		"| Severity | Issue |\n|---|---|\n| Critical | off-by-one in the fence counter |\n| Suggestion | rename the helper |\n", "", 1)
	writeReview(t, projectDir, 4, content)

	res := Review(projectDir, 4)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "R5 FAIL")
}

func TestReview_PacsDeltaReconciliation(t *testing.T) {
	projectDir := t.TempDir()
	writeReview(t, projectDir, 4, validReview) // reviewer 75

	writePacsLog(t, projectDir, 4, "## Pre-mortem\n- r\n\n| F | 95 |\n| C | 92 |\n| L | 95 |\n\npACS = min(F, C, L) = 92\n")

	res := Review(projectDir, 4)
	assert.Equal(t, 92, res.GeneratorPacs)
	assert.Equal(t, 17, res.PacsDelta)
	assert.True(t, res.NeedsReconciliation)
}

// Review-gated translation scenario: a FAIL verdict makes the sequence
// invalid with a warning citing the step; after the verdict becomes PASS
// the sequence is valid even though editing the review bumped its mtime.
func TestReviewSequence_Scenario(t *testing.T) {
	projectDir := t.TempDir()

	reviewPath := writeReview(t, projectDir, 4, strings.Replace(validReview, "Verdict: PASS", "Verdict: FAIL", 1))

	translationDir := filepath.Join(projectDir, "translations")
	require.NoError(t, os.MkdirAll(translationDir, 0o700))
	translationPath := filepath.Join(translationDir, "step-4-output.ko.md")
	require.NoError(t, os.WriteFile(translationPath, []byte(strings.Repeat("번역 ", 100)), 0o600))

	seq := ReviewSequence(projectDir, 4)
	assert.False(t, seq.Valid)
	assert.Contains(t, seq.Warning, "step 4")

	// Fix the verdict; the review file now postdates the translation.
	require.NoError(t, os.WriteFile(reviewPath, []byte(validReview), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(reviewPath, future, future))

	seq = ReviewSequence(projectDir, 4)
	assert.True(t, seq.Valid)
}

func TestReviewSequence_MissingTranslation(t *testing.T) {
	projectDir := t.TempDir()
	writeReview(t, projectDir, 4, validReview)

	seq := ReviewSequence(projectDir, 4)
	assert.False(t, seq.Valid)
	assert.Contains(t, seq.Warning, "translation")
}
