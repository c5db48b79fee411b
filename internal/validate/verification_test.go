package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVerification(t *testing.T, projectDir string, step int, content string) {
	t.Helper()
	path := VerificationPath(projectDir, step)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestVerification_ChecklistForm(t *testing.T) {
	projectDir := t.TempDir()
	writeVerification(t, projectDir, 2, `# Verification — Step 2

- output file exists: PASS
- all sections present: PASS
- no forward references: PASS

Overall: PASS
`)

	res := Verification(projectDir, 2)
	assert.True(t, res.Valid, "warnings: %v", res.Warnings)
	assert.Equal(t, 3, res.Criteria)
}

func TestVerification_TableFormSkipsHeader(t *testing.T) {
	projectDir := t.TempDir()
	writeVerification(t, projectDir, 2, `# Verification — Step 2

| Criterion | Result |
|---|---|
| output exists | PASS |
| sections present | FAIL |

Overall: FAIL
`)

	res := Verification(projectDir, 2)
	assert.True(t, res.Valid, "a consistent FAIL log is structurally valid: %v", res.Warnings)
	assert.Equal(t, 2, res.Criteria, "header and separator rows are not criteria")
}

// V1c: a criterion FAIL with an overall PASS is a lie.
func TestVerification_InconsistentOverall(t *testing.T) {
	projectDir := t.TempDir()
	writeVerification(t, projectDir, 2, `# Verification — Step 2

- output file exists: PASS
- all sections present: FAIL

Overall: PASS
`)

	res := Verification(projectDir, 2)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "V1c FAIL")
}

func TestVerification_NoCriteria(t *testing.T) {
	projectDir := t.TempDir()
	writeVerification(t, projectDir, 2, strings.Repeat("prose without any structured criteria\n", 5))

	res := Verification(projectDir, 2)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "V1b FAIL")
}

func TestVerification_MissingFile(t *testing.T) {
	res := Verification(t.TempDir(), 2)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "V1a FAIL")
}
