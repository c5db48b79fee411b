package archive

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oogisoogi/ctxhooks/internal/facts"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

func TestValidateDefaults_FillsRequiredKeys(t *testing.T) {
	var rec Record
	rec.ValidateDefaults()

	assert.NotEmpty(t, rec.SessionID, "empty session_id must be replaced with a generated id")
	assert.NotNil(t, rec.ModifiedFiles)
	assert.NotNil(t, rec.ReadFiles)
	assert.NotNil(t, rec.ToolsUsed)
	assert.NotNil(t, rec.Tags)
	assert.NotNil(t, rec.DiagnosisPatterns)
	assert.Equal(t, "unknown", rec.FinalStatus)
}

func TestValidateDefaults_KeepsExistingSessionID(t *testing.T) {
	rec := Record{SessionID: "s1"}
	rec.ValidateDefaults()
	assert.Equal(t, "s1", rec.SessionID)
}

// Knowledge-index dedup invariant: after N saves for one session the index
// holds exactly one record, carrying the newest content.
func TestReplaceOrAppend_DedupBySessionID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge-index.jsonl")

	for i := 1; i <= 5; i++ {
		rec := Record{SessionID: "s1", UserTask: "iteration " + strconv.Itoa(i)}
		require.NoError(t, ReplaceOrAppend(path, rec))
	}
	require.NoError(t, ReplaceOrAppend(path, Record{SessionID: "s2", UserTask: "other"}))

	records := All(path)
	require.Len(t, records, 2)

	var s1 *Record
	for i := range records {
		if records[i].SessionID == "s1" {
			s1 = &records[i]
		}
	}
	require.NotNil(t, s1)
	assert.Equal(t, "iteration 5", s1.UserTask, "later saves replace earlier ones")
}

func TestRotate_KeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge-index.jsonl")
	for i := 0; i < 30; i++ {
		require.NoError(t, ReplaceOrAppend(path, Record{SessionID: "s" + strconv.Itoa(i)}))
	}

	require.NoError(t, Rotate(path, 10))

	records := All(path)
	require.Len(t, records, 10)
	assert.Equal(t, "s20", records[0].SessionID, "oldest surviving record")
	assert.Equal(t, "s29", records[9].SessionID, "newest record kept")
}

func TestRecent_ReturnsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge-index.jsonl")
	for i := 0; i < 5; i++ {
		require.NoError(t, ReplaceOrAppend(path, Record{SessionID: "s" + strconv.Itoa(i)}))
	}
	recent := Recent(path, 3)
	require.Len(t, recent, 3)
	assert.Equal(t, "s2", recent[0].SessionID)
	assert.Equal(t, "s4", recent[2].SessionID)
}

func TestAll_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge-index.jsonl")
	content := `{"session_id":"good"}` + "\n{broken\n" + `{"session_id":"also-good"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records := All(path)
	require.Len(t, records, 2)
}

func TestRotateSessions(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 25; i++ {
		path := filepath.Join(dir, "2026-07-01T1000"+strconv.Itoa(i)+"_abc.md")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		old := time.Now().Add(-time.Duration(25-i) * time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))
	}

	require.NoError(t, RotateSessions(dir, 20))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestBuildRecord_FromEntries(t *testing.T) {
	entries := []transcript.Entry{
		{Kind: transcript.KindUser, Text: "/help"},
		{Kind: transcript.KindUser, Text: "Port the scheduler to Go"},
		{Kind: transcript.KindToolUse, ToolUseID: "1", ToolName: "Edit", FilePath: "internal/sched/sched.go", Summary: "Edit sched.go"},
		{Kind: transcript.KindToolResult, ToolUseID: "1", IsError: true, Content: "Error: old_string not found in file"},
		{Kind: transcript.KindToolUse, ToolUseID: "2", ToolName: "Edit", FilePath: "internal/sched/sched.go", Summary: "Edit sched.go"},
		{Kind: transcript.KindToolResult, ToolUseID: "2", IsError: false, Content: "ok"},
		{Kind: transcript.KindToolUse, ToolUseID: "3", ToolName: "Bash", Command: "go vet ./...", Summary: "Bash: go vet"},
		{Kind: transcript.KindToolResult, ToolUseID: "3", IsError: false, Content: "ok"},
	}

	rec := BuildRecord("sess-9", "", entries, "snapshot body", 1234, time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, "sess-9", rec.SessionID)
	assert.Equal(t, "Port the scheduler to Go", rec.UserTask, "slash commands skipped")
	assert.Equal(t, []string{"internal/sched/sched.go"}, rec.ModifiedFiles)
	assert.Contains(t, rec.ToolsUsed, "Edit")
	assert.Contains(t, rec.ToolsUsed, "Bash")
	require.Len(t, rec.ErrorPatterns, 1)
	assert.Equal(t, facts.ErrEditMismatch, rec.ErrorPatterns[0].Type)
	require.NotNil(t, rec.ErrorPatterns[0].Resolution)
	assert.Contains(t, rec.Tags, "go")
	assert.Contains(t, rec.Tags, "internal")
	assert.Equal(t, "go", rec.PrimaryLanguage)
	assert.Equal(t, 1234, rec.TokenEstimate)
	assert.False(t, rec.ULWActive)
}

func TestPathTags(t *testing.T) {
	tags := PathTags([]string{"src/app/main.py", "src/app/util.py", "README.md"})
	assert.Contains(t, tags, "python")
	assert.Contains(t, tags, "src")
	assert.Contains(t, tags, "markdown")

	// dedup keeps first-seen order
	assert.Equal(t, "python", tags[0])
}
