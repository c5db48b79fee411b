package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/archive"
	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

func TestShouldSkipSave_Windows(t *testing.T) {
	dir := t.TempDir()
	latest := filepath.Join(dir, config.LatestSnapshot)
	if err := os.WriteFile(latest, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	wall := time.Now()

	tests := []struct {
		name    string
		trigger string
		elapsed time.Duration
		want    bool
	}{
		{"default within window", "precompact", 2 * time.Second, true},
		{"default past window", "precompact", 10 * time.Second, false},
		{"stop within wide window", "stop", 20 * time.Second, true},
		{"stop past wide window", "stop", 40 * time.Second, false},
		{"sessionend never dedupes", "sessionend", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldSkipSave(dir, tt.trigger, wall.Add(tt.elapsed)); got != tt.want {
				t.Errorf("ShouldSkipSave = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSkipSave_NoLatest(t *testing.T) {
	if ShouldSkipSave(t.TempDir(), "stop", time.Now()) {
		t.Error("missing latest.md must not skip")
	}
}

func TestProtectLatest(t *testing.T) {
	dir := t.TempDir()
	latest := filepath.Join(dir, config.LatestSnapshot)

	rich := strings.Repeat("content line\n", 300) +
		ImmortalMarker + " current-task -->\n" +
		ImmortalMarker + " completion-state -->\n"
	if err := os.WriteFile(latest, []byte(rich), 0o600); err != nil {
		t.Fatal(err)
	}

	if !ProtectLatest(0, latest) {
		t.Error("empty snapshot must not overwrite a rich latest.md")
	}
	if ProtectLatest(5, latest) {
		t.Error("a snapshot with tool activity always updates latest.md")
	}

	// A small latest.md is not worth protecting.
	if err := os.WriteFile(latest, []byte("tiny"), 0o600); err != nil {
		t.Fatal(err)
	}
	if ProtectLatest(0, latest) {
		t.Error("thin latest.md should be replaceable")
	}
}

func TestRotate_PerTriggerRetention(t *testing.T) {
	dir := t.TempDir()

	mk := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-age)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 8; i++ {
		mk(time.Now().Add(-time.Duration(i)*time.Hour).Format("20060102_150405")+"_stop.md", time.Duration(i)*time.Hour)
	}
	for i := 0; i < 5; i++ {
		mk(time.Now().Add(-time.Duration(i)*time.Minute).Format("20060102_150405")+"_threshold.md", time.Duration(i+100)*time.Hour)
	}
	mk("latest.md", 0)

	Rotate(dir)

	count := func(suffix string) int {
		entries, _ := os.ReadDir(dir)
		n := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), suffix) {
				n++
			}
		}
		return n
	}
	if got := count("_stop.md"); got != config.SnapshotRetention["stop"] {
		t.Errorf("stop snapshots = %d, want %d", got, config.SnapshotRetention["stop"])
	}
	if got := count("_threshold.md"); got != config.SnapshotRetention["threshold"] {
		t.Errorf("threshold snapshots = %d, want %d", got, config.SnapshotRetention["threshold"])
	}
	if _, err := os.Stat(filepath.Join(dir, "latest.md")); err != nil {
		t.Error("latest.md must never be rotated away")
	}
}

func TestSave_WritesSnapshotArchiveAndIndex(t *testing.T) {
	projectDir := t.TempDir()
	transcriptPath := filepath.Join(projectDir, "transcript.jsonl")
	if err := os.WriteFile(transcriptPath, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	entries := []transcript.Entry{
		user("Implement the cache"),
		edit("1", "cache.go"),
		result("1", false),
	}

	in := Input{
		SessionID:  "abcdef1234567890",
		Trigger:    "sessionend",
		ProjectDir: projectDir,
		Entries:    entries,
		Now:        now(),
	}

	res, err := Save(in, transcriptPath)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if res.Skipped || !res.LatestUpdated {
		t.Fatalf("result = %+v", res)
	}

	latest, err := os.ReadFile(filepath.Join(config.SnapshotDir(projectDir), config.LatestSnapshot))
	if err != nil {
		t.Fatalf("latest.md missing: %v", err)
	}
	if !strings.Contains(string(latest), "Implement the cache") {
		t.Error("latest.md does not carry the task")
	}

	records := archive.All(archive.IndexPath(projectDir))
	if len(records) != 1 || records[0].SessionID != "abcdef1234567890" {
		t.Fatalf("index records = %+v", records)
	}
	if len(records[0].ModifiedFiles) != 1 || records[0].ModifiedFiles[0] != "cache.go" {
		t.Errorf("record modified files = %v", records[0].ModifiedFiles)
	}

	sessions, err := os.ReadDir(config.SessionsDir(projectDir))
	if err != nil || len(sessions) != 1 {
		t.Fatalf("session archive missing: %v", err)
	}
	if !strings.Contains(sessions[0].Name(), "abcdef12") {
		t.Errorf("archive name = %q, want the 8-char session prefix", sessions[0].Name())
	}
}

func TestSave_SessionEndBypassesDedup(t *testing.T) {
	projectDir := t.TempDir()
	in := Input{
		SessionID:  "s1",
		Trigger:    "sessionend",
		ProjectDir: projectDir,
		Entries:    []transcript.Entry{user("task"), edit("1", "a.go")},
		Now:        now(),
	}

	if res, err := Save(in, ""); err != nil || res.Skipped {
		t.Fatalf("first save: res=%+v err=%v", res, err)
	}
	// Immediately again: a user-initiated session end must never be deduped.
	in.Now = in.Now.Add(time.Second)
	if res, err := Save(in, ""); err != nil || res.Skipped {
		t.Fatalf("second save: res=%+v err=%v", res, err)
	}
}
