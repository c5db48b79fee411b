package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oogisoogi/ctxhooks/internal/archive"
	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
	"github.com/oogisoogi/ctxhooks/internal/tokens"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
	"github.com/oogisoogi/ctxhooks/internal/worklog"
)

// ShouldSkipSave implements the time-window dedup guard. Session-end saves
// are user-initiated and never deduped; the stop hook gets a wider window
// because it fires on every response.
func ShouldSkipSave(snapshotDir, trigger string, now time.Time) bool {
	if trigger == "sessionend" {
		return false
	}
	window := config.DedupWindow
	if trigger == "stop" {
		window = config.DedupWindowStop
	}

	info, err := os.Stat(filepath.Join(snapshotDir, config.LatestSnapshot))
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < window
}

// ProtectLatest reports whether latest.md should be left alone: the new
// snapshot saw zero tool uses while the existing one is rich (big enough
// and carrying at least two IMMORTAL markers). The timestamped archive
// copy is still written either way.
func ProtectLatest(newToolUseCount int, latestPath string) bool {
	if newToolUseCount > 0 {
		return false
	}
	data, err := os.ReadFile(latestPath)
	if err != nil {
		return false
	}
	return len(data) >= config.MinRichSnapshotSize &&
		strings.Count(string(data), ImmortalMarker) >= 2
}

// Rotate enforces the per-trigger retention limits on timestamped
// snapshots, removing the oldest by mtime within each trigger group.
func Rotate(snapshotDir string) {
	entries, err := os.ReadDir(snapshotDir)
	if err != nil {
		return
	}

	type aged struct {
		name string
		mod  int64
	}
	groups := make(map[string][]aged)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == config.LatestSnapshot || !strings.HasSuffix(name, ".md") {
			continue
		}
		base := strings.TrimSuffix(name, ".md")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		trigger := base[idx+1:]
		info, err := e.Info()
		if err != nil {
			continue
		}
		groups[trigger] = append(groups[trigger], aged{name: name, mod: info.ModTime().UnixNano()})
	}

	for trigger, files := range groups {
		keep, ok := config.SnapshotRetention[trigger]
		if !ok {
			keep = config.DefaultRetention
		}
		if len(files) <= keep {
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
		for _, f := range files[:len(files)-keep] {
			_ = os.Remove(filepath.Join(snapshotDir, f.name)) //nolint:errcheck // best-effort rotation
		}
	}
}

// SaveResult reports what a full save did.
type SaveResult struct {
	// Skipped is true when the dedup guard suppressed the save.
	Skipped bool

	// SnapshotPath is the timestamped snapshot written.
	SnapshotPath string

	// LatestUpdated is false when the empty-snapshot guard protected
	// latest.md.
	LatestUpdated bool
}

// Save runs the full save pipeline: render, write the timestamped snapshot
// and latest.md (guarded), archive a session copy, append the knowledge
// record (deduped), rotate everything, and truncate the work log tail.
// Archive failures never fail the save.
func Save(in Input, transcriptPath string) (SaveResult, error) {
	snapshotDir := config.SnapshotDir(in.ProjectDir)
	if err := os.MkdirAll(snapshotDir, 0o700); err != nil {
		return SaveResult{}, err
	}

	if ShouldSkipSave(snapshotDir, in.Trigger, in.Now) {
		return SaveResult{Skipped: true}, nil
	}

	content := Render(in)

	stamp := in.Now.Format("20060102_150405")
	snapshotPath := filepath.Join(snapshotDir, fmt.Sprintf("%s_%s.md", stamp, in.Trigger))
	if err := fsatomic.WriteFile(snapshotPath, []byte(content)); err != nil {
		return SaveResult{}, err
	}

	result := SaveResult{SnapshotPath: snapshotPath, LatestUpdated: true}

	latestPath := filepath.Join(snapshotDir, config.LatestSnapshot)
	toolUses := len(transcript.ToolUses(in.Entries))
	if ProtectLatest(toolUses, latestPath) {
		result.LatestUpdated = false
	} else if err := fsatomic.WriteFile(latestPath, []byte(content)); err != nil {
		return result, err
	}

	Rotate(snapshotDir)

	// Knowledge Archive: session copy + index record. Best-effort.
	sessionsDir := config.SessionsDir(in.ProjectDir)
	sid := in.SessionID
	if len(sid) > 8 {
		sid = sid[:8]
	}
	archiveName := fmt.Sprintf("%s_%s.md", in.Now.Format("2006-01-02T150405"), sid)
	_ = fsatomic.WriteFile(filepath.Join(sessionsDir, archiveName), []byte(content)) //nolint:errcheck // non-blocking

	est := tokens.Estimate(transcriptPath, in.Entries)
	rec := archive.BuildRecord(in.SessionID, in.ProjectDir, in.Entries, content, est.Estimate, in.Now)
	indexPath := archive.IndexPath(in.ProjectDir)
	_ = archive.ReplaceOrAppend(indexPath, rec)                    //nolint:errcheck // non-blocking
	_ = archive.Rotate(indexPath, config.KnowledgeIndexKeep)       //nolint:errcheck // non-blocking
	_ = archive.RotateSessions(sessionsDir, config.SessionArchiveKeep) //nolint:errcheck // non-blocking

	_ = worklog.TruncateTail(in.ProjectDir) //nolint:errcheck // non-blocking

	return result, nil
}
