// Package archive maintains the cross-session Knowledge Archive: one
// bounded JSONL index of per-session facts plus a rotating directory of
// full snapshot copies. The index is the retrieval surface the assistant
// greps at session start.
package archive

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/facts"
	"github.com/oogisoogi/ctxhooks/internal/fsatomic"
)

// Record is one line of knowledge-index.jsonl. The keys through
// DiagnosisPatterns are required on every record; ValidateDefaults fills
// any that extraction left empty so a write never proceeds incomplete.
type Record struct {
	SessionID         string   `json:"session_id"`
	Timestamp         string   `json:"timestamp"`
	UserTask          string   `json:"user_task"`
	ModifiedFiles     []string `json:"modified_files"`
	ReadFiles         []string `json:"read_files"`
	ToolsUsed         []string `json:"tools_used"`
	FinalStatus       string   `json:"final_status"`
	Tags              []string `json:"tags"`
	Phase             string   `json:"phase"`
	CompletionSummary string   `json:"completion_summary"`
	DiagnosisPatterns []string `json:"diagnosis_patterns"`

	ModifiedFilesDetail []string              `json:"modified_files_detail,omitempty"`
	DesignDecisions     []string              `json:"design_decisions,omitempty"`
	ErrorPatterns       []facts.ErrorPattern  `json:"error_patterns,omitempty"`
	SuccessPatterns     []facts.SuccessPattern `json:"success_patterns,omitempty"`
	ToolSequence        []string              `json:"tool_sequence,omitempty"`
	PrimaryLanguage     string                `json:"primary_language,omitempty"`
	PhaseFlow           string                `json:"phase_flow,omitempty"`
	PacsMin             int                   `json:"pacs_min,omitempty"`
	ULWActive           bool                  `json:"ulw_active,omitempty"`
	TeamSummaries       []string              `json:"team_summaries,omitempty"`
	GitSummary          string                `json:"git_summary,omitempty"`
	SessionDuration     int                   `json:"session_duration_entries,omitempty"`
	TokenEstimate       int                   `json:"token_estimate,omitempty"`
}

// ValidateDefaults fills the required keys so the write never skips or
// proceeds with missing fields. An empty session ID is replaced with a
// generated unique identifier rather than colliding on "".
func (r *Record) ValidateDefaults() {
	if strings.TrimSpace(r.SessionID) == "" {
		r.SessionID = "generated-" + uuid.NewString()
	}
	if r.ModifiedFiles == nil {
		r.ModifiedFiles = []string{}
	}
	if r.ReadFiles == nil {
		r.ReadFiles = []string{}
	}
	if r.ToolsUsed == nil {
		r.ToolsUsed = []string{}
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.DiagnosisPatterns == nil {
		r.DiagnosisPatterns = []string{}
	}
	if r.FinalStatus == "" {
		r.FinalStatus = "unknown"
	}
	if r.Phase == "" {
		r.Phase = facts.PhaseUnknown
	}
}

// IndexPath returns the knowledge-index location for a project root.
func IndexPath(projectDir string) string {
	return filepath.Join(config.SnapshotDir(projectDir), config.KnowledgeIndexFile)
}

// ReplaceOrAppend writes rec to the index, replacing any existing record
// with the same session ID. The read-modify-write runs under a dedicated
// lock file; if locking fails the record is appended without dedup, since
// losing the record entirely is worse than a temporary duplicate.
func ReplaceOrAppend(path string, rec Record) error {
	rec.ValidateDefaults()

	err := fsatomic.WithExclusiveLock(path, func() error {
		records := readAll(path)

		kept := records[:0]
		for _, r := range records {
			if r.SessionID != rec.SessionID {
				kept = append(kept, r)
			}
		}
		kept = append(kept, rec)

		return fsatomic.WriteFile(path, marshalLines(kept))
	})
	if err == nil {
		return nil
	}

	// Lock contention fallback: append-only, no dedup.
	data, merr := json.Marshal(rec)
	if merr != nil {
		return merr
	}
	return fsatomic.AppendWithLock(path, append(data, '\n'))
}

// Rotate trims the index to its newest keep records, rewriting atomically
// only when over the limit.
func Rotate(path string, keep int) error {
	records := readAll(path)
	if len(records) <= keep {
		return nil
	}
	return fsatomic.WithExclusiveLock(path, func() error {
		records := readAll(path)
		if len(records) <= keep {
			return nil
		}
		return fsatomic.WriteFile(path, marshalLines(records[len(records)-keep:]))
	})
}

// Recent returns the newest n records, oldest first.
func Recent(path string, n int) []Record {
	records := readAll(path)
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}

// All returns every parseable record in file order.
func All(path string) []Record {
	return readAll(path)
}

func readAll(path string) []Record {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records
}

func marshalLines(records []Record) []byte {
	var b strings.Builder
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RotateSessions trims the sessions/ archive directory to the newest keep
// files by mtime.
func RotateSessions(sessionsDir string, keep int) error {
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return nil
	}

	type aged struct {
		name string
		mod  int64
	}
	var files []aged
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	if len(files) <= keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
	for _, f := range files[:len(files)-keep] {
		_ = os.Remove(filepath.Join(sessionsDir, f.name)) //nolint:errcheck // best-effort rotation
	}
	return nil
}
