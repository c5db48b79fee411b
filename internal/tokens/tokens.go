// Package tokens estimates the session's context usage from observable
// signals. The estimate drives the 75% proactive-save threshold; it does
// not need to be exact, only monotone in actual usage.
package tokens

import (
	"os"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/transcript"
)

// bytesPerToken is the rough prose approximation.
const bytesPerToken = 4

// perToolOverhead accounts for tool-call framing the byte count misses.
const perToolOverhead = 120

// Signals carries the individual estimation inputs alongside the verdict.
type Signals struct {
	// TranscriptBytes is the raw transcript size on disk.
	TranscriptBytes int64 `json:"transcript_bytes"`

	// ByteEstimate is TranscriptBytes / 4.
	ByteEstimate int `json:"byte_estimate"`

	// EntryEstimate adds per-tool overhead for each tool use.
	EntryEstimate int `json:"entry_estimate"`

	// Estimate is the final (maximum) estimate in tokens.
	Estimate int `json:"estimate"`

	// UsageRatio is Estimate over the capacity.
	UsageRatio float64 `json:"usage_ratio"`

	// OverThreshold is true at or past the proactive-save threshold.
	OverThreshold bool `json:"over_threshold"`
}

// Estimate combines the byte-size signal with the entry-count signal and
// takes the larger. entries may be nil when only the file size is known.
func Estimate(transcriptPath string, entries []transcript.Entry) Signals {
	var s Signals

	if info, err := os.Stat(transcriptPath); err == nil {
		s.TranscriptBytes = info.Size()
	}
	s.ByteEstimate = int(s.TranscriptBytes / bytesPerToken)

	if entries != nil {
		toolCount := len(transcript.ToolUses(entries))
		textBytes := 0
		for _, e := range entries {
			textBytes += len(e.Text) + len(e.Content)
		}
		s.EntryEstimate = textBytes/bytesPerToken + toolCount*perToolOverhead
	}

	s.Estimate = s.ByteEstimate
	if s.EntryEstimate > s.Estimate {
		s.Estimate = s.EntryEstimate
	}

	s.UsageRatio = float64(s.Estimate) / float64(config.TokenCapacity)
	s.OverThreshold = s.UsageRatio >= config.SaveThresholdRatio
	return s
}
