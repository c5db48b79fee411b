// Package sot reads the workflow state-of-truth file. Everything here is
// strictly read-only: no function in this package (or its callers) writes
// to the SOT, and `ctxhooks setup init` statically checks that this stays
// true across the hook commands.
package sot

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oogisoogi/ctxhooks/internal/config"
)

// Capture is the SOT snapshot taken at save time.
type Capture struct {
	// Found is false when no SOT candidate exists.
	Found bool

	// Path is the SOT file that was read.
	Path string

	// Content is the raw file content, capped for snapshot embedding.
	Content string

	// ModTime is the SOT mtime at capture time, used by the restore hook to
	// detect changes behind the snapshot's back.
	ModTime time.Time
}

// captureCap bounds the SOT content embedded into a snapshot.
const captureCap = 3000

// Read captures the first existing SOT candidate for a project root.
func Read(projectDir string) Capture {
	for _, path := range config.SOTPaths(projectDir) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > captureCap {
			content = content[:captureCap] + "\n…(truncated)"
		}
		return Capture{Found: true, Path: path, Content: content, ModTime: info.ModTime()}
	}
	return Capture{}
}

// AutopilotState is the structured view of the SOT used while a workflow
// runs under autopilot.
type AutopilotState struct {
	WorkflowName      string            `yaml:"workflow_name"`
	CurrentStep       int               `yaml:"current_step"`
	TotalSteps        int               `yaml:"total_steps"`
	Status            string            `yaml:"status"`
	AutoApprovedSteps []int             `yaml:"auto_approved_steps"`
	Outputs           map[string]string `yaml:"outputs"`
	UpdatedAt         string            `yaml:"updated_at"`
}

// regex fallback for when the YAML is malformed: the handful of scalar keys
// the hooks need, matched line by line.
var (
	fallbackName = regexp.MustCompile(`(?m)^workflow_name:\s*(.+)$`)
	fallbackStep = regexp.MustCompile(`(?m)^current_step:\s*(\d+)$`)
	fallbackStat = regexp.MustCompile(`(?m)^status:\s*(.+)$`)
	fallbackOut  = regexp.MustCompile(`(?m)^\s{2}(step-\d+(?:-[\w-]+)?):\s*(.+)$`)
)

// ReadAutopilot parses the SOT into an AutopilotState. Returns (state, true)
// only when a SOT exists and names a workflow. Malformed YAML degrades to
// the regex fallback rather than failing.
func ReadAutopilot(projectDir string) (AutopilotState, bool) {
	capture := Read(projectDir)
	if !capture.Found {
		return AutopilotState{}, false
	}

	// Re-read uncapped: the capture cap is a snapshot-embedding concern.
	data, err := os.ReadFile(capture.Path)
	if err != nil {
		return AutopilotState{}, false
	}

	var state AutopilotState
	if err := yaml.Unmarshal(data, &state); err != nil {
		state = fallbackParse(string(data))
	}
	if state.WorkflowName == "" {
		return AutopilotState{}, false
	}
	return state, true
}

// fallbackParse recovers the scalar fields from a malformed SOT.
func fallbackParse(content string) AutopilotState {
	var state AutopilotState
	if m := fallbackName.FindStringSubmatch(content); m != nil {
		state.WorkflowName = strings.TrimSpace(m[1])
	}
	if m := fallbackStep.FindStringSubmatch(content); m != nil {
		fmt.Sscanf(m[1], "%d", &state.CurrentStep) //nolint:errcheck // digits guaranteed by regex
	}
	if m := fallbackStat.FindStringSubmatch(content); m != nil {
		state.Status = strings.TrimSpace(m[1])
	}
	for _, m := range fallbackOut.FindAllStringSubmatch(content, -1) {
		if state.Outputs == nil {
			state.Outputs = make(map[string]string)
		}
		state.Outputs[m[1]] = strings.TrimSpace(m[2])
	}
	return state
}

// stepKeyPattern is the accepted shape of an outputs key.
var stepKeyPattern = regexp.MustCompile(`^step-\d+(?:-[\w-]+)?$`)

// ValidateSchema runs the S1–S8 structural checks on an autopilot state.
// Each violation yields one warning; an empty slice means the schema holds.
func ValidateSchema(state AutopilotState) []string {
	var warnings []string

	if strings.TrimSpace(state.WorkflowName) == "" {
		warnings = append(warnings, "S1 FAIL: workflow_name is missing or empty")
	}
	if state.CurrentStep < 1 {
		warnings = append(warnings, fmt.Sprintf("S2 FAIL: current_step must be >= 1, got %d", state.CurrentStep))
	}
	if state.TotalSteps < 1 {
		warnings = append(warnings, fmt.Sprintf("S3 FAIL: total_steps must be >= 1, got %d", state.TotalSteps))
	} else if state.CurrentStep > state.TotalSteps {
		warnings = append(warnings, fmt.Sprintf("S4 FAIL: current_step %d exceeds total_steps %d", state.CurrentStep, state.TotalSteps))
	}

	switch state.Status {
	case "running", "paused", "completed", "failed":
	case "":
		warnings = append(warnings, "S5 FAIL: status is missing")
	default:
		warnings = append(warnings, fmt.Sprintf("S5 FAIL: status %q is not one of running/paused/completed/failed", state.Status))
	}

	for _, step := range state.AutoApprovedSteps {
		if step < 1 || (state.TotalSteps >= 1 && step > state.TotalSteps) {
			warnings = append(warnings, fmt.Sprintf("S6 FAIL: auto_approved_steps entry %d out of range", step))
		}
	}

	for key := range state.Outputs {
		if !stepKeyPattern.MatchString(key) {
			warnings = append(warnings, fmt.Sprintf("S7 FAIL: outputs key %q is not step-N shaped", key))
		}
	}

	if state.UpdatedAt != "" {
		if _, err := time.Parse(time.RFC3339, state.UpdatedAt); err != nil {
			if _, err := time.Parse("2006-01-02 15:04:05", state.UpdatedAt); err != nil {
				warnings = append(warnings, fmt.Sprintf("S8 FAIL: updated_at %q is not a recognized timestamp", state.UpdatedAt))
			}
		}
	}

	return warnings
}

// StepOutput returns the declared output path for a step (outputs key
// "step-N"). The boolean is false when the SOT declares nothing under it.
func (s AutopilotState) StepOutput(step int) (string, bool) {
	if s.Outputs == nil {
		return "", false
	}
	key := fmt.Sprintf("step-%d", step)
	if path, ok := s.Outputs[key]; ok {
		return path, true
	}
	return "", false
}

// StepTranslation returns the declared Korean translation path for a step
// (outputs key "step-N-ko").
func (s AutopilotState) StepTranslation(step int) (string, bool) {
	if s.Outputs == nil {
		return "", false
	}
	path, ok := s.Outputs[fmt.Sprintf("step-%d-ko", step)]
	return path, ok
}
