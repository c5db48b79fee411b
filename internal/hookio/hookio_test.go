package hookio

import (
	"strings"
	"testing"
)

func TestReadEnvelope_FullPayload(t *testing.T) {
	payload := `{
		"session_id": "s1",
		"transcript_path": "/tmp/t.jsonl",
		"cwd": "/proj",
		"tool_name": "Bash",
		"tool_input": {"command": "ls -la"},
		"source": "resume",
		"stop_hook_active": true
	}`

	env := ReadEnvelope(strings.NewReader(payload))
	if env.SessionID != "s1" || env.TranscriptPath != "/tmp/t.jsonl" || env.Cwd != "/proj" {
		t.Errorf("env = %+v", env)
	}
	if env.ToolName != "Bash" || env.InputString("command") != "ls -la" {
		t.Errorf("tool fields = %+v", env)
	}
	if env.Source != "resume" || !env.StopHookActive {
		t.Errorf("flags = %+v", env)
	}
}

func TestReadEnvelope_EmptyAndMalformed(t *testing.T) {
	for _, input := range []string{"", "   \n", "{not json"} {
		env := ReadEnvelope(strings.NewReader(input))
		if env.SessionID != "" || env.ToolName != "" {
			t.Errorf("input %q should yield an empty envelope, got %+v", input, env)
		}
	}
}

func TestInputString_MissingOrWrongType(t *testing.T) {
	env := Envelope{ToolInput: map[string]any{"count": 3}}
	if env.InputString("count") != "" {
		t.Error("non-string field should read as empty")
	}
	if env.InputString("absent") != "" {
		t.Error("absent field should read as empty")
	}
	if (Envelope{}).InputString("any") != "" {
		t.Error("nil map should read as empty")
	}
}

func TestProjectDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAUDE_PROJECT_DIR", dir)
	if got := ProjectDir(Envelope{Cwd: "/elsewhere"}); got != dir {
		t.Errorf("ProjectDir = %q, want env override %q", got, dir)
	}

	t.Setenv("CLAUDE_PROJECT_DIR", "/definitely/not/a/dir")
	if got := ProjectDir(Envelope{Cwd: "/elsewhere"}); got != "/elsewhere" {
		t.Errorf("ProjectDir = %q, want envelope cwd when env dir is invalid", got)
	}

	t.Setenv("CLAUDE_PROJECT_DIR", "")
	if got := ProjectDir(Envelope{}); got == "" {
		t.Error("ProjectDir must fall back to the working directory")
	}
}
