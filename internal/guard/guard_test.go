package guard

import (
	"strings"
	"testing"
)

func TestCheckCommand_GitPatterns(t *testing.T) {
	tests := []struct {
		name    string
		command string
		blocked bool
		wantMsg string
	}{
		{"force push long", "git push --force origin main", true, "git push --force is blocked"},
		{"force with lease allowed", "git push --force-with-lease origin main", false, ""},
		{"force if includes allowed", "git push --force-if-includes origin main", false, ""},
		{"force push short", "git push -f origin main", true, "git push -f is blocked"},
		{"combined short flags", "git push -fu origin main", true, "git push -f is blocked"},
		{"combined short flags reversed", "git push -uf origin main", true, "git push -f is blocked"},
		{"plain push allowed", "git push origin main", false, ""},
		{"reset hard", "git reset --hard HEAD~1", true, "git reset --hard is blocked"},
		{"reset soft allowed", "git reset --soft HEAD~1", false, ""},
		{"checkout dot", "git checkout .", true, "git checkout . is blocked"},
		{"checkout dashes dot", "git checkout -- .", true, "git checkout . is blocked"},
		{"checkout branch allowed", "git checkout feature", false, ""},
		{"restore dot", "git restore .", true, "git restore . is blocked"},
		{"restore staged dot", "git restore --staged .", true, "git restore . is blocked"},
		{"restore file allowed", "git restore main.go", false, ""},
		{"clean force", "git clean -f", true, "git clean -f is blocked"},
		{"clean combined", "git clean -xfd", true, "git clean -f is blocked"},
		{"clean dry run allowed", "git clean -n", false, ""},
		{"branch force delete", "git branch -D feature", true, "git branch -D is blocked"},
		{"branch long force delete", "git branch --delete --force feature", true, "blocked"},
		{"branch long reversed", "git branch --force --delete feature", true, "blocked"},
		{"branch safe delete allowed", "git branch -d feature", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := CheckCommand(tt.command)
			if tt.blocked && msg == "" {
				t.Fatalf("command %q should be blocked", tt.command)
			}
			if !tt.blocked && msg != "" {
				t.Fatalf("command %q should be allowed, got %q", tt.command, msg)
			}
			if tt.blocked && !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestCheckCommand_ForcePushSuggestsLease(t *testing.T) {
	msg := CheckCommand("git push --force origin main")
	if !strings.Contains(msg, "--force-with-lease") {
		t.Errorf("block message should suggest --force-with-lease, got %q", msg)
	}
}

func TestCheckCommand_DangerousRm(t *testing.T) {
	tests := []struct {
		command string
		blocked bool
	}{
		{"rm -rf /", true},
		{"rm -fr /", true},
		{"rm -r -f /", true},
		{"rm -rf ~", true},
		{"rm -rf ~/", true},
		{"rm -rf $HOME", true},
		{"rm -rf /*", true},
		{"rm -rf ./build", false},           // ordinary directory
		{"rm -r /", false},                  // no force flag
		{"rm -f /tmp/file", false},          // no recursive flag
		{"rm /", false},                     // no flags at all
		{"echo hi && rm -rf /", true},       // sub-command after &&
		{"ls; rm -rf ~; echo done", true},   // sub-command between ;
		{"cat x | rm -rf $HOME", true},      // pipe segment
		{"echo 'rm -rf /tmp/scratch'", false}, // no rm token at segment head
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			msg := CheckCommand(tt.command)
			if tt.blocked && msg == "" {
				t.Errorf("command %q should be blocked", tt.command)
			}
			if !tt.blocked && msg != "" {
				t.Errorf("command %q should be allowed, got %q", tt.command, msg)
			}
		})
	}
}

func TestIsTestFile_DirectoryTier(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"src/tests/test_auth.py", true},
		{"src/__tests__/button.tsx", true},
		{"spec/models/user_spec.rb", true},
		{"src/protest/handler.go", false}, // only exact component matches
		{"tests", false},                  // bare dir name is the filename position
	}
	for _, tt := range tests {
		if got := IsTestFile(tt.path); got != tt.want {
			t.Errorf("IsTestFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsTestFile_FilenameTier(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"src/test_auth.py", true},
		{"pkg/server_test.go", true},
		{"app/button.test.tsx", true},
		{"app/button.spec.ts", true},
		{"models/user_spec.rb", true},
		{"conftest.py", true},
		{"src/AuthTest.java", true},
		{"src/AuthTests.kt", true},
		{"src/PaymentSpec.scala", true},
		{"src/auth.py", false},
		{"src/contest.py", false},
		{"src/latest.md", false},
	}
	for _, tt := range tests {
		if got := IsTestFile(tt.path); got != tt.want {
			t.Errorf("IsTestFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
