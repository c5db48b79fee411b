// Package guard implements the deterministic pre-tool checks: the
// destructive-command blocker and the TDD test-file blocker. Detection is
// pattern matching on the raw inputs; a match is a block, and false
// positives are acceptable where false negatives are not.
package guard

import (
	"regexp"
	"strings"
)

// gitPattern pairs a compiled recognizer with the stderr message the
// assistant receives for self-correction.
type gitPattern struct {
	re      *regexp.Regexp
	message string
}

// Regex notes:
//   - \s before -- flags (not \b) because \b fails between space and dash
//   - (?:\s|$) after --force excludes --force-with-lease and
//     --force-if-includes without lookahead, which RE2 does not support
//   - \s-[a-zA-Z]*f matches combined short flags (-f, -uf, -fu)
var gitPatterns = []gitPattern{
	{
		regexp.MustCompile(`\bgit\s+push\b.*\s--force(?:\s|$)`),
		"git push --force is blocked. Use --force-with-lease for safer force pushing.",
	},
	{
		regexp.MustCompile(`\bgit\s+push\b.*\s-[a-zA-Z]*f`),
		"git push -f is blocked. Use --force-with-lease for safer force pushing.",
	},
	{
		regexp.MustCompile(`\bgit\s+reset\b.*\s--hard(?:\s|$)`),
		"git reset --hard is blocked. Discards uncommitted changes irreversibly. Use git stash or git reset --soft instead.",
	},
	{
		regexp.MustCompile(`\bgit\s+checkout\b\s+(?:--\s+)?\.(?:\s|$)`),
		"git checkout . is blocked. Discards all unstaged changes. Use git stash to preserve changes first.",
	},
	{
		regexp.MustCompile(`\bgit\s+restore\b(?:\s+--[\w-]+)*\s+\.(?:\s|$)`),
		"git restore . is blocked. Discards all changes. Use git stash to preserve changes first.",
	},
	{
		regexp.MustCompile(`\bgit\s+clean\b.*\s-[a-zA-Z]*f`),
		"git clean -f is blocked. Permanently removes untracked files. Use git clean -n (dry run) to preview first.",
	},
	{
		regexp.MustCompile(`\bgit\s+branch\b.*\s-D`),
		"git branch -D is blocked. Force-deletes branch even if not fully merged. Use git branch -d for safe deletion.",
	},
	{
		regexp.MustCompile(`\bgit\s+branch\b.*\s--delete\b.*\s--force\b`),
		"git branch --delete --force is blocked. Force-deletes branch even if not fully merged. Use git branch -d for safe deletion.",
	},
	{
		regexp.MustCompile(`\bgit\s+branch\b.*\s--force\b.*\s--delete\b`),
		"git branch --force --delete is blocked. Force-deletes branch even if not fully merged. Use git branch -d for safe deletion.",
	},
}

// shellSplit separates a command line at &&, || and ; so each sub-command
// gets its own rm check.
var shellSplit = regexp.MustCompile(`\s*(?:&&|\|\||;)\s*`)

// dangerousRmTargets are the catastrophic paths. Specific paths only, not
// general directories.
var dangerousRmTargets = map[string]bool{
	"/": true, "/*": true,
	"~": true, "~/": true,
	"$HOME": true, "$HOME/": true, "$HOME/*": true,
}

// CheckCommand matches command against all destructive patterns. It
// returns the block message, or "" when the command is allowed.
func CheckCommand(command string) string {
	for _, p := range gitPatterns {
		if p.re.MatchString(command) {
			return p.message
		}
	}

	for _, sub := range shellSplit.Split(command, -1) {
		for _, segment := range strings.Split(sub, "|") {
			if msg := checkDangerousRm(strings.TrimSpace(segment)); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// checkDangerousRm blocks an rm sub-command iff recursive and force flags
// both appear (in any single-dash combination) and a catastrophic target is
// present.
func checkDangerousRm(subCommand string) string {
	tokens := strings.Fields(subCommand)
	if len(tokens) == 0 || tokens[0] != "rm" {
		return ""
	}

	var flags string
	var targets []string
	for _, token := range tokens[1:] {
		switch {
		case strings.HasPrefix(token, "--"):
			// long options carry no combined short flags
		case strings.HasPrefix(token, "-"):
			flags += token[1:]
		default:
			targets = append(targets, strings.Trim(token, `"'`))
		}
	}

	hasRecursive := strings.ContainsAny(flags, "rR")
	hasForce := strings.Contains(flags, "f")
	if !hasRecursive || !hasForce {
		return ""
	}

	for _, target := range targets {
		if dangerousRmTargets[target] {
			return "rm -rf targeting " + target + " is blocked. Catastrophic, irreversible file deletion."
		}
	}
	return ""
}

// testDirNames are matched exactly against path components (excluding the
// filename).
var testDirNames = map[string]bool{
	"test": true, "tests": true, "__tests__": true, "spec": true, "specs": true,
}

// testFilePatterns cover the common per-language test naming conventions.
var testFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^test[_.]`),      // test_foo.py
	regexp.MustCompile(`(?i)_tests?\.`),      // foo_test.go
	regexp.MustCompile(`(?i)\.tests?\.`),     // foo.test.ts
	regexp.MustCompile(`(?i)\.specs?\.`),     // foo.spec.tsx
	regexp.MustCompile(`(?i)_spec\.`),        // foo_spec.rb
	regexp.MustCompile(`(?i)^conftest\.py$`), // pytest fixtures
}

// camelCaseSuffixes cover Java/Kotlin/C#/Scala conventions via basename
// suffix match.
var camelCaseSuffixes = []string{"Test", "Tests", "Spec", "Specs"}

// IsTestFile applies the two-tier test-file detection: exact directory
// component match first, then filename conventions.
func IsTestFile(filePath string) bool {
	normalized := strings.ReplaceAll(filePath, `\`, "/")
	parts := strings.Split(normalized, "/")

	for _, part := range parts[:len(parts)-1] {
		if testDirNames[strings.ToLower(part)] {
			return true
		}
	}

	filename := parts[len(parts)-1]
	if filename == "" {
		return false
	}
	for _, re := range testFilePatterns {
		if re.MatchString(filename) {
			return true
		}
	}

	basename := filename
	if i := strings.LastIndexByte(filename, '.'); i > 0 {
		basename = filename[:i]
	}
	for _, suffix := range camelCaseSuffixes {
		if strings.HasSuffix(basename, suffix) {
			return true
		}
	}
	return false
}

// TestFileBlockMessage is the self-correction message for a blocked test
// edit.
const TestFileBlockMessage = "Test files are read-only in TDD mode (.tdd-guard active). " +
	"Do NOT modify the test. Fix the implementation code to make the test pass."
