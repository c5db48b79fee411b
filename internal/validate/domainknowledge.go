package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DomainKnowledge file structure. Relations may carry their own id so that
// output markers can reference them directly.
type dksFile struct {
	Metadata    map[string]any `yaml:"metadata"`
	Entities    []dksEntity    `yaml:"entities"`
	Relations   []dksRelation  `yaml:"relations"`
	Constraints []dksConstraint `yaml:"constraints"`
}

type dksEntity struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"`
	Attributes map[string]any `yaml:"attributes"`
}

type dksRelation struct {
	ID         string `yaml:"id"`
	Subject    string `yaml:"subject"`
	Predicate  string `yaml:"predicate"`
	Object     string `yaml:"object"`
	Confidence string `yaml:"confidence"`
}

type dksConstraint struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Check       string `yaml:"check"`
}

// DomainKnowledgeResult is the DKS structural verdict.
type DomainKnowledgeResult struct {
	Valid           bool     `json:"valid"`
	EntityCount     int      `json:"entity_count"`
	RelationCount   int      `json:"relation_count"`
	ConstraintCount int      `json:"constraint_count"`
	CheckedStep     int      `json:"checked_step,omitempty"`
	Warnings        []string `json:"warnings"`
}

var (
	slugID = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	dksMarker = regexp.MustCompile(`\[dks:([\w-]+)\]`)

	// sumConstraint is the one numeric check shape verified best-effort:
	// "sum(field) <= N".
	sumConstraint = regexp.MustCompile(`^sum\((\w+)\)\s*<=\s*(\d+(?:\.\d+)?)$`)
)

// dksRequiredMetadata are the mandatory metadata keys.
var dksRequiredMetadata = []string{"domain", "schema_version"}

// dksConfidence are the accepted relation confidence levels.
var dksConfidence = map[string]bool{"high": true, "medium": true, "low": true}

// DomainKnowledgePath locates the DKS file for a project.
func DomainKnowledgePath(projectDir string) (string, bool) {
	for _, name := range []string{"domain-knowledge.yaml", "domain-knowledge.yml"} {
		path := filepath.Join(projectDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// DomainKnowledge runs the DK1–DK7 checks. checkStep < 0 skips the output
// cross-validation (DK6/DK7 markers).
func DomainKnowledge(projectDir string, checkStep int) DomainKnowledgeResult {
	res := DomainKnowledgeResult{Warnings: []string{}}

	path, found := DomainKnowledgePath(projectDir)
	if !found {
		res.Warnings = append(res.Warnings, "DK1 FAIL: domain-knowledge.yaml not found")
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("DK1 FAIL: %s unreadable", path))
		return res
	}

	var dks dksFile
	if err := yaml.Unmarshal(data, &dks); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("DK1 FAIL: YAML parse error: %v", err))
		return res
	}

	res.Valid = true
	res.EntityCount = len(dks.Entities)
	res.RelationCount = len(dks.Relations)
	res.ConstraintCount = len(dks.Constraints)

	for _, key := range dksRequiredMetadata {
		if _, ok := dks.Metadata[key]; !ok {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK2 FAIL: metadata key %q missing", key))
		}
	}

	ids := map[string]bool{}
	for _, e := range dks.Entities {
		if !slugID.MatchString(e.ID) {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK3 FAIL: entity id %q is not slug-format", e.ID))
		}
		if ids[e.ID] {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK3 FAIL: entity id %q duplicated", e.ID))
		}
		ids[e.ID] = true
	}

	referenceable := map[string]bool{}
	for id := range ids {
		referenceable[id] = true
	}
	for _, r := range dks.Relations {
		if !ids[r.Subject] {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK4 FAIL: relation subject %q is not an entity id", r.Subject))
		}
		if !ids[r.Object] {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK4 FAIL: relation object %q is not an entity id", r.Object))
		}
		if !dksConfidence[r.Confidence] {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK4 FAIL: relation confidence %q not in high/medium/low", r.Confidence))
		}
		if r.ID != "" {
			referenceable[r.ID] = true
		}
	}

	for _, c := range dks.Constraints {
		if c.ID == "" || c.Description == "" || c.Check == "" {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK5 FAIL: constraint %q missing id/description/check", c.ID))
		}
	}

	res.Warnings = append(res.Warnings, fmt.Sprintf(
		"DK INFO: entity_count=%d relation_count=%d constraint_count=%d",
		res.EntityCount, res.RelationCount, res.ConstraintCount))

	if checkStep < 0 {
		return res
	}
	res.CheckedStep = checkStep

	outputPath, found := StepOutputPath(projectDir, checkStep)
	if !found {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("DK6 FAIL: step %d output not found for --check-output", checkStep))
		return res
	}
	content, ok := readText(outputPath)
	if !ok {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("DK6 FAIL: step %d output unreadable", checkStep))
		return res
	}

	for _, m := range dksMarker.FindAllStringSubmatch(content, -1) {
		if !referenceable[m[1]] {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("DK6 FAIL: marker [dks:%s] resolves to no entity or relation id", m[1]))
		}
	}

	for _, c := range dks.Constraints {
		m := sumConstraint.FindStringSubmatch(c.Check)
		if m == nil {
			continue // only the numeric sum shape is machine-checkable
		}
		field := m[1]
		limit, _ := strconv.ParseFloat(m[2], 64) //nolint:errcheck // digits guaranteed by regex
		sum := 0.0
		for _, e := range dks.Entities {
			sum += numericAttr(e.Attributes, field)
		}
		if sum > limit {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"DK7 FAIL: constraint %s violated: sum(%s)=%.2f > %.2f", c.ID, field, sum, limit))
		}
	}

	return res
}

func numericAttr(attrs map[string]any, field string) float64 {
	switch v := attrs[field].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
