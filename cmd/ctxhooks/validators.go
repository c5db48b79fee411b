package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oogisoogi/ctxhooks/internal/config"
	"github.com/oogisoogi/ctxhooks/internal/diagnose"
	"github.com/oogisoogi/ctxhooks/internal/validate"
)

// Validators print one JSON object to stdout and exit 0 when validation
// completed (the orchestrator reads the "valid" field) or 1 on argument or
// fatal failure.

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Deterministic quality-gate validators (JSON on stdout)",
}

// shared validator flags
var (
	stepFlag         int
	gateFlag         string
	pacsTypeFlag     string
	checkSequence    bool
	checkPacs        bool
	checkL0          bool
	checkOutput      bool
	incrementFlag    bool
	checkAndIncrFlag bool
	workflowPathFlag string
)

// emitJSON prints the result; a marshal failure is the fatal path.
func emitJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(`{"valid": false, "error": "marshal failure"}`)
		os.Exit(1)
	}
	fmt.Println(string(data))
	return nil
}

// fatal prints the error envelope and exits 1.
func fatal(err error) {
	out, _ := json.Marshal(map[string]any{ //nolint:errcheck // static shape
		"valid":    false,
		"error":    err.Error(),
		"warnings": []string{"Fatal error: " + err.Error()},
	})
	fmt.Println(string(out))
	os.Exit(1)
}

// validatorProjectDir resolves the project root for validators, which get
// no stdin envelope: the flag wins, then CLAUDE_PROJECT_DIR, then the
// working directory.
func validatorProjectDir() string {
	if projectDirFlag != "" {
		return projectDirFlag
	}
	if dir := os.Getenv("CLAUDE_PROJECT_DIR"); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

var validateRetryCmd = &cobra.Command{
	Use:   "retry-budget",
	Short: "Retry budget check (RB1-RB3), ULW-aware",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsValidGate(gateFlag) {
			fatal(fmt.Errorf("--gate must be one of verification, pacs, review"))
		}
		mode := validate.RetryCheck
		switch {
		case checkAndIncrFlag && incrementFlag:
			fatal(fmt.Errorf("--check-and-increment and --increment are mutually exclusive"))
		case checkAndIncrFlag:
			mode = validate.RetryCheckAndIncrement
		case incrementFlag:
			mode = validate.RetryIncrement
		}
		return emitJSON(validate.RetryBudget(validatorProjectDir(), stepFlag, gateFlag, mode))
	},
}

var validateReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Adversarial review report check (R1-R5) with pACS delta",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := validatorProjectDir()
		res := validate.Review(projectDir, stepFlag)
		if checkSequence {
			seq := validate.ReviewSequence(projectDir, stepFlag)
			res.SequenceValid = &seq.Valid
			if seq.Warning != "" {
				res.Warnings = append(res.Warnings, seq.Warning)
			}
			if !seq.Valid {
				res.Valid = false
			}
		}
		return emitJSON(res)
	},
}

// translationOutput extends the core result with the optional check fields.
type translationOutput struct {
	validate.TranslationResult
	GlossaryWarning string `json:"glossary_warning,omitempty"`
	PacsValid       *bool  `json:"pacs_arithmetic_valid,omitempty"`
	SequenceValid   *bool  `json:"sequence_valid,omitempty"`
}

var validateTranslationCmd = &cobra.Command{
	Use:   "translation",
	Short: "Translation output check (T1-T9)",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := validatorProjectDir()
		out := translationOutput{TranslationResult: validate.Translation(projectDir, stepFlag)}

		glossaryOK, glossaryWarning := validate.GlossaryFreshness(projectDir, stepFlag)
		out.GlossaryValid = glossaryOK
		if glossaryWarning != "" {
			out.GlossaryWarning = glossaryWarning
			out.Warnings = append(out.Warnings, glossaryWarning)
		}
		out.Valid = out.TranslationValid && out.GlossaryValid

		if checkPacs {
			pacsPath := validate.PacsLogPath(projectDir, stepFlag, "translation")
			ok := true
			if content, err := os.ReadFile(pacsPath); err == nil {
				var warning string
				ok, warning = validate.PacsArithmetic(string(content))
				if warning != "" {
					out.Warnings = append(out.Warnings, warning)
				}
			}
			out.PacsValid = &ok
			if !ok {
				out.Valid = false
			}
		}

		if checkSequence {
			seq := validate.ReviewSequence(projectDir, stepFlag)
			out.SequenceValid = &seq.Valid
			if seq.Warning != "" {
				out.Warnings = append(out.Warnings, seq.Warning)
			}
			if !seq.Valid {
				out.Valid = false
			}
		}

		return emitJSON(out)
	},
}

// pacsOutput extends the pACS result with the optional L0 fields.
type pacsOutput struct {
	validate.PacsResult
	L0Valid    *bool    `json:"l0_valid,omitempty"`
	L0Warnings []string `json:"l0_warnings,omitempty"`
}

var validatePacsCmd = &cobra.Command{
	Use:   "pacs",
	Short: "pACS log check (PA1-PA7)",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := validatorProjectDir()
		out := pacsOutput{PacsResult: validate.PacsLog(projectDir, stepFlag, pacsTypeFlag)}
		if checkL0 {
			l0 := validate.StepOutput(projectDir, stepFlag)
			out.L0Valid = &l0.Valid
			out.L0Warnings = l0.Warnings
			if !l0.Valid {
				out.Valid = false
			}
		}
		return emitJSON(out)
	},
}

var validateVerificationCmd = &cobra.Command{
	Use:   "verification",
	Short: "Verification log check (V1a-V1c)",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := validatorProjectDir()
		res := validate.Verification(projectDir, stepFlag)
		if checkPacs {
			pacsPath := validate.PacsLogPath(projectDir, stepFlag, "general")
			if content, err := os.ReadFile(pacsPath); err == nil {
				ok, warning := validate.PacsArithmetic(string(content))
				if warning != "" {
					res.Warnings = append(res.Warnings, warning)
				}
				if !ok {
					res.Valid = false
				}
			}
		}
		return emitJSON(res)
	},
}

var validateTraceabilityCmd = &cobra.Command{
	Use:   "traceability",
	Short: "Cross-step traceability marker check (CT1-CT5)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return emitJSON(validate.Traceability(validatorProjectDir(), stepFlag))
	},
}

var validateDomainKnowledgeCmd = &cobra.Command{
	Use:   "domain-knowledge",
	Short: "Domain knowledge structure check (DK1-DK7)",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkStep := -1
		if checkOutput {
			if stepFlag == 0 {
				fatal(fmt.Errorf("--check-output requires --step N"))
			}
			checkStep = stepFlag
		}
		return emitJSON(validate.DomainKnowledge(validatorProjectDir(), checkStep))
	},
}

var validateWorkflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow DNA inheritance check (W1-W8)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if workflowPathFlag == "" {
			fatal(fmt.Errorf("--workflow-path is required"))
		}
		return emitJSON(validate.Workflow(workflowPathFlag))
	},
}

var validateDiagnosisCmd = &cobra.Command{
	Use:   "diagnosis",
	Short: "Diagnosis log post-validation (AD1-AD10)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsValidGate(gateFlag) {
			fatal(fmt.Errorf("--gate must be one of verification, pacs, review"))
		}
		return emitJSON(validate.Diagnosis(validatorProjectDir(), stepFlag, gateFlag))
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Pre-analysis evidence bundle after a quality-gate failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsValidGate(gateFlag) {
			fatal(fmt.Errorf("--gate must be one of verification, pacs, review"))
		}
		return emitJSON(diagnose.Gather(validatorProjectDir(), stepFlag, gateFlag))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{
		validateRetryCmd, validateReviewCmd, validateTranslationCmd,
		validatePacsCmd, validateVerificationCmd, validateTraceabilityCmd,
		validateDomainKnowledgeCmd, validateDiagnosisCmd, diagnoseCmd,
	} {
		cmd.Flags().IntVar(&stepFlag, "step", 0, "Step number")
	}
	for _, cmd := range []*cobra.Command{validateRetryCmd, validateDiagnosisCmd, diagnoseCmd} {
		cmd.Flags().StringVar(&gateFlag, "gate", "", "Quality gate: verification, pacs or review")
	}

	validateRetryCmd.Flags().BoolVar(&checkAndIncrFlag, "check-and-increment", false,
		"Atomic: check budget, increment only if allowed")
	validateRetryCmd.Flags().BoolVar(&incrementFlag, "increment", false,
		"Unconditional increment (legacy; prefer --check-and-increment)")

	validateReviewCmd.Flags().BoolVar(&checkSequence, "check-sequence", false,
		"Also validate the review→translation sequence")
	validateTranslationCmd.Flags().BoolVar(&checkSequence, "check-sequence", false,
		"Also validate the review→translation sequence")
	validateTranslationCmd.Flags().BoolVar(&checkPacs, "check-pacs", false,
		"Also verify translation pACS arithmetic (T9)")
	validateVerificationCmd.Flags().BoolVar(&checkPacs, "check-pacs", false,
		"Also verify step pACS arithmetic (T9)")

	validatePacsCmd.Flags().StringVar(&pacsTypeFlag, "type", "general",
		"pACS log type: general, translation or review")
	validatePacsCmd.Flags().BoolVar(&checkL0, "check-l0", false,
		"Also run the L0 step-output anti-skip checks")

	validateDomainKnowledgeCmd.Flags().BoolVar(&checkOutput, "check-output", false,
		"Cross-check [dks:id] markers in the step output")

	validateWorkflowCmd.Flags().StringVar(&workflowPathFlag, "workflow-path", "",
		"Path to the generated workflow file")

	validateCmd.AddCommand(
		validateRetryCmd, validateReviewCmd, validateTranslationCmd,
		validatePacsCmd, validateVerificationCmd, validateTraceabilityCmd,
		validateDomainKnowledgeCmd, validateWorkflowCmd, validateDiagnosisCmd,
	)
	rootCmd.AddCommand(validateCmd, diagnoseCmd)
}
