// ctxhooks is the context preservation and quality-gate layer for AI
// coding sessions: lifecycle hooks that distill the conversation transcript
// into bounded snapshots on disk, pre-tool guards, and the deterministic
// validator suite the workflow orchestrator drives between steps.
package main

func main() {
	Execute()
}
