package workflow

import "fmt"

// Step names a workflow phase.
type Step string

const (
	StepCapture Step = "capture"
	StepProcess Step = "process"
	StepOutput  Step = "output"
)

// ParseStep validates a step name.
func ParseStep(value string) (Step, error) {
	switch Step(value) {
	case StepCapture, StepProcess, StepOutput:
		return Step(value), nil
	default:
		return "", fmt.Errorf("unknown workflow step %q", value)
	}
}
