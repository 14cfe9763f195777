// Package runner executes a planned TestCase against a container engine
// and reduces each step's outcome into a TestResult (§4.5 of the worker
// design).
package runner

import (
	"fmt"

	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/container"
	"github.com/rurikawa-judge/judger/internal/model"
)

// outputSinkCapacity bounds the channel every ProcessOutput is streamed
// through while a case runs. The pipeline collects the outputs as they
// arrive and uploads a failed case's output only after the case finishes.
const outputSinkCapacity = 4

// Runner drives one TestCase at a time against an Engine.
type Runner struct {
	Engine container.Engine
}

// New builds a Runner bound to a container engine.
func New(engine container.Engine) *Runner {
	return &Runner{Engine: engine}
}

// ContainerHandles maps an ExecGroup's container tag to its live container
// id, populated by the caller (JobPipeline) once per job.
type ContainerHandles map[string]string

// Run executes every ExecGroup of tc in order, streaming each step's
// ProcessOutput to outputs, and returns the case's final TestResult.
// Stops at the first step that doesn't continue (per §4.5 semantics).
func (r *Runner) Run(token *cancel.Token, tc model.TestCase, handles ContainerHandles, shouldFail bool, outputs chan<- model.ProcessOutput) model.TestResult {
	ctx := token.Context()
	stepIndex := 0
	for _, group := range tc.Groups {
		containerID, ok := handles[group.ContainerTag]
		if !ok {
			return model.TestResult{Kind: model.TestPipelineFailed, Message: fmt.Sprintf("no container for tag %s", group.ContainerTag), StepIndex: stepIndex}
		}

		for _, step := range group.Steps {
			if token.IsCancelled() {
				return model.TestResult{Kind: model.TestOtherError, Message: "cancelled", StepIndex: stepIndex}
			}

			result, err := r.Engine.Exec(ctx, containerID, step.Command, container.ExecOptions{
				Env:     step.Env,
				Timeout: step.Timeout,
			})
			if err != nil && result.TimedOut {
				return model.TestResult{Kind: model.TestTimeLimitExceeded, StepIndex: stepIndex}
			}
			if err != nil {
				return model.TestResult{Kind: model.TestOtherError, Message: err.Error(), StepIndex: stepIndex}
			}

			output := model.ProcessOutput{
				ReturnCode:   result.ReturnCode,
				Command:      step.Command,
				Stdout:       result.Stdout,
				Stderr:       result.Stderr,
				ContainerTag: group.ContainerTag,
			}
			select {
			case outputs <- output:
			case <-ctx.Done():
			}

			switch {
			case result.ReturnCode == 0:
				if step.CompareOutput != nil {
					match, err := compareOutput(string(result.Stdout), *step.CompareOutput)
					if err != nil {
						return model.TestResult{Kind: model.TestOtherError, Message: err.Error(), StepIndex: stepIndex}
					}
					if !match {
						return model.TestResult{Kind: model.TestOutputMismatch, StepIndex: stepIndex}
					}
				}
				// continue to next step

			case result.ReturnCode > 0:
				if shouldFail {
					return model.TestResult{Kind: model.TestAccepted, StepIndex: stepIndex}
				}
				return model.TestResult{Kind: model.TestPipelineFailed, StepIndex: stepIndex}

			default: // ReturnCode < 0: terminating signal
				return model.TestResult{Kind: model.TestRuntimeError, Message: fmt.Sprintf("terminated by signal %d", -result.ReturnCode), StepIndex: stepIndex}
			}

			stepIndex++
		}
	}

	return model.TestResult{Kind: model.TestAccepted}
}

// NewOutputSink creates the bounded channel every case's step outputs are
// streamed through.
func NewOutputSink() chan model.ProcessOutput {
	return make(chan model.ProcessOutput, outputSinkCapacity)
}
