// Package model holds the data types shared across the worker's
// components: jobs, suites, test plans, and results (§3 of the worker
// design).
package model

import (
	"time"

	"github.com/rurikawa-judge/judger/internal/idgen"
)

// JobID identifies a job across its whole lifecycle.
type JobID = idgen.FlowSnake

// SuiteID identifies a test suite as the coordinator names it.
type SuiteID string

// Stage is a job's position in its state machine.
type Stage string

const (
	StageQueued     Stage = "Queued"
	StageDispatched Stage = "Dispatched"
	StageFetching   Stage = "Fetching"
	StageCompiling  Stage = "Compiling"
	StageRunning    Stage = "Running"
	StageFinished   Stage = "Finished"
	StageCancelled  Stage = "Cancelled"
	StageSkipped    Stage = "Skipped"
	StageAborted    Stage = "Aborted"
)

// Job is a unit of work dispatched by the coordinator.
type Job struct {
	ID        JobID    `json:"id"`
	RepoURL   string   `json:"repo"`
	Revision  string   `json:"revision"`
	Suite     SuiteID  `json:"testSuite"`
	Tests     []string `json:"tests"`
	Stage     Stage    `json:"-"`
}

// TestSuiteDescriptor is the coordinator's authoritative record for a
// suite's currently-published content.
type TestSuiteDescriptor struct {
	ID            SuiteID  `json:"id"`
	Name          string   `json:"name"`
	Tags          []string `json:"tags"`
	PackageFileID string   `json:"packageFileId"`
}

// MappedDir describes a directory the suite binds into the container.
type MappedDir struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ReadOnly bool   `json:"readOnly"`
}

// ExecKind distinguishes whether a suite's grading steps run inside an
// isolated judger container or alongside the user's own container.
type ExecKind string

const (
	ExecKindIsolated ExecKind = "isolated"
	ExecKindTogether ExecKind = "together"
)

// PublicConfig is the suite-authored configuration read from the
// downloaded suite archive's testconf.json.
type PublicConfig struct {
	Variables   map[string]string `json:"vars"`
	Run         []string          `json:"run"`
	MappedDir   MappedDir         `json:"mappedDir"`
	Binds       []string          `json:"binds"`
	TimeLimitMS *int64            `json:"timeLimit,omitempty"`
	MemoryLimit *int64            `json:"memoryLimit,omitempty"`
	ExecKind    ExecKind          `json:"execKind"`
	TestGroups  map[string][]TestCaseDefinition `json:"testGroups"`
}

// TimeLimit returns the per-step exec timeout implied by TimeLimitMS, or
// zero if the suite didn't set one (meaning no timeout is enforced).
func (c PublicConfig) TimeLimit() time.Duration {
	if c.TimeLimitMS == nil {
		return 0
	}
	return time.Duration(*c.TimeLimitMS) * time.Millisecond
}

// FindTestCase looks up a named case's definition across every test group,
// the way the coordinator's own verification index does: group membership
// doesn't matter for running a case, only for organizing testconf.json.
func (c PublicConfig) FindTestCase(name string) (TestCaseDefinition, bool) {
	for _, cases := range c.TestGroups {
		for _, def := range cases {
			if def.Name == name {
				return def, true
			}
		}
	}
	return TestCaseDefinition{}, false
}

// TestCaseDefinition is one named case as declared in the suite's
// testconf.json test groups.
type TestCaseDefinition struct {
	Name       string  `json:"name"`
	ShouldFail bool    `json:"shouldFail"`
	HasOut     bool    `json:"hasOut"`
	BaseScore  float64 `json:"baseScore"`
}

// OutputSource is where a comparator's expected output comes from.
type OutputSource struct {
	InMemory string // non-empty ⇒ compare against this literal string
	FilePath string // non-empty ⇒ compare against this host file's content
}

func (s OutputSource) IsSet() bool { return s.InMemory != "" || s.FilePath != "" }

// ExecStep is one command run inside an ExecGroup's container.
type ExecStep struct {
	Env           map[string]string
	Command       string
	Timeout       time.Duration // zero ⇒ no per-step timeout
	CompareOutput *OutputSource // nil ⇒ no comparison, just check return code
}

// ExecGroup is an ordered list of steps that share a container.
type ExecGroup struct {
	ContainerTag string
	Steps        []ExecStep
}

// TestCase is the planned execution for one test case: one or two
// ExecGroups (user container, optionally a separate judger container).
type TestCase struct {
	Name   string
	Groups []ExecGroup
}

// ProcessOutput is the result of running one ExecStep.
type ProcessOutput struct {
	ReturnCode   int32 // negative encodes a signal
	Command      string
	Stdout       []byte
	Stderr       []byte
	ContainerTag string
}

// TestResultKind classifies how one test case concluded.
type TestResultKind string

const (
	TestAccepted           TestResultKind = "Accepted"
	TestWrongAnswer        TestResultKind = "WrongAnswer"
	TestRuntimeError       TestResultKind = "RuntimeError"
	TestPipelineFailed     TestResultKind = "PipelineFailed"
	TestTimeLimitExceeded  TestResultKind = "TimeLimitExceeded"
	TestOutputMismatch     TestResultKind = "OutputMismatch"
	TestOtherError         TestResultKind = "OtherError"
)

// TestResult is the outcome recorded for a single test case.
type TestResult struct {
	Kind           TestResultKind `json:"kind"`
	UploadedFileID string         `json:"uploadedFileId,omitempty"`
	Message        string         `json:"message,omitempty"`
	StepIndex      int            `json:"stepIndex,omitempty"`
}

// JobResultKind classifies how a job concluded overall.
type JobResultKind string

const (
	JobAccepted      JobResultKind = "Accepted"
	JobCompileError  JobResultKind = "CompileError"
	JobPipelineError JobResultKind = "PipelineError"
	JobJudgerError   JobResultKind = "JudgerError"
	JobAborted       JobResultKind = "Aborted"
	JobOtherError    JobResultKind = "OtherError"
)

// JobResult is the final verdict reported to the coordinator.
type JobResult struct {
	ID      JobID                    `json:"jobId"`
	Kind    JobResultKind            `json:"resultKind"`
	Results map[string]TestResult    `json:"results"`
	Message string                   `json:"message,omitempty"`
}

// AbortJob is the coordinator's request to stop a running job.
type AbortJob struct {
	JobID    JobID `json:"jobId"`
	AsCancel bool  `json:"asCancel"`
}
