// Package wire defines the tagged JSON messages exchanged over the
// worker's WebSocket connection to the coordinator. Every message
// carries a `_t` discriminator so a single frame type can be decoded
// generically before being routed.
package wire

import (
	"encoding/json"

	"github.com/rurikawa-judge/judger/errors"
	"github.com/rurikawa-judge/judger/internal/model"
)

// The `_t` discriminator values of client and server messages.
const (
	TypeJobProgress    = "job_progress"
	TypePartialResult  = "partial_result"
	TypeJobResult      = "job_result"
	TypeClientStatus   = "client_status"
	TypeJobRequest     = "job_request"
	TypeJobOutput      = "job_output"

	TypeMultiNewJob = "multi_new_job"
	TypeAbortJob    = "abort_job"
	TypeServerHello = "server_hello"
)

// envelope is used only to sniff the discriminator before decoding into a
// concrete type.
type envelope struct {
	Type string `json:"_t"`
}

// JobProgress reports the job's current stage.
type JobProgress struct {
	Type  string      `json:"_t"`
	JobID model.JobID `json:"jobId"`
	Stage model.Stage `json:"stage"`
}

func NewJobProgress(jobID model.JobID, stage model.Stage) JobProgress {
	return JobProgress{Type: TypeJobProgress, JobID: jobID, Stage: stage}
}

// PartialResult streams one completed test case's result while the job is
// still running.
type PartialResult struct {
	Type       string            `json:"_t"`
	JobID      model.JobID       `json:"jobId"`
	TestID     string            `json:"testId"`
	TestResult model.TestResult  `json:"testResult"`
}

func NewPartialResult(jobID model.JobID, testID string, result model.TestResult) PartialResult {
	return PartialResult{Type: TypePartialResult, JobID: jobID, TestID: testID, TestResult: result}
}

// JobResultMsg carries the job's final verdict.
type JobResultMsg struct {
	Type      string              `json:"_t"`
	JobID     model.JobID         `json:"jobId"`
	JobResult model.JobResultKind `json:"jobResult"`
	Results   map[string]model.TestResult `json:"results"`
	Message   string              `json:"message,omitempty"`
}

func NewJobResultMsg(r model.JobResult) JobResultMsg {
	return JobResultMsg{
		Type:      TypeJobResult,
		JobID:     r.ID,
		JobResult: r.Kind,
		Results:   r.Results,
		Message:   r.Message,
	}
}

// ClientStatus advertises the worker's current admission state.
type ClientStatus struct {
	Type              string `json:"_t"`
	ActiveTaskCount   int    `json:"activeTaskCount"`
	CanAcceptNewTask  bool   `json:"canAcceptNewTask"`
	RequestForNewTask int    `json:"requestForNewTask"`
}

// JobRequest polls the coordinator for up to RequestForNewTask new jobs.
type JobRequest struct {
	Type              string          `json:"_t"`
	ActiveTaskCount   int             `json:"activeTaskCount"`
	RequestForNewTask int             `json:"requestForNewTask"`
	MessageID         model.JobID     `json:"messageId"`
}

func NewJobRequest(activeTaskCount, requestForNewTask int, messageID model.JobID) JobRequest {
	return JobRequest{
		Type:              TypeJobRequest,
		ActiveTaskCount:   activeTaskCount,
		RequestForNewTask: requestForNewTask,
		MessageID:         messageID,
	}
}

// JobOutput streams build/run output as it's produced.
type JobOutput struct {
	Type   string      `json:"_t"`
	JobID  model.JobID `json:"jobId"`
	Stream string      `json:"stream"`
	Error  bool        `json:"error"`
}

// MultiNewJob is the coordinator's reply to a JobRequest.
type MultiNewJob struct {
	Type    string       `json:"_t"`
	ReplyTo model.JobID  `json:"replyTo"`
	Jobs    []model.Job  `json:"jobs"`
}

// AbortJobMsg asks the worker to stop a running job.
type AbortJobMsg struct {
	Type     string      `json:"_t"`
	JobID    model.JobID `json:"jobId"`
	AsCancel bool        `json:"asCancel"`
}

// ServerHello is sent once after the WebSocket handshake completes.
type ServerHello struct {
	Type string `json:"_t"`
}

// DecodeServerMsg sniffs the `_t` field and decodes into the matching
// concrete type, returned as `any` for the Connection read loop to
// type-switch on.
func DecodeServerMsg(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to sniff server message discriminator")
	}

	switch env.Type {
	case TypeMultiNewJob:
		var m MultiNewJob
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "failed to decode multi_new_job")
		}
		return m, nil
	case TypeAbortJob:
		var m AbortJobMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "failed to decode abort_job")
		}
		return m, nil
	case TypeServerHello:
		return ServerHello{Type: TypeServerHello}, nil
	default:
		return nil, errors.Newf("unknown server message type %q", env.Type)
	}
}
