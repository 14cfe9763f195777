package job

import "github.com/rurikawa-judge/judger/internal/model"

// Sink is everything a JobPipeline needs to report progress back over the
// connection while it runs. The conn package's WebsocketSink implements
// this; job never imports conn, so tests can supply a fake. The final
// JobResult's reliable delivery goes over HTTP (coordinator.Client), not
// through Sink — see Pipeline.Run.
type Sink interface {
	SendJobProgress(jobID model.JobID, stage model.Stage)
	SendPartialResult(jobID model.JobID, testID string, result model.TestResult)
	SendJobOutput(jobID model.JobID, stream string, isError bool)
	SendJobResultFireAndForget(result model.JobResult)
}
