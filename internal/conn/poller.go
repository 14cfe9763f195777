package conn

import (
	"time"

	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/idgen"
	"github.com/rurikawa-judge/judger/internal/wire"
	"github.com/rurikawa-judge/judger/logger"
)

const (
	pollRetryInterval = 1 * time.Second
	pollInterval      = 10 * time.Second
	pollTimeout       = 60 * time.Second
)

// Poller drives §4.10: while a poll is outstanding it just waits; otherwise
// it asks the coordinator for as many new jobs as the worker has spare
// capacity for.
type Poller struct {
	Sink      *WebsocketSink
	Status    DispatchStatus
	Generator *idgen.Generator
	MaxJobs   int
	poll      *pollState
}

// Run loops until token is cancelled.
func (p *Poller) Run(token *cancel.Token) {
	for {
		select {
		case <-token.Cancelled():
			return
		default:
		}

		if p.poll.isPending() {
			select {
			case <-time.After(pollRetryInterval):
			case <-token.Cancelled():
				return
			}
			continue
		}

		requestCount := p.MaxJobs - p.Status.RunningCount()
		if requestCount < 0 {
			requestCount = 0
		}

		messageID := p.Generator.Generate()
		p.poll.set(messageID)

		req := wire.NewJobRequest(p.Status.RunningCount(), requestCount, messageID)
		if err := p.Sink.Send(token.Context(), req, false); err != nil {
			logger.ConnWarnw("failed to send job request", "error", err)
		}

		time.AfterFunc(pollTimeout, func() {
			p.poll.clearIfStillPending(messageID)
		})

		select {
		case <-time.After(pollInterval):
		case <-token.Cancelled():
			return
		}
	}
}
