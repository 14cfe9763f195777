package conn

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rurikawa-judge/judger/internal/cancel"
	"github.com/rurikawa-judge/judger/internal/idgen"
	"github.com/rurikawa-judge/judger/internal/job"
	"github.com/rurikawa-judge/judger/internal/model"
	"github.com/rurikawa-judge/judger/internal/wire"
	"github.com/rurikawa-judge/judger/logger"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 256 * time.Second
	backoffFactor  = 1.6
	keepaliveEvery = 20 * time.Second
)

// JobAccepter is the subset of Dispatcher the Connection needs, so this
// package can be tested without constructing a full Dispatcher.
type JobAccepter interface {
	Accept(j model.Job)
	Abort(abort model.AbortJob)
}

// DispatchStatus reports live admission numbers to the Poller.
type DispatchStatus interface {
	RunningCount() int
}

// pollState is the single in-flight poll id, shared between Poller (which
// sets it) and the read loop (which clears it on a matching MultiNewJob).
type pollState struct {
	mu sync.Mutex
	id *model.JobID
}

func (p *pollState) set(id model.JobID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = &id
}

// clearIfMatches clears the pending id iff it equals reply, reporting
// whether it matched.
func (p *pollState) clearIfMatches(reply model.JobID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == nil || *p.id != reply {
		return false
	}
	p.id = nil
	return true
}

// clearIfStillPending is used by the Poller's timeout safety vent: clear
// only if nothing has answered this exact poll yet.
func (p *pollState) clearIfStillPending(id model.JobID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id != nil && *p.id == id {
		p.id = nil
	}
}

func (p *pollState) isPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id != nil
}

// Connection is the outer reconnect loop of §4.9: build URL, dial,
// install the sink, run keepalive + Poller + read loop, and on any
// disconnect go back to dialing with exponential backoff.
type Connection struct {
	URL        func() string // recomputed each attempt; token may rotate
	Sink       *WebsocketSink
	Dispatcher JobAccepter
	Generator  *idgen.Generator
	Status     DispatchStatus
	MaxJobs    int

	poll pollState
}

// Run drives the outer reconnect loop until root is cancelled.
func (c *Connection) Run(root *cancel.Token) {
	backoff := initialBackoff
	for !root.IsCancelled() {
		conn, _, err := websocket.DefaultDialer.DialContext(root.Context(), c.URL(), nil)
		if err != nil {
			logger.ConnWarnw("failed to dial coordinator, backing off", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-root.Cancelled():
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		logger.ConnInfow("connected to coordinator")
		c.Sink.Install(conn)

		c.runSession(root, conn)

		c.Sink.Clear()
		conn.Close()
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// runSession runs keepalive, Poller, and the read loop for one dialed
// connection, returning once the read loop ends (error or root cancel).
func (c *Connection) runSession(root *cancel.Token, conn *websocket.Conn) {
	sessionToken := root.Child()
	defer sessionToken.Cancel(cancel.CauseAborted)

	// Closing the connection unblocks the read loop's ReadMessage once the
	// session ends for any reason (root cancel, failed keepalive).
	go func() {
		<-sessionToken.Cancelled()
		conn.Close()
	}()

	var eg errgroup.Group
	eg.Go(func() error { c.keepalive(sessionToken, conn); return nil })
	eg.Go(func() error {
		poller := &Poller{Sink: c.Sink, Status: c.Status, Generator: c.Generator, MaxJobs: c.MaxJobs, poll: &c.poll}
		poller.Run(sessionToken)
		return nil
	})

	c.readLoop(root, sessionToken, conn)
	_ = eg.Wait()
}

func (c *Connection) keepalive(token *cancel.Token, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-token.Cancelled():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.ConnWarnw("keepalive ping failed, ending session", "error", err)
				token.Cancel(cancel.CauseAborted)
				return
			}
		}
	}
}

func (c *Connection) readLoop(root, session *cancel.Token, conn *websocket.Conn) {
	defer session.Cancel(cancel.CauseAborted)
	for {
		if root.IsCancelled() {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.ConnWarnw("read loop ended", "error", err)
			return
		}

		msg, err := wire.DecodeServerMsg(data)
		if err != nil {
			logger.ConnWarnw("failed to decode server message", "error", err)
			continue
		}

		switch m := msg.(type) {
		case wire.MultiNewJob:
			if !c.poll.clearIfMatches(m.ReplyTo) {
				continue
			}
			for _, j := range m.Jobs {
				c.Dispatcher.Accept(j)
			}
		case wire.AbortJobMsg:
			c.Dispatcher.Abort(model.AbortJob{JobID: m.JobID, AsCancel: m.AsCancel})
		case wire.ServerHello:
			logger.ConnInfow("received server hello")
		default:
			logger.ConnWarnw("unhandled server message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

var _ job.Sink = (*WebsocketSink)(nil)
