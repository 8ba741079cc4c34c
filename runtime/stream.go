package runtime

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultChunkDelay is the cosmetic pause between streamed chunks.
const DefaultChunkDelay = 20 * time.Millisecond

// Orchestrator turns one complete endpoint reply into an incremental stream of
// text chunks. The remote endpoint answers atomically; the chunking only
// shapes how the answer is presented.
type Orchestrator struct {
	invoker AgentInvoker
	delay   time.Duration
	logger  logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator. A zero or negative delay disables pacing.
func NewOrchestrator(invoker AgentInvoker, delay time.Duration, logger logrus.FieldLogger) *Orchestrator {
	if delay < 0 {
		delay = 0
	}
	return &Orchestrator{
		invoker: invoker,
		delay:   delay,
		logger:  loggerOrDiscard(logger),
	}
}

// Stream prepares a chunk stream for the request. Nothing is sent to the
// endpoint until the first call to Next. Each stream performs one live
// invocation and cannot be restarted.
func (o *Orchestrator) Stream(ctx context.Context, req Request) *ChunkStream {
	return &ChunkStream{
		ctx:     ctx,
		req:     req,
		invoker: o.invoker,
		delay:   o.delay,
		logger:  o.logger,
	}
}

// Complete is the non-incremental path. It normalizes cached when it is
// non-nil and otherwise performs a fresh invocation.
func (o *Orchestrator) Complete(ctx context.Context, req Request, cached *Result) (string, error) {
	if cached != nil {
		o.logger.WithField("endpointID", req.EndpointID).Debug("Reusing invocation result for one-shot reply")
		return Normalize(cached.Payload), nil
	}
	result, err := o.invoker.Invoke(ctx, req)
	if err != nil {
		return "", err
	}
	return Normalize(result.Payload), nil
}

// ChunkStream is a pull-based sequence of text chunks, used like bufio.Scanner:
//
//	for stream.Next() {
//		fmt.Print(stream.Chunk())
//	}
//	if err := stream.Err(); err != nil { ... }
type ChunkStream struct {
	ctx     context.Context
	req     Request
	invoker AgentInvoker
	delay   time.Duration
	logger  logrus.FieldLogger

	started bool
	result  *Result
	text    string
	tokens  []string
	pos     int
	chunk   string
	err     error
}

// Next advances to the next chunk. It returns false when the stream is
// exhausted or failed; Err distinguishes the two.
func (s *ChunkStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		if !s.begin() {
			return false
		}
	} else if s.pos < len(s.tokens) && !s.pause() {
		return false
	}

	if s.pos >= len(s.tokens) {
		s.chunk = ""
		return false
	}

	token := s.tokens[s.pos]
	s.pos++
	if s.pos < len(s.tokens) {
		token += " "
	}
	s.chunk = token
	return true
}

// Chunk returns the chunk produced by the last successful call to Next.
func (s *ChunkStream) Chunk() string {
	return s.chunk
}

// Err returns the failure that ended the stream, if any.
func (s *ChunkStream) Err() error {
	return s.err
}

// Text returns the full normalized reply once the invocation has succeeded.
func (s *ChunkStream) Text() string {
	return s.text
}

// Result returns the decoded invocation result, or nil when the invocation
// has not happened or failed.
func (s *ChunkStream) Result() *Result {
	return s.result
}

func (s *ChunkStream) begin() bool {
	result, err := s.invoker.Invoke(s.ctx, s.req)
	if err != nil {
		s.err = err
		return false
	}
	s.result = result
	s.text = Normalize(result.Payload)
	s.tokens = SplitChunks(s.text)

	s.logger.WithFields(logrus.Fields{
		"endpointID": s.req.EndpointID,
		"chunks":     len(s.tokens),
		"textLength": len(s.text),
	}).Debug("Streaming normalized reply")
	return true
}

// pause waits the pacing delay between chunks. Only this stream's consumer is
// held up; cancellation of the context ends the stream.
func (s *ChunkStream) pause() bool {
	if s.delay <= 0 {
		return true
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	}
}

// SplitChunks splits text on single ASCII spaces, keeping empty tokens, so
// that rejoining the emitted chunks reproduces text exactly. The trailing
// space is attached by ChunkStream, not here. Empty text has no chunks.
func SplitChunks(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, " ")
}
