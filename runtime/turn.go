package runtime

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrorPrefix starts every assistant message that reports a failed turn.
const ErrorPrefix = "Error: "

// Message roles stored in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History receives the messages of a conversation. It is append-only.
type History interface {
	AddMessage(role, content string)
}

// Emitter receives streamed chunks. Returning an error abandons the streaming
// attempt; the turn then completes through the one-shot path.
type Emitter func(chunk string) error

// Observer is notified about turn outcomes. All methods must be safe for concurrent use.
type Observer interface {
	ObserveInvocation(outcome string)
	ObserveFallback()
}

// Invocation outcomes reported to Observer.
const (
	OutcomeStreamed = "streamed"
	OutcomeFallback = "fallback"
	OutcomeOneShot  = "oneshot"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// TurnResult describes how a turn ended.
type TurnResult struct {
	// Text is the assistant reply, or the error message when Err is set.
	Text string
	// Streamed is true when every chunk reached the emitter.
	Streamed bool
	// FellBack is true when the reply came from the one-shot path.
	FellBack bool
	// StreamErr is the failure that triggered the fallback.
	StreamErr error
	// Err is the terminal failure of the turn.
	Err error
}

// Runner drives conversational turns: user message in, exactly one assistant
// message out.
type Runner struct {
	orchestrator *Orchestrator
	observer     Observer
	logger       logrus.FieldLogger
}

// NewRunner creates a turn runner. observer may be nil.
func NewRunner(orchestrator *Orchestrator, observer Observer, logger logrus.FieldLogger) *Runner {
	return &Runner{
		orchestrator: orchestrator,
		observer:     observer,
		logger:       loggerOrDiscard(logger),
	}
}

// Run executes one turn. The prompt is appended to history as a user message
// before anything else, and exactly one assistant message is appended before
// Run returns: the reply text on success, or ErrorPrefix plus the cause.
//
// Streaming is tried first. If the invocation or the emitter fails, the turn
// falls back to a one-shot reply that reuses the streaming attempt's
// invocation result when one was obtained. A failure of the fallback is terminal.
//
// Parameters:
//   - ctx: cancels the turn; a cancelled turn is not retried one-shot
//   - req: endpoint, session, region and prompt of the turn
//   - history: conversation receiving the user and assistant messages
//   - emit: receives each chunk in order while streaming
//
// Returns:
//   - TurnResult: the final text, whether the turn fell back, and the cause of a failure
func (r *Runner) Run(ctx context.Context, req Request, history History, emit Emitter) TurnResult {
	history.AddMessage(RoleUser, req.Prompt)

	log := r.logger.WithFields(logrus.Fields{
		"endpointID": req.EndpointID,
		"sessionID":  req.SessionID,
	})

	if err := req.Validate(); err != nil {
		log.WithError(err).Warn("Rejected turn before invocation")
		r.observe(OutcomeRejected)
		return r.fail(history, TurnResult{}, err)
	}

	stream := r.orchestrator.Stream(ctx, req)
	var streamErr error
	for stream.Next() {
		if emit == nil {
			continue
		}
		if err := emit(stream.Chunk()); err != nil {
			streamErr = err
			break
		}
	}
	if streamErr == nil {
		streamErr = stream.Err()
	}

	if streamErr == nil {
		r.observe(OutcomeStreamed)
		text := stream.Text()
		history.AddMessage(RoleAssistant, text)
		return TurnResult{Text: text, Streamed: true}
	}

	log.WithError(streamErr).Warn("Streaming failed, using non-streaming mode")
	if r.observer != nil {
		r.observer.ObserveFallback()
	}

	result := TurnResult{FellBack: true, StreamErr: streamErr}
	if errors.Is(streamErr, context.Canceled) && ctx.Err() != nil {
		r.observe(OutcomeFailed)
		return r.fail(history, result, ctx.Err())
	}

	text, err := r.orchestrator.Complete(ctx, req, stream.Result())
	if err != nil {
		log.WithError(err).Error("One-shot fallback failed")
		r.observe(OutcomeFailed)
		return r.fail(history, result, err)
	}

	r.observe(OutcomeFallback)
	result.Text = text
	history.AddMessage(RoleAssistant, text)
	return result
}

// Complete executes one turn without streaming. History is updated exactly as
// in Run.
func (r *Runner) Complete(ctx context.Context, req Request, history History) TurnResult {
	history.AddMessage(RoleUser, req.Prompt)

	if err := req.Validate(); err != nil {
		r.observe(OutcomeRejected)
		return r.fail(history, TurnResult{}, err)
	}

	text, err := r.orchestrator.Complete(ctx, req, nil)
	if err != nil {
		r.logger.WithError(err).WithField("endpointID", req.EndpointID).Error("One-shot turn failed")
		r.observe(OutcomeFailed)
		return r.fail(history, TurnResult{}, err)
	}

	r.observe(OutcomeOneShot)
	history.AddMessage(RoleAssistant, text)
	return TurnResult{Text: text}
}

func (r *Runner) fail(history History, result TurnResult, err error) TurnResult {
	result.Err = err
	result.Text = ErrorPrefix + err.Error()
	history.AddMessage(RoleAssistant, result.Text)
	return result
}

func (r *Runner) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveInvocation(outcome)
	}
}
