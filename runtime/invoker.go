package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Qualifier is the endpoint version qualifier sent with every invocation.
const Qualifier = "DEFAULT"

// MinSessionIDLength is the shortest session identifier the remote runtime accepts.
const MinSessionIDLength = 33

var (
	// ErrEmptyEndpoint is returned when a turn is attempted without a selected endpoint.
	ErrEmptyEndpoint = errors.New("please select an agent endpoint")

	// ErrSessionTooShort is returned when the session identifier is under MinSessionIDLength.
	ErrSessionTooShort = fmt.Errorf("session identifier must be at least %d characters", MinSessionIDLength)
)

// RemoteAgentClient performs one invocation of a remote agent endpoint and
// returns the raw response body. Implementations are bound to one region.
type RemoteAgentClient interface {
	InvokeAgentRuntime(ctx context.Context, endpointID, sessionID string, payload []byte, qualifier string) (io.ReadCloser, error)
}

// ClientResolver returns the RemoteAgentClient for a region. Credential
// problems surface here and are reported as invocation failures.
type ClientResolver func(ctx context.Context, region string) (RemoteAgentClient, error)

// Request is one user turn addressed to an endpoint.
type Request struct {
	EndpointID string
	SessionID  string
	Prompt     string
	Region     string
}

// Validate checks the request fields that must hold before any network call.
func (r Request) Validate() error {
	if r.EndpointID == "" {
		return ErrEmptyEndpoint
	}
	if len(r.SessionID) < MinSessionIDLength {
		return ErrSessionTooShort
	}
	return nil
}

// Result is the decoded payload of one successful invocation.
type Result struct {
	Payload any
	Raw     []byte
}

// InvocationError wraps any failure of the remote call: transport, auth,
// throttling, an unreadable body or a body that is not JSON.
type InvocationError struct {
	EndpointID string
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.EndpointID, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// AgentInvoker is the part of Invoker the orchestrator depends on.
type AgentInvoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Invoker sends prompts to a remote agent endpoint.
type Invoker struct {
	clients ClientResolver
	logger  logrus.FieldLogger
}

// NewInvoker creates an invoker backed by the given client resolver.
func NewInvoker(clients ClientResolver, logger logrus.FieldLogger) *Invoker {
	return &Invoker{
		clients: clients,
		logger:  loggerOrDiscard(logger),
	}
}

type invocationBody struct {
	Message string `json:"message"`
}

// Invoke performs one invocation and decodes the JSON reply.
// Validation failures are returned as-is; every other failure is an *InvocationError.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := i.logger.WithFields(logrus.Fields{
		"endpointID": req.EndpointID,
		"sessionID":  req.SessionID,
		"region":     req.Region,
	})

	client, err := i.clients(ctx, req.Region)
	if err != nil {
		log.WithError(err).Error("Failed to resolve agent client")
		return nil, &InvocationError{EndpointID: req.EndpointID, Err: err}
	}

	payload, err := json.Marshal(invocationBody{Message: req.Prompt})
	if err != nil {
		return nil, &InvocationError{EndpointID: req.EndpointID, Err: err}
	}

	startTime := time.Now()
	body, err := client.InvokeAgentRuntime(ctx, req.EndpointID, req.SessionID, payload, Qualifier)
	if err != nil {
		log.WithError(err).Warn("Agent invocation failed")
		return nil, &InvocationError{EndpointID: req.EndpointID, Err: err}
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &InvocationError{EndpointID: req.EndpointID, Err: fmt.Errorf("read response: %w", err)}
	}

	decoded, err := DecodePayload(raw)
	if err != nil {
		return nil, &InvocationError{EndpointID: req.EndpointID, Err: fmt.Errorf("decode response: %w", err)}
	}

	log.WithFields(logrus.Fields{
		"duration":     time.Since(startTime),
		"responseSize": len(raw),
	}).Debug("Agent invocation completed")

	return &Result{Payload: decoded, Raw: raw}, nil
}

func loggerOrDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
