/*
Package local provides an agent backend that runs on the developer's machine
through langchaingo, for use without cloud credentials.

The backend answers the same invocation contract as a hosted agent runtime:
it accepts {"message": ...} and replies {"result": {"response": ...}}, so the
rest of the pipeline cannot tell the two apart.
*/
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// EndpointPrefix marks endpoint identifiers served by the local backend.
const EndpointPrefix = "local:"

// defaultHistoryLimit is how many earlier messages of a session go into the prompt.
const defaultHistoryLimit = 10

var conversationPrompt = prompts.PromptTemplate{
	Template: `You are a helpful assistant in a chat application.
When you reference a file in object storage, write it as a markdown link such as [report.csv](s3://bucket/path/report.csv).
{{if .history}}
Previous conversation:
{{.history}}
{{end}}
User: {{.message}}
Assistant:`,
	TemplateFormat: prompts.TemplateFormatGoTemplate,
	InputVariables: []string{"history", "message"},
}

type turn struct {
	role    string
	content string
}

// Client answers invocations with a langchaingo model and keeps a short
// per-session history so that follow-up prompts have context.
type Client struct {
	model         llms.Model
	endpointID    string
	historyLimit  int
	truncateLimit int
	logger        logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string][]turn
}

// NewClient wraps model. name is used to build the endpoint identifier.
func NewClient(model llms.Model, name string, logger logrus.FieldLogger, truncateLimit int) *Client {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Client{
		model:         model,
		endpointID:    EndpointPrefix + name,
		historyLimit:  defaultHistoryLimit,
		truncateLimit: truncateLimit,
		logger:        logger,
		sessions:      make(map[string][]turn),
	}
}

// EndpointID is the identifier to select this backend.
func (c *Client) EndpointID() string {
	return c.endpointID
}

type invocation struct {
	Message string `json:"message"`
}

type reply struct {
	Result struct {
		Response string `json:"response"`
	} `json:"result"`
}

// InvokeAgentRuntime generates a reply for the message in payload.
func (c *Client) InvokeAgentRuntime(ctx context.Context, endpointID, sessionID string, payload []byte, qualifier string) (io.ReadCloser, error) {
	if endpointID != c.endpointID {
		return nil, fmt.Errorf("unknown local endpoint %q", endpointID)
	}

	var in invocation
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode invocation payload: %w", err)
	}

	prompt, err := conversationPrompt.Format(map[string]any{
		"history": c.history(sessionID),
		"message": in.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}

	log := c.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"qualifier": qualifier,
	})
	log.WithField("promptLength", len(prompt)).Debug("Calling local model")

	raw, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("local model: %w", err)
	}
	answer := cleanReply(raw)
	if len(answer) != len(raw) {
		log.WithFields(logrus.Fields{
			"originalLength":  len(raw),
			"cleanedLength":   len(answer),
			"originalPreview": truncate(raw, c.truncateLimit),
		}).Debug("Cleaned local model reply")
	}

	c.remember(sessionID, in.Message, answer)

	var out reply
	out.Result.Response = answer
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Forget drops the history kept for a session.
func (c *Client) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func (c *Client) history(sessionID string) string {
	c.mu.Lock()
	turns := c.sessions[sessionID]
	c.mu.Unlock()

	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		switch t.role {
		case "user":
			fmt.Fprintf(&b, "User: %s\n", t.content)
		case "assistant":
			fmt.Fprintf(&b, "Assistant: %s\n", t.content)
		}
	}
	return b.String()
}

func (c *Client) remember(sessionID, message, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := append(c.sessions[sessionID], turn{"user", message}, turn{"assistant", answer})
	if len(turns) > c.historyLimit {
		turns = turns[len(turns)-c.historyLimit:]
	}
	c.sessions[sessionID] = turns
}
