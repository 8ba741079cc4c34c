package local

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

// loggingHandler logs model calls made by the local backend. Events it does
// not care about fall through to the embedded no-op handler.
type loggingHandler struct {
	callbacks.SimpleHandler
	logger        logrus.FieldLogger
	truncateLimit int
}

var _ callbacks.Handler = (*loggingHandler)(nil)

func newLoggingHandler(logger logrus.FieldLogger, truncateLimit int) *loggingHandler {
	return &loggingHandler{
		logger:        logger.WithField("component", "local_llm"),
		truncateLimit: truncateLimit,
	}
}

func (h *loggingHandler) HandleLLMGenerateContentStart(_ context.Context, ms []llms.MessageContent) {
	h.logger.WithField("messageCount", len(ms)).Debug("LLM generation started")
}

func (h *loggingHandler) HandleLLMGenerateContentEnd(_ context.Context, res *llms.ContentResponse) {
	if res == nil || len(res.Choices) == 0 {
		h.logger.Debug("LLM generation ended without choices")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"choices":    len(res.Choices),
		"stopReason": res.Choices[0].StopReason,
		"preview":    truncate(res.Choices[0].Content, h.truncateLimit),
	}).Debug("LLM generation completed")
}

func (h *loggingHandler) HandleLLMError(_ context.Context, err error) {
	h.logger.WithError(err).Error("LLM generation failed")
}
