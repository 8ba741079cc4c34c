package local

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Options selects and configures the model behind the local backend.
type Options struct {
	Provider       string // "ollama" or "gemini"
	OllamaEndpoint string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string
	TruncateLength int
}

// New initializes the configured model and wraps it in a Client.
func New(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Client, error) {
	handler := newLoggingHandler(logger, opts.TruncateLength)

	var (
		model llms.Model
		name  string
	)

	switch opts.Provider {
	case "gemini":
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key is required when using gemini provider. Set GEMINI_API_KEY environment variable")
		}
		name = opts.GeminiModel
		if name == "" {
			name = "gemini-2.0-flash"
		}
		logger.WithField("model", name).Info("Initializing Gemini LLM")

		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(opts.GeminiAPIKey),
			googleai.WithDefaultModel(name),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}
		llm.CallbacksHandler = handler
		model = llm

	case "ollama", "":
		endpoint := opts.OllamaEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		name = opts.OllamaModel
		if name == "" {
			name = "qwen3"
		}
		logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"model":    name,
		}).Info("Initializing Ollama LLM")

		llm, err := ollama.New(
			ollama.WithServerURL(endpoint),
			ollama.WithModel(name),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		llm.CallbacksHandler = handler
		model = llm

	default:
		return nil, fmt.Errorf("unknown local provider %q", opts.Provider)
	}

	return NewClient(model, name, logger, opts.TruncateLength), nil
}
