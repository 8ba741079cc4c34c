package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"agentchat/artifact"
	"agentchat/awsclient"
	"agentchat/local"
	"agentchat/runtime"
)

// Backend supplies the region-bound collaborators used by a chat turn.
type Backend interface {
	Name() string
	AgentClient(ctx context.Context, region string) (runtime.RemoteAgentClient, error)
	Storage(ctx context.Context, region string) (artifact.ObjectGetter, error)
	ListAgents(ctx context.Context, region string) ([]awsclient.AgentSummary, error)
}

// forgetter is implemented by backends that keep per-session state.
type forgetter interface {
	Forget(sessionID string)
}

// Connector validates credentials and returns a backend that uses them,
// together with the account the credentials belong to.
type Connector func(ctx context.Context, creds awsclient.Credentials, region string) (Backend, string, error)

// ErrNoBackend is returned while no credentials have been configured.
var ErrNoBackend = errors.New("no credentials configured; post them to /credentials or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")

// agentCoreBackend talks to the managed agent runtime.
type agentCoreBackend struct {
	provider *awsclient.Provider
}

func (b *agentCoreBackend) Name() string { return BackendAgentCore }

func (b *agentCoreBackend) AgentClient(ctx context.Context, region string) (runtime.RemoteAgentClient, error) {
	return b.provider.AgentClient(ctx, region)
}

func (b *agentCoreBackend) Storage(ctx context.Context, region string) (artifact.ObjectGetter, error) {
	return b.provider.Storage(ctx, region)
}

func (b *agentCoreBackend) ListAgents(ctx context.Context, region string) ([]awsclient.AgentSummary, error) {
	directory, err := b.provider.Directory(ctx, region)
	if err != nil {
		return nil, err
	}
	return directory.ListAgents(ctx)
}

// localBackend answers with a local model. Object storage is only available
// once credentials are known.
type localBackend struct {
	client   *local.Client
	provider *awsclient.Provider
}

func (b *localBackend) Name() string { return BackendLocal }

func (b *localBackend) AgentClient(context.Context, string) (runtime.RemoteAgentClient, error) {
	return b.client, nil
}

func (b *localBackend) Storage(ctx context.Context, region string) (artifact.ObjectGetter, error) {
	if b.provider == nil {
		return nil, ErrNoBackend
	}
	return b.provider.Storage(ctx, region)
}

// Forget drops the model-side history of a session.
func (b *localBackend) Forget(sessionID string) {
	b.client.Forget(sessionID)
}

func (b *localBackend) ListAgents(context.Context, string) ([]awsclient.AgentSummary, error) {
	return []awsclient.AgentSummary{{
		EndpointID: b.client.EndpointID(),
		Name:       b.client.EndpointID(),
		Status:     "READY",
	}}, nil
}

// NewBackend builds the backend selected by config. In agentcore mode without
// credentials the returned backend is nil; the connector installs one later.
func NewBackend(ctx context.Context, config *Config, logger *logrus.Logger) (Backend, Connector, error) {
	switch config.Backend {
	case BackendLocal:
		client, err := local.New(ctx, local.Options{
			Provider:       config.LocalProvider,
			OllamaEndpoint: config.OllamaEndpoint,
			OllamaModel:    config.OllamaModel,
			GeminiAPIKey:   config.GeminiAPIKey,
			GeminiModel:    config.GeminiModel,
			TruncateLength: config.LogTruncateLength,
		}, logger.WithField("component", "local"))
		if err != nil {
			return nil, nil, err
		}

		if config.EndpointID == "" {
			config.EndpointID = client.EndpointID()
		}

		backend := &localBackend{client: client}
		if config.HasCredentials() {
			provider, err := awsclient.NewProvider(configCredentials(config), logger.WithField("component", "aws"))
			if err != nil {
				return nil, nil, err
			}
			backend.provider = provider
		}

		connect := func(ctx context.Context, creds awsclient.Credentials, region string) (Backend, string, error) {
			provider, account, err := connectProvider(ctx, creds, region, logger)
			if err != nil {
				return nil, "", err
			}
			return &localBackend{client: client, provider: provider}, account, nil
		}
		return backend, connect, nil

	case BackendAgentCore:
		connect := func(ctx context.Context, creds awsclient.Credentials, region string) (Backend, string, error) {
			provider, account, err := connectProvider(ctx, creds, region, logger)
			if err != nil {
				return nil, "", err
			}
			return &agentCoreBackend{provider: provider}, account, nil
		}
		if !config.HasCredentials() {
			logger.Warn("No credentials configured, waiting for them to be provided")
			return nil, connect, nil
		}
		provider, err := awsclient.NewProvider(configCredentials(config), logger.WithField("component", "aws"))
		if err != nil {
			return nil, nil, err
		}
		return &agentCoreBackend{provider: provider}, connect, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}

func connectProvider(ctx context.Context, creds awsclient.Credentials, region string, logger *logrus.Logger) (*awsclient.Provider, string, error) {
	provider, err := awsclient.NewProvider(creds, logger.WithField("component", "aws"))
	if err != nil {
		return nil, "", err
	}
	account, err := provider.Validate(ctx, region)
	if err != nil {
		return nil, "", err
	}
	return provider, account, nil
}

func configCredentials(config *Config) awsclient.Credentials {
	return awsclient.Credentials{
		AccessKeyID:     config.AccessKeyID,
		SecretAccessKey: config.SecretAccessKey,
		SessionToken:    config.SessionToken,
	}
}
