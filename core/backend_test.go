package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentchat/awsclient"
)

func TestNewBackendLocal(t *testing.T) {
	config := testConfig()
	config.Backend = BackendLocal
	config.LocalProvider = "ollama"
	config.OllamaModel = "llama3"

	backend, connect, err := NewBackend(context.Background(), config, testLogger())
	require.NoError(t, err)
	require.NotNil(t, backend)
	assert.NotNil(t, connect)
	assert.Equal(t, BackendLocal, backend.Name())
	assert.Equal(t, "local:llama3", config.EndpointID)

	agents, err := backend.ListAgents(context.Background(), config.Region)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "local:llama3", agents[0].EndpointID)

	_, err = backend.Storage(context.Background(), config.Region)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestNewBackendAgentCoreWaitsForCredentials(t *testing.T) {
	backend, connect, err := NewBackend(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	assert.Nil(t, backend)
	require.NotNil(t, connect)

	_, _, err = connect(context.Background(), awsclient.Credentials{AccessKeyID: "AKIDEXAMPLE"}, "us-east-1")
	assert.ErrorIs(t, err, awsclient.ErrMissingCredentials)
}

func TestNewBackendAgentCoreWithCredentials(t *testing.T) {
	config := testConfig()
	config.AccessKeyID = "AKIDEXAMPLE"
	config.SecretAccessKey = "secret"

	backend, _, err := NewBackend(context.Background(), config, testLogger())
	require.NoError(t, err)
	require.NotNil(t, backend)
	assert.Equal(t, BackendAgentCore, backend.Name())
}

func TestNewBackendUnknown(t *testing.T) {
	config := testConfig()
	config.Backend = "mainframe"
	_, _, err := NewBackend(context.Background(), config, testLogger())
	assert.Error(t, err)
}
