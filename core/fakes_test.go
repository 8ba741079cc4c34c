package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"agentchat/artifact"
	"agentchat/awsclient"
	"agentchat/runtime"
)

const testEndpoint = "arn:aws:bedrock-agentcore:us-east-1:123456789012:runtime/reporter-abc"

// fakeAgent replays queued replies; the last one repeats.
type fakeAgent struct {
	mu      sync.Mutex
	replies []agentReply
	calls   int
}

type agentReply struct {
	body string
	err  error
}

func (f *fakeAgent) InvokeAgentRuntime(_ context.Context, _, _ string, _ []byte, _ string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return io.NopCloser(bytes.NewReader([]byte(reply.body))), nil
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore serves objects from a map keyed by "bucket/key".
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func (f *fakeStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey: the specified key does not exist")
	}
	return data, nil
}

func (f *fakeStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeBackend struct {
	agent  *fakeAgent
	store  *fakeStore
	agents []awsclient.AgentSummary
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) AgentClient(context.Context, string) (runtime.RemoteAgentClient, error) {
	return b.agent, nil
}

func (b *fakeBackend) Storage(context.Context, string) (artifact.ObjectGetter, error) {
	return b.store, nil
}

func (b *fakeBackend) ListAgents(context.Context, string) ([]awsclient.AgentSummary, error) {
	return b.agents, nil
}

func newFakeBackend(replies ...agentReply) *fakeBackend {
	return &fakeBackend{
		agent: &fakeAgent{replies: replies},
		store: &fakeStore{objects: map[string][]byte{
			"reports/q1/summary.csv": []byte("region,total\neast,42\n"),
		}},
		agents: []awsclient.AgentSummary{
			{EndpointID: testEndpoint, Name: "reporter", Status: "READY"},
		},
	}
}

func testConfig() *Config {
	return &Config{
		Port:              "0",
		Region:            "us-east-1",
		Backend:           BackendAgentCore,
		RequestTimeout:    5 * time.Second,
		SessionMaxAge:     time.Hour,
		CleanupInterval:   time.Hour,
		LogTruncateLength: 100,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, backend Backend, connect Connector) *Server {
	t.Helper()
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	server := NewServer(testConfig(), testLogger(), backend, connect, metrics)
	t.Cleanup(server.Close)
	return server
}
