package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionID = "0f8fad5b-d9cb-469f-a165-70867728950e1a2b3"

// fakeAgentClient replays queued replies and records every invocation.
type fakeAgentClient struct {
	mu       sync.Mutex
	replies  []fakeReply
	calls    int
	payloads []string
	quals    []string
}

type fakeReply struct {
	body string
	err  error
}

func (f *fakeAgentClient) InvokeAgentRuntime(_ context.Context, _, _ string, payload []byte, qualifier string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, string(payload))
	f.quals = append(f.quals, qualifier)

	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return io.NopCloser(strings.NewReader(reply.body)), nil
}

func (f *fakeAgentClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticClient(client RemoteAgentClient) ClientResolver {
	return func(context.Context, string) (RemoteAgentClient, error) {
		return client, nil
	}
}

type recordingHistory struct {
	roles    []string
	contents []string
}

func (h *recordingHistory) AddMessage(role, content string) {
	h.roles = append(h.roles, role)
	h.contents = append(h.contents, content)
}

func (h *recordingHistory) count(role string) int {
	n := 0
	for _, r := range h.roles {
		if r == role {
			n++
		}
	}
	return n
}

type countingObserver struct {
	outcomes  []string
	fallbacks int
}

func (o *countingObserver) ObserveInvocation(outcome string) { o.outcomes = append(o.outcomes, outcome) }
func (o *countingObserver) ObserveFallback()                 { o.fallbacks++ }

func newTestRequest() Request {
	return Request{EndpointID: "arn:aws:bedrock-agentcore:us-east-1:1:runtime/demo", SessionID: testSessionID, Prompt: "hi <there>", Region: "us-east-1"}
}

func newTestRunner(client RemoteAgentClient, observer Observer) *Runner {
	invoker := NewInvoker(staticClient(client), nil)
	return NewRunner(NewOrchestrator(invoker, 0, nil), observer, nil)
}

func collect(t *testing.T, stream *ChunkStream) []string {
	t.Helper()
	var chunks []string
	for stream.Next() {
		chunks = append(chunks, stream.Chunk())
	}
	require.NoError(t, stream.Err())
	return chunks
}

func TestInvokerSendsMessageBodyAndQualifier(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"ok"}}`}}}
	invoker := NewInvoker(staticClient(client), nil)

	result, err := invoker.Invoke(context.Background(), newTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", Normalize(result.Payload))
	require.Len(t, client.payloads, 1)
	assert.JSONEq(t, `{"message":"hi <there>"}`, client.payloads[0])
	assert.Equal(t, []string{"DEFAULT"}, client.quals)
}

func TestInvokerWrapsFailures(t *testing.T) {
	cause := errors.New("ThrottlingException: slow down")
	cases := map[string]*fakeAgentClient{
		"transport": {replies: []fakeReply{{err: cause}}},
		"not json":  {replies: []fakeReply{{body: "<html>bad gateway</html>"}}},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewInvoker(staticClient(client), nil).Invoke(context.Background(), newTestRequest())
			var invErr *InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, newTestRequest().EndpointID, invErr.EndpointID)
		})
	}

	_, err := NewInvoker(staticClient(cases["transport"]), nil).Invoke(context.Background(), newTestRequest())
	assert.ErrorIs(t, err, cause)
}

func TestInvokerResolverFailureIsInvocationError(t *testing.T) {
	missing := errors.New("credentials are required")
	invoker := NewInvoker(func(context.Context, string) (RemoteAgentClient, error) { return nil, missing }, nil)

	_, err := invoker.Invoke(context.Background(), newTestRequest())
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.ErrorIs(t, err, missing)
}

func TestRequestValidate(t *testing.T) {
	req := newTestRequest()
	require.NoError(t, req.Validate())

	req.EndpointID = ""
	assert.ErrorIs(t, req.Validate(), ErrEmptyEndpoint)

	req = newTestRequest()
	req.SessionID = strings.Repeat("x", MinSessionIDLength-1)
	assert.ErrorIs(t, req.Validate(), ErrSessionTooShort)
}

func TestSplitChunksReconstructsText(t *testing.T) {
	for _, text := range []string{"word", "two words", "   ", " lead", "trail ", "a  b", "multi\nline text"} {
		chunks := SplitChunks(text)
		rebuilt := ""
		for i, token := range chunks {
			rebuilt += token
			if i < len(chunks)-1 {
				rebuilt += " "
			}
		}
		assert.Equal(t, text, rebuilt, "text %q", text)
	}
	assert.Empty(t, SplitChunks(""))
}

func TestStreamEmitsWordsWithTrailingSpaces(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"hello big  world"}}`}}}
	orchestrator := NewOrchestrator(NewInvoker(staticClient(client), nil), 0, nil)

	stream := orchestrator.Stream(context.Background(), newTestRequest())
	assert.Equal(t, 0, client.callCount(), "invocation must be lazy")

	chunks := collect(t, stream)
	assert.Equal(t, []string{"hello ", "big ", " ", "world"}, chunks)
	assert.Equal(t, "hello big  world", strings.Join(chunks, ""))
	assert.Equal(t, 1, client.callCount())
	assert.False(t, stream.Next(), "stream is not restartable")
}

func TestStreamSingleTokenAndOnlySpaces(t *testing.T) {
	for _, text := range []string{"single", "   "} {
		client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"` + text + `"}}`}}}
		orchestrator := NewOrchestrator(NewInvoker(staticClient(client), nil), 0, nil)
		chunks := collect(t, orchestrator.Stream(context.Background(), newTestRequest()))
		assert.Equal(t, text, strings.Join(chunks, ""))
	}
}

func TestStreamEmptyTextHasNoChunks(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":""}}`}}}
	orchestrator := NewOrchestrator(NewInvoker(staticClient(client), nil), 0, nil)
	assert.Empty(t, collect(t, orchestrator.Stream(context.Background(), newTestRequest())))
}

func TestStreamPacingRespectsCancellation(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"a b c"}}`}}}
	orchestrator := NewOrchestrator(NewInvoker(staticClient(client), nil), time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream := orchestrator.Stream(ctx, newTestRequest())
	require.True(t, stream.Next())
	assert.Equal(t, "a ", stream.Chunk())

	cancel()
	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.NotNil(t, stream.Result())
}

func TestStreamFailurePropagatesInvocationError(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{err: errors.New("boom")}}}
	orchestrator := NewOrchestrator(NewInvoker(staticClient(client), nil), 0, nil)

	stream := orchestrator.Stream(context.Background(), newTestRequest())
	assert.False(t, stream.Next())
	var invErr *InvocationError
	assert.ErrorAs(t, stream.Err(), &invErr)
	assert.Nil(t, stream.Result())
}

func TestRunnerStreamsAndAppendsOneAssistantMessage(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"all good here"}}`}}}
	observer := &countingObserver{}
	history := &recordingHistory{}

	var chunks []string
	result := newTestRunner(client, observer).Run(context.Background(), newTestRequest(), history, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})

	require.NoError(t, result.Err)
	assert.True(t, result.Streamed)
	assert.False(t, result.FellBack)
	assert.Equal(t, "all good here", strings.Join(chunks, ""))
	assert.Equal(t, []string{RoleUser, RoleAssistant}, history.roles)
	assert.Equal(t, "all good here", history.contents[1])
	assert.Equal(t, []string{OutcomeStreamed}, observer.outcomes)
}

func TestRunnerFallsBackWhenStreamingInvocationFails(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{
		{err: errors.New("connection reset")},
		{body: `{"result":{"messages":["u",["recovered reply"]]}}`},
	}}
	observer := &countingObserver{}
	history := &recordingHistory{}

	result := newTestRunner(client, observer).Run(context.Background(), newTestRequest(), history, func(string) error { return nil })

	require.NoError(t, result.Err)
	assert.True(t, result.FellBack)
	assert.Error(t, result.StreamErr)
	assert.Equal(t, "recovered reply", result.Text)
	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, 1, history.count(RoleAssistant))
	assert.Equal(t, "recovered reply", history.contents[len(history.contents)-1])
	assert.Equal(t, 1, observer.fallbacks)
	assert.Equal(t, []string{OutcomeFallback}, observer.outcomes)
}

func TestRunnerFallbackReusesResultWhenEmitterFails(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"response":"one two three"}}`}}}
	history := &recordingHistory{}

	emitted := 0
	result := newTestRunner(client, nil).Run(context.Background(), newTestRequest(), history, func(string) error {
		emitted++
		if emitted == 2 {
			return errors.New("client went away")
		}
		return nil
	})

	require.NoError(t, result.Err)
	assert.True(t, result.FellBack)
	assert.Equal(t, "one two three", result.Text)
	assert.Equal(t, 1, client.callCount(), "fallback must reuse the streamed result")
	assert.Equal(t, 1, history.count(RoleAssistant))
}

func TestRunnerTerminalFailureAppendsErrorMessage(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{err: errors.New("AccessDeniedException")}}}
	history := &recordingHistory{}

	result := newTestRunner(client, nil).Run(context.Background(), newTestRequest(), history, nil)

	require.Error(t, result.Err)
	assert.True(t, result.FellBack)
	assert.True(t, strings.HasPrefix(result.Text, ErrorPrefix))
	assert.Contains(t, result.Text, "AccessDeniedException")
	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, 1, history.count(RoleAssistant))
	assert.Equal(t, result.Text, history.contents[len(history.contents)-1])
}

func TestRunnerRejectsMissingEndpointWithoutInvoking(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{}`}}}
	history := &recordingHistory{}
	req := newTestRequest()
	req.EndpointID = ""

	result := newTestRunner(client, nil).Run(context.Background(), req, history, nil)

	assert.ErrorIs(t, result.Err, ErrEmptyEndpoint)
	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, []string{RoleUser, RoleAssistant}, history.roles)
}

func TestRunnerCompleteSkipsStreaming(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{body: `{"result":{"messages":["hi",["one shot"]]}}`}}}
	observer := &countingObserver{}
	history := &recordingHistory{}

	result := newTestRunner(client, observer).Complete(context.Background(), newTestRequest(), history)

	require.NoError(t, result.Err)
	assert.Equal(t, "one shot", result.Text)
	assert.False(t, result.Streamed)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, []string{RoleUser, RoleAssistant}, history.roles)
	assert.Equal(t, []string{OutcomeOneShot}, observer.outcomes)
	assert.Zero(t, observer.fallbacks)
}

func TestRunnerCompleteRecordsFailure(t *testing.T) {
	client := &fakeAgentClient{replies: []fakeReply{{err: errors.New("AccessDeniedException")}}}
	history := &recordingHistory{}

	result := newTestRunner(client, nil).Complete(context.Background(), newTestRequest(), history)

	require.Error(t, result.Err)
	assert.True(t, strings.HasPrefix(result.Text, ErrorPrefix))
	assert.Equal(t, 1, history.count(RoleAssistant))
	assert.Contains(t, history.contents[1], "AccessDeniedException")
}
