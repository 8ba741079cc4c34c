package awsclient

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
)

// invokeAPI is the subset of the AgentCore data-plane client used here.
type invokeAPI interface {
	InvokeAgentRuntime(ctx context.Context, params *bedrockagentcore.InvokeAgentRuntimeInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.InvokeAgentRuntimeOutput, error)
}

// AgentClient invokes agent runtimes hosted on Bedrock AgentCore.
type AgentClient struct {
	api invokeAPI
}

// NewAgentClient wraps an AgentCore client.
func NewAgentClient(api invokeAPI) *AgentClient {
	return &AgentClient{api: api}
}

// InvokeAgentRuntime sends payload to the runtime and returns its response body.
// The caller closes the body.
func (c *AgentClient) InvokeAgentRuntime(ctx context.Context, endpointID, sessionID string, payload []byte, qualifier string) (io.ReadCloser, error) {
	out, err := c.api.InvokeAgentRuntime(ctx, &bedrockagentcore.InvokeAgentRuntimeInput{
		AgentRuntimeArn:  aws.String(endpointID),
		RuntimeSessionId: aws.String(sessionID),
		Payload:          payload,
		Qualifier:        aws.String(qualifier),
	})
	if err != nil {
		return nil, err
	}
	if out.Response == nil {
		return nil, errors.New("agent runtime returned no response body")
	}
	return out.Response, nil
}
