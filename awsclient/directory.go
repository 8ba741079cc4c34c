package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
)

const unknownValue = "Unknown"

// AgentSummary describes one selectable agent endpoint.
type AgentSummary struct {
	EndpointID string `json:"endpointId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// Label is the display form "name (status)".
func (a AgentSummary) Label() string {
	return fmt.Sprintf("%s (%s)", a.Name, a.Status)
}

type listRuntimesAPI interface {
	ListAgentRuntimes(ctx context.Context, params *bedrockagentcorecontrol.ListAgentRuntimesInput, optFns ...func(*bedrockagentcorecontrol.Options)) (*bedrockagentcorecontrol.ListAgentRuntimesOutput, error)
}

// Directory lists the agent runtimes of an account in one region.
type Directory struct {
	api listRuntimesAPI
}

// NewDirectory wraps an AgentCore control-plane client.
func NewDirectory(api listRuntimesAPI) *Directory {
	return &Directory{api: api}
}

// ListAgents returns every agent runtime, following pagination.
func (d *Directory) ListAgents(ctx context.Context) ([]AgentSummary, error) {
	var (
		agents    []AgentSummary
		nextToken *string
	)
	for {
		out, err := d.api.ListAgentRuntimes(ctx, &bedrockagentcorecontrol.ListAgentRuntimesInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list agent runtimes: %w", err)
		}
		for _, rt := range out.AgentRuntimes {
			agents = append(agents, AgentSummary{
				EndpointID: aws.ToString(rt.AgentRuntimeArn),
				Name:       orUnknown(aws.ToString(rt.AgentRuntimeName)),
				Status:     orUnknown(string(rt.Status)),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			return agents, nil
		}
		nextToken = out.NextToken
	}
}

func orUnknown(value string) string {
	if value == "" {
		return unknownValue
	}
	return value
}
