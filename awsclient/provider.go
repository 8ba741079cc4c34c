/*
Package awsclient supplies the cloud collaborators of the chat pipeline: the
agent runtime client, the object store, the agent directory and credential
validation. All of them are built from one set of static credentials and are
bound to a region.
*/
package awsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"

	"agentchat/artifact"
	"agentchat/runtime"
)

// ErrMissingCredentials is returned when the access key or secret is empty.
var ErrMissingCredentials = errors.New("AWS credentials are required: set an access key ID and secret access key")

// Credentials is a static key pair with an optional session token.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Trimmed returns the credentials with surrounding whitespace removed.
func (c Credentials) Trimmed() Credentials {
	return Credentials{
		AccessKeyID:     strings.TrimSpace(c.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(c.SecretAccessKey),
		SessionToken:    strings.TrimSpace(c.SessionToken),
	}
}

// Complete reports whether both the access key and the secret are present.
func (c Credentials) Complete() bool {
	t := c.Trimmed()
	return t.AccessKeyID != "" && t.SecretAccessKey != ""
}

// Provider builds region-bound clients from one set of credentials. Configs
// are built once per region and reused.
type Provider struct {
	creds  Credentials
	logger logrus.FieldLogger

	mu      sync.Mutex
	configs map[string]aws.Config
}

// NewProvider creates a provider. It fails with ErrMissingCredentials when the
// key pair is incomplete.
func NewProvider(creds Credentials, logger logrus.FieldLogger) (*Provider, error) {
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Provider{
		creds:   creds.Trimmed(),
		logger:  logger,
		configs: make(map[string]aws.Config),
	}, nil
}

// Config returns the SDK configuration for region.
func (p *Provider) Config(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		return aws.Config{}, errors.New("region is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg, ok := p.configs[region]; ok {
		return cfg, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.creds.AccessKeyID,
			p.creds.SecretAccessKey,
			p.creds.SessionToken,
		)),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config for %s: %w", region, err)
	}
	p.configs[region] = cfg
	p.logger.WithField("region", region).Debug("AWS config initialized")
	return cfg, nil
}

// AgentClient returns the agent runtime client for region.
func (p *Provider) AgentClient(ctx context.Context, region string) (runtime.RemoteAgentClient, error) {
	cfg, err := p.Config(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewAgentClient(bedrockagentcore.NewFromConfig(cfg)), nil
}

// Storage returns the object store client for region.
func (p *Provider) Storage(ctx context.Context, region string) (artifact.ObjectGetter, error) {
	cfg, err := p.Config(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewStorage(s3.NewFromConfig(cfg)), nil
}

// Directory returns the agent directory for region.
func (p *Provider) Directory(ctx context.Context, region string) (*Directory, error) {
	cfg, err := p.Config(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewDirectory(bedrockagentcorecontrol.NewFromConfig(cfg)), nil
}

// callerIdentityAPI is the subset of the STS client used by Validate.
type callerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Validate checks the credentials against STS and returns the account ID.
func (p *Provider) Validate(ctx context.Context, region string) (string, error) {
	cfg, err := p.Config(ctx, region)
	if err != nil {
		return "", err
	}
	return validateWith(ctx, sts.NewFromConfig(cfg))
}

func validateWith(ctx context.Context, api callerIdentityAPI) (string, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("invalid credentials: %w", err)
	}
	account := aws.ToString(out.Account)
	if account == "" {
		account = "N/A"
	}
	return account, nil
}
