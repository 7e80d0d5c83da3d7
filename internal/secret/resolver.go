// Package secret provides an abstraction for retrieving secrets from
// different backends (SSM Parameter Store, environment variables, etc.).
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/hashicorp/go-multierror"
)

// ErrNotSet is returned when a backend has no value for a secret, as
// opposed to failing to answer.
var ErrNotSet = errors.New("secret not set")

// Parameter names read by the proxy at start-up.
const (
	ParamSessionSecret      = "/mindmap-qoder/session-secret"
	ParamOriginVerifySecret = "/mindmap-qoder/origin-verify-secret"
	ParamRedisURL           = "/mindmap-qoder/redis-url"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	var notFound *ssmtypes.ParameterNotFound
	if errors.As(err, &notFound) {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotSet)
	}
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotSet)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver fetches secrets from environment variables.
// "/mindmap-qoder/session-secret" is read from SESSION_SECRET.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// GetSecret reads from the environment variable derived from the parameter name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %s (for %s): %w", envName, name, ErrNotSet)
	}
	return val, nil
}

// Chain tries each resolver in order and returns the first value found.
// When every resolver fails, backend failures are reported and ErrNotSet
// only if no backend failed.
type Chain []Resolver

func (c Chain) GetSecret(ctx context.Context, name string) (string, error) {
	var failed *multierror.Error
	for _, r := range c {
		val, err := r.GetSecret(ctx, name)
		switch {
		case err == nil:
			return val, nil
		case !errors.Is(err, ErrNotSet):
			failed = multierror.Append(failed, err)
		}
	}
	if failed != nil {
		return "", failed
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotSet)
}

// paramNameToEnvVar converts an SSM parameter name to an environment variable name.
// "/mindmap-qoder/session-secret" -> "SESSION_SECRET"
func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
