package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params map[string]string
	err    error
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("parameter not found")}
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

func TestSSMResolver_GetSecret(t *testing.T) {
	resolver := NewSSMResolver(&fakeSSMClient{
		params: map[string]string{ParamSessionSecret: "super-secret-value"},
	})

	val, err := resolver.GetSecret(context.Background(), ParamSessionSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "super-secret-value" {
		t.Fatalf("expected %q, got %q", "super-secret-value", val)
	}

	if _, err := resolver.GetSecret(context.Background(), "/mindmap-qoder/nonexistent"); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet for missing parameter, got %v", err)
	}
}

func TestEnvResolver_GetSecret(t *testing.T) {
	t.Setenv("ORIGIN_VERIFY_SECRET", "env-secret-value")
	resolver := NewEnvResolver()

	val, err := resolver.GetSecret(context.Background(), ParamOriginVerifySecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "env-secret-value" {
		t.Fatalf("expected %q, got %q", "env-secret-value", val)
	}

	t.Setenv("NONEXISTENT_SECRET", "")
	if _, err := resolver.GetSecret(context.Background(), "/mindmap-qoder/nonexistent-secret"); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet for missing env var, got %v", err)
	}
}

func TestChain_FallsBack(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	chain := Chain{NewSSMResolver(&fakeSSMClient{}), NewEnvResolver()}

	val, err := chain.GetSecret(context.Background(), ParamRedisURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "redis://localhost:6379/0" {
		t.Fatalf("expected env fallback, got %q", val)
	}

	t.Setenv("SESSION_SECRET", "")
	if _, err := chain.GetSecret(context.Background(), ParamSessionSecret); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet when no resolver has the secret, got %v", err)
	}
	if _, err := (Chain{}).GetSecret(context.Background(), ParamSessionSecret); !errors.Is(err, ErrNotSet) {
		t.Fatalf("expected ErrNotSet from empty chain, got %v", err)
	}
}

func TestChain_ReportsBackendFailure(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	denied := errors.New("AccessDeniedException")
	chain := Chain{NewSSMResolver(&fakeSSMClient{err: denied}), NewEnvResolver()}

	_, err := chain.GetSecret(context.Background(), ParamSessionSecret)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotSet) {
		t.Fatalf("a failing backend must not read as an unset secret: %v", err)
	}
	if !errors.Is(err, denied) {
		t.Fatalf("expected the backend error to be kept, got %v", err)
	}
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{ParamSessionSecret, "SESSION_SECRET"},
		{ParamOriginVerifySecret, "ORIGIN_VERIFY_SECRET"},
		{ParamRedisURL, "REDIS_URL"},
	}

	for _, tc := range tests {
		got := paramNameToEnvVar(tc.input)
		if got != tc.expected {
			t.Errorf("paramNameToEnvVar(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
