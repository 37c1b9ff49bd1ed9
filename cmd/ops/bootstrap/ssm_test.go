package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// mockSSMClient implements SSMClient for testing. It records calls and
// returns configurable responses/errors.
type mockSSMClient struct {
	getParameterFn func(ctx context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error)
	putParameterFn func(ctx context.Context, input *ssm.PutParameterInput) (*ssm.PutParameterOutput, error)

	getCalls []*ssm.GetParameterInput
	putCalls []*ssm.PutParameterInput
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	m.getCalls = append(m.getCalls, params)
	if m.getParameterFn != nil {
		return m.getParameterFn(ctx, params)
	}
	return &ssm.GetParameterOutput{}, nil
}

func (m *mockSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	m.putCalls = append(m.putCalls, params)
	if m.putParameterFn != nil {
		return m.putParameterFn(ctx, params)
	}
	return &ssm.PutParameterOutput{Version: 1}, nil
}

// newTestSSMManager creates an SSMManager with a mock client for testing.
func newTestSSMManager(mock *mockSSMClient, env string) *SSMManager {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return NewSSMManagerWithClient(mock, env, logger)
}

func TestSSMPath(t *testing.T) {
	tests := []struct {
		env            string
		categoryAndKey string
		expected       string
	}{
		{"dev", "database/url", "/dev/rallypoint/database/url"},
		{"prod", "queue/prefix", "/prod/rallypoint/queue/prefix"},
		{"staging", "notify/channel_prefix", "/staging/rallypoint/notify/channel_prefix"},
		{"local", "database/url", "/local/rallypoint/database/url"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			m := newTestSSMManager(&mockSSMClient{}, tt.env)
			if got := m.SSMPath(tt.categoryAndKey); got != tt.expected {
				t.Errorf("SSMPath(%q) = %q, want %q", tt.categoryAndKey, got, tt.expected)
			}
		})
	}
}

func TestParameterExists_NotFound(t *testing.T) {
	mock := &mockSSMClient{
		getParameterFn: func(_ context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
		},
	}
	m := newTestSSMManager(mock, "dev")

	exists, err := m.ParameterExists(context.Background(), "/dev/rallypoint/database/url")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("ParameterExists = true, want false for ParameterNotFound")
	}
}

func TestParameterExists_Found(t *testing.T) {
	mock := &mockSSMClient{
		getParameterFn: func(_ context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{
					Name:  input.Name,
					Value: aws.String("something"),
				},
			}, nil
		},
	}
	m := newTestSSMManager(mock, "dev")

	exists, err := m.ParameterExists(context.Background(), "/dev/rallypoint/database/url")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("ParameterExists = false, want true")
	}

	// Existence checks must not request decryption.
	if len(mock.getCalls) != 1 {
		t.Fatalf("GetParameter called %d times, want 1", len(mock.getCalls))
	}
	if aws.ToBool(mock.getCalls[0].WithDecryption) {
		t.Error("existence check requested decryption")
	}
}

func TestParameterExists_UnexpectedError(t *testing.T) {
	mock := &mockSSMClient{
		getParameterFn: func(_ context.Context, _ *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return nil, fmt.Errorf("access denied")
		},
	}
	m := newTestSSMManager(mock, "dev")

	_, err := m.ParameterExists(context.Background(), "/dev/rallypoint/database/url")
	if err == nil {
		t.Fatal("expected error for non-NotFound failure")
	}
}

func TestPutSecret_WritesSecureString(t *testing.T) {
	mock := &mockSSMClient{}
	m := newTestSSMManager(mock, "dev")

	err := m.PutSecret(context.Background(), "/dev/rallypoint/database/url", "postgres://u:p@h/db", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.putCalls) != 1 {
		t.Fatalf("PutParameter called %d times, want 1", len(mock.putCalls))
	}
	call := mock.putCalls[0]
	if call.Type != ssmtypes.ParameterTypeSecureString {
		t.Errorf("parameter type = %q, want SecureString", call.Type)
	}
	if aws.ToBool(call.Overwrite) {
		t.Error("overwrite = true, want false")
	}
	if aws.ToString(call.Value) != "postgres://u:p@h/db" {
		t.Errorf("value = %q, want the provided secret", aws.ToString(call.Value))
	}
}

func TestPutSecret_AlreadyExists(t *testing.T) {
	mock := &mockSSMClient{
		putParameterFn: func(_ context.Context, _ *ssm.PutParameterInput) (*ssm.PutParameterOutput, error) {
			return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("exists")}
		},
	}
	m := newTestSSMManager(mock, "dev")

	err := m.PutSecret(context.Background(), "/dev/rallypoint/database/url", "value", false)
	if err == nil {
		t.Fatal("expected error when parameter already exists without overwrite")
	}
}

func TestPutString_AlwaysOverwrites(t *testing.T) {
	mock := &mockSSMClient{}
	m := newTestSSMManager(mock, "dev")

	err := m.PutString(context.Background(), "/dev/rallypoint/queue/prefix", "rallypoint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := mock.putCalls[0]
	if call.Type != ssmtypes.ParameterTypeString {
		t.Errorf("parameter type = %q, want String", call.Type)
	}
	if !aws.ToBool(call.Overwrite) {
		t.Error("overwrite = false, want true for String parameters")
	}
}

func TestPutParameter_RejectsEmptyInputs(t *testing.T) {
	m := newTestSSMManager(&mockSSMClient{}, "dev")

	if err := m.PutString(context.Background(), "", "value"); err == nil {
		t.Error("expected error for empty path")
	}
	if err := m.PutString(context.Background(), "/dev/rallypoint/queue/prefix", ""); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestGetParameterValue(t *testing.T) {
	mock := &mockSSMClient{
		getParameterFn: func(_ context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{
					Name:  input.Name,
					Value: aws.String("postgres://u:p@h/db"),
				},
			}, nil
		},
	}
	m := newTestSSMManager(mock, "dev")

	value, err := m.GetParameterValue(context.Background(), "/dev/rallypoint/database/url", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "postgres://u:p@h/db" {
		t.Errorf("value = %q, want the stored value", value)
	}
	if !aws.ToBool(mock.getCalls[0].WithDecryption) {
		t.Error("decrypt requested but WithDecryption = false")
	}
}

func TestGetParameterValue_NoValue(t *testing.T) {
	mock := &mockSSMClient{
		getParameterFn: func(_ context.Context, _ *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
			return &ssm.GetParameterOutput{}, nil
		},
	}
	m := newTestSSMManager(mock, "dev")

	_, err := m.GetParameterValue(context.Background(), "/dev/rallypoint/database/url", false)
	if err == nil {
		t.Fatal("expected error for parameter with no value")
	}
}
