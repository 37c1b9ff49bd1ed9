package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSSMClient records GetParameters calls and returns canned outputs.
type mockSSMClient struct {
	calls   [][]string
	outputs []*ssm.GetParametersOutput
	err     error
}

func (m *mockSSMClient) GetParameters(_ context.Context, params *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.calls = append(m.calls, params.Names)
	if m.err != nil {
		return nil, m.err
	}
	out := m.outputs[len(m.calls)-1]
	return out, nil
}

func param(name, value string) ssmtypes.Parameter {
	return ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestSSMProvider_GetParametersBatch_SingleBatch(t *testing.T) {
	client := &mockSSMClient{outputs: []*ssm.GetParametersOutput{
		{Parameters: []ssmtypes.Parameter{
			param("/dev/rallypoint/database/url", "postgres://x"),
		}},
	}}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"/dev/rallypoint/database/url"})

	require.NoError(t, err)
	assert.Equal(t, "postgres://x", result["/dev/rallypoint/database/url"])
}

func TestSSMProvider_GetParametersBatch_SplitsAtAPILimit(t *testing.T) {
	keys := make([]string, 13)
	var params1, params2 []ssmtypes.Parameter
	for i := range keys {
		keys[i] = string(rune('a' + i))
		p := param(keys[i], "v")
		if i < 10 {
			params1 = append(params1, p)
		} else {
			params2 = append(params2, p)
		}
	}

	client := &mockSSMClient{outputs: []*ssm.GetParametersOutput{
		{Parameters: params1},
		{Parameters: params2},
	}}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Len(t, client.calls[0], 10)
	assert.Len(t, client.calls[1], 3)
	assert.Len(t, result, 13)
}

func TestSSMProvider_GetParametersBatch_InvalidParametersError(t *testing.T) {
	client := &mockSSMClient{outputs: []*ssm.GetParametersOutput{
		{InvalidParameters: []string{"/dev/rallypoint/missing"}},
	}}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/rallypoint/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/rallypoint/missing")
}

func TestSSMProvider_GetParametersBatch_ClientError(t *testing.T) {
	boom := errors.New("access denied")
	client := &mockSSMClient{err: boom}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/a"})
	assert.ErrorIs(t, err, boom)
}

func TestSSMProvider_GetParametersBatch_EmptyKeys(t *testing.T) {
	provider := newSSMProviderWithClient("us-east-1", &mockSSMClient{})

	result, err := provider.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestEnvVarProvider_GetParametersBatch(t *testing.T) {
	t.Setenv("RALLY_TEST_SECRET", "s3cret")

	provider := NewEnvVarProvider()
	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"RALLY_TEST_SECRET", "RALLY_TEST_ABSENT"})

	require.NoError(t, err)
	assert.Equal(t, "s3cret", result["RALLY_TEST_SECRET"])
	_, ok := result["RALLY_TEST_ABSENT"]
	assert.False(t, ok, "absent keys are silently omitted")
}
