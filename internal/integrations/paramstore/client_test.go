package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	values    map[string]string
	getErr    error
	calls     int
	lastInput *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name}}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v, Type: types.ParameterTypeSecureString}}, nil
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := New(api, "/shop-assistant/")
	require.NoError(t, err)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "/p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")

	_, err = New(&fakeAPI{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"p": `{"k":"v"}`}}
	v, err := newTestClient(t, api).GetParameter(context.Background(), " p ")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
	require.Equal(t, "p", *api.lastInput.Name)
	require.True(t, *api.lastInput.WithDecryption)
}

func TestGetParameter_Errors(t *testing.T) {
	c := newTestClient(t, &fakeAPI{values: map[string]string{}})
	_, err := c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")

	_, err = c.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	_, err = newTestClient(t, &fakeAPI{getErr: errors.New("boom")}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestToken_ReadsPrefixedJSONAndCaches(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/shop-assistant/telegram-bot-token": `{"token":"123:abc"}`}}
	c := newTestClient(t, api)

	tok, err := c.Token(context.Background(), "telegram-bot-token")
	require.NoError(t, err)
	require.Equal(t, "123:abc", tok)

	_, _ = c.Token(context.Background(), "/telegram-bot-token")
	require.Equal(t, 1, api.calls, "SSM must only be called once per key")
}

func TestToken_Errors(t *testing.T) {
	api := &fakeAPI{values: map[string]string{
		"/shop-assistant/broken": `{"broken`,
		"/shop-assistant/empty":  `{"other":"value"}`,
	}}
	c := newTestClient(t, api)

	_, err := c.Token(context.Background(), "broken")
	require.ErrorContains(t, err, "unmarshal")

	_, err = c.Token(context.Background(), "empty")
	require.ErrorContains(t, err, "is empty")

	_, err = c.Token(context.Background(), "")
	require.ErrorContains(t, err, "key is required")

	// Failures are retried on the next call.
	calls := api.calls
	_, _ = c.Token(context.Background(), "broken")
	require.Equal(t, calls+1, api.calls)
}
