package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	resp *schema.Message
	err  error
	seen []*schema.Message
}

func (m *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.seen = in
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

type fakeReader struct {
	content []byte
	err     error
}

func (r fakeReader) Read(ctx context.Context, objectKey string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.content, nil
}

const validSchema = `{"type":"object","properties":{"title":{"type":"string"}}}`

func TestEinoExtractor_Extract(t *testing.T) {
	cm := &fakeChatModel{resp: schema.AssistantMessage(`{"title":"hello"}`, nil)}
	ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("document body")})
	require.NoError(t, err)

	payload, err := ex.Extract(context.Background(), "obj-1", validSchema)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"hello"}`, payload)

	require.Len(t, cm.seen, 2)
	assert.Contains(t, cm.seen[1].Content, "document body")
	assert.Contains(t, cm.seen[1].Content, validSchema)
}

func TestEinoExtractor_StripsMarkdownFences(t *testing.T) {
	cm := &fakeChatModel{resp: schema.AssistantMessage("```json\n{\"title\":\"fenced\"}\n```", nil)}
	ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("doc")})
	require.NoError(t, err)

	payload, err := ex.Extract(context.Background(), "obj-1", validSchema)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"fenced"}`, payload)
}

func TestEinoExtractor_InvalidSchema(t *testing.T) {
	cm := &fakeChatModel{resp: schema.AssistantMessage(`{}`, nil)}
	ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("doc")})
	require.NoError(t, err)

	var vErr *ValidationError
	_, err = ex.Extract(context.Background(), "obj-1", "")
	assert.ErrorAs(t, err, &vErr)
	_, err = ex.Extract(context.Background(), "obj-1", "{not json")
	assert.ErrorAs(t, err, &vErr)
}

func TestEinoExtractor_NonJSONOutput(t *testing.T) {
	cm := &fakeChatModel{resp: schema.AssistantMessage("Sure! Here is the extraction you asked for.", nil)}
	ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("doc")})
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "obj-1", validSchema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.False(t, IsRetryable(err), "garbage output is not worth retrying")
}

func TestEinoExtractor_ReaderFailureIsConnectionError(t *testing.T) {
	cm := &fakeChatModel{resp: schema.AssistantMessage(`{}`, nil)}
	ex, err := NewEinoExtractor(cm, fakeReader{err: errors.New("object missing")})
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "obj-1", validSchema)
	var cErr *ConnectionError
	require.ErrorAs(t, err, &cErr)
	assert.True(t, IsRetryable(err))
}

func TestEinoExtractor_ProviderErrorClassified(t *testing.T) {
	cases := []struct {
		name      string
		genErr    error
		retryable bool
	}{
		{"rate limit", errors.New("upstream returned 429 Too Many Requests"), true},
		{"auth", errors.New("401 unauthorized: invalid api key"), false},
		{"server", errors.New("503 service unavailable"), true},
		{"bad request", errors.New("400 bad request"), false},
		{"unknown defaults to retryable", errors.New("something odd happened"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cm := &fakeChatModel{err: tc.genErr}
			ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("doc")})
			require.NoError(t, err)

			_, err = ex.Extract(context.Background(), "obj-1", validSchema)
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestEinoExtractor_CancellationPassesThrough(t *testing.T) {
	cm := &fakeChatModel{err: context.Canceled}
	ex, err := NewEinoExtractor(cm, fakeReader{content: []byte("doc")})
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "obj-1", validSchema)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestClassifyProviderError_Timeout(t *testing.T) {
	err := classifyProviderError(context.DeadlineExceeded)
	var tErr *TimeoutError
	require.ErrorAs(t, err, &tErr)
	assert.True(t, IsRetryable(err))
}
