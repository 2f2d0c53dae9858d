package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/process"
)

func sse(events ...string) string {
	var sb strings.Builder
	for _, e := range events {
		typ := e[strings.Index(e, `"type":"`)+8:]
		typ = typ[:strings.Index(typ, `"`)]
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", typ, e)
	}
	return sb.String()
}

func TestAnthropicEngine_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicEngine(AnthropicOptions{Model: "m", MaxTokens: 10}, newRenderer(t))
	require.Error(t, err)
	assert.Equal(t, perrors.CodeSetup, perrors.CodeOf(err))
}

func TestAnthropicEngine_Streams(t *testing.T) {
	body := sse(
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	e, err := NewAnthropicEngine(AnthropicOptions{APIKey: "k", Model: "m", MaxTokens: 10, BaseURL: srv.URL}, newRenderer(t))
	require.NoError(t, err)

	turn, err := e.Start(context.Background(), Request{Root: t.TempDir(), Prompt: "hi", Mode: "code"})
	require.NoError(t, err)
	defer turn.Close()

	assert.Equal(t, "Hello", drain(t, turn))
	d, err := turn.Result()
	require.NoError(t, err)
	assert.Nil(t, d)

	usage := turn.(UsageReporter).Usage()
	assert.Equal(t, int64(12), usage.InputTokens)
	assert.Equal(t, int64(5), usage.OutputTokens)
}

func TestAnthropicEngine_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	e, err := NewAnthropicEngine(AnthropicOptions{APIKey: "k", Model: "m", MaxTokens: 10, BaseURL: srv.URL}, newRenderer(t))
	require.NoError(t, err)
	turn, err := e.Start(context.Background(), Request{Root: t.TempDir(), Prompt: "hi", Mode: "code"})
	require.NoError(t, err)
	defer turn.Close()

	_, err = turn.Next()
	var se *process.StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, -1, se.ExitCode)
	assert.Contains(t, se.Diagnostic, "500")

	_, again := turn.Next()
	assert.Equal(t, err, again)
}

func TestAnthropicEngine_UsageReportsAccumulateError(t *testing.T) {
	// a delta with no preceding content_block_start
	body := sse(
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`{"type":"message_stop"}`,
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	e, err := NewAnthropicEngine(AnthropicOptions{APIKey: "k", Model: "m", MaxTokens: 10, BaseURL: srv.URL}, newRenderer(t))
	require.NoError(t, err)
	turn, err := e.Start(context.Background(), Request{Root: t.TempDir(), Prompt: "hi", Mode: "code"})
	require.NoError(t, err)
	defer turn.Close()

	assert.Equal(t, "Hi", drain(t, turn), "text still streams")
	usage := turn.(UsageReporter).Usage()
	require.Error(t, usage.Err)
	assert.Contains(t, usage.Err.Error(), "no content block")
	assert.Equal(t, int64(3), usage.InputTokens)
}
