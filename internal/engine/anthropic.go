package engine

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
	"github.com/clive/pair/internal/prompts"
)

// AnthropicOptions configures the Anthropic engine
type AnthropicOptions struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// AnthropicEngine streams replies from the Anthropic Messages API. It
// answers in text only, so its turns never carry a diff.
type AnthropicEngine struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	renderer  *prompts.Renderer
}

// NewAnthropicEngine creates the engine. The API key falls back to
// ANTHROPIC_API_KEY; a missing key is a setup failure.
func NewAnthropicEngine(opts AnthropicOptions, renderer *prompts.Renderer) (*AnthropicEngine, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.CodeSetup, "ANTHROPIC_API_KEY is not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL), option.WithMaxRetries(0))
	}
	client := anthropic.NewClient(reqOpts...)

	return &AnthropicEngine{
		client:    &client,
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
		renderer:  renderer,
	}, nil
}

func (a *AnthropicEngine) Name() string { return "anthropic" }

// Start opens a streaming request for one turn
func (a *AnthropicEngine) Start(ctx context.Context, req Request) (Turn, error) {
	system, err := a.renderer.System(req.Mode)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStream, "system prompt")
	}
	files, err := snapshot(req.Root, req.Files)
	if err != nil {
		return nil, err
	}
	var included []prompts.File
	for _, p := range req.Files {
		if s := files[p]; s.exists {
			included = append(included, prompts.File{Path: p, Content: s.content})
		}
	}
	user, err := a.renderer.Render(prompts.TemplateTurn, prompts.TurnData{Files: included, Notes: req.Notes, Prompt: req.Prompt})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStream, "render prompt")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(strings.TrimSpace(user))),
		},
	}
	return &anthropicTurn{stream: a.client.Messages.NewStreaming(ctx, params)}, nil
}

type anthropicTurn struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message
	seq     int
	final   *model.StreamChunk
	err     error
	accErr  error
}

// Next returns the next text delta
func (t *anthropicTurn) Next() (model.StreamChunk, error) {
	if t.err != nil {
		return model.StreamChunk{}, t.err
	}
	if t.final != nil {
		return *t.final, nil
	}
	for t.stream.Next() {
		event := t.stream.Current()
		if err := t.message.Accumulate(event); err != nil && t.accErr == nil {
			t.accErr = err
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				t.seq++
				return model.StreamChunk{Seq: t.seq, Text: delta.Text}, nil
			}
		}
	}
	if err := t.stream.Err(); err != nil {
		t.err = &process.StreamError{ExitCode: -1, Diagnostic: err.Error()}
		return model.StreamChunk{}, t.err
	}
	t.seq++
	t.final = &model.StreamChunk{Seq: t.seq, EOS: true}
	return *t.final, nil
}

func (t *anthropicTurn) Close() error {
	return t.stream.Close()
}

func (t *anthropicTurn) Result() (*model.Diff, error) {
	return nil, nil
}

// Usage returns the token counts accumulated from the stream
func (t *anthropicTurn) Usage() Usage {
	return Usage{
		InputTokens:  t.message.Usage.InputTokens,
		OutputTokens: t.message.Usage.OutputTokens,
		Err:          t.accErr,
	}
}
