package engine

import (
	"context"

	"github.com/clive/pair/internal/model"
	"github.com/clive/pair/internal/process"
)

// Request is everything an engine needs to run one turn
type Request struct {
	Root   string
	Prompt string
	Files  []string // working set, relative to Root
	Mode   string
	Notes  []string // context recorded since the previous turn
}

// Turn is a running assistant turn. Result is valid once the stream has
// reached its final result.
type Turn interface {
	process.TextStream
	Result() (*model.Diff, error)
}

// Engine starts assistant turns
type Engine interface {
	Name() string
	Start(ctx context.Context, req Request) (Turn, error)
}

// Usage reports token counts for engines that know them. Err is set when
// the counts may be incomplete.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Err          error
}

// UsageReporter is implemented by turns that report token usage
type UsageReporter interface {
	Usage() Usage
}
