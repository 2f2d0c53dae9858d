package process

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clive/pair/internal/errors"
)

// ansiRegex matches colour, cursor and OSC escape sequences
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[()][AB012]`)

// StripANSI removes ANSI escape codes from a string
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Runner executes one-shot shell commands in the session root
type Runner struct {
	Dir string
	// MaxParallel limits concurrent lint processes; zero means unlimited.
	MaxParallel int
}

// Run executes command and returns its combined output. A non-zero exit
// is an action failure carrying the output.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	text := StripANSI(string(out))
	if err != nil {
		msg := strings.TrimRight(text, "\n")
		if msg == "" {
			msg = err.Error()
		}
		e := errors.New(errors.CodeAction, "command failed").WithUserMessage(msg)
		e.Underlying = err
		return text, e
	}
	return text, nil
}

// Lint runs lintCmd once per file in parallel. Outputs of failing files
// are joined in file order and returned as one action failure.
func (r *Runner) Lint(ctx context.Context, lintCmd string, files []string) (string, error) {
	if lintCmd == "" {
		return "", errors.New(errors.CodeAction, "no lint command configured")
	}
	if len(files) == 0 {
		return "", errors.New(errors.CodeAction, "no files to lint")
	}

	outputs := make([]string, len(files))
	var mu sync.Mutex
	failed := false

	g, gctx := errgroup.WithContext(ctx)
	if r.MaxParallel > 0 {
		g.SetLimit(r.MaxParallel)
	}
	for i, file := range files {
		g.Go(func() error {
			out, err := r.Run(gctx, lintCmd+" "+shellQuote(file))
			if err == nil {
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			failed = true
			mu.Unlock()
			outputs[i] = "## Fixing " + file + "\n" + out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", errors.Wrap(err, errors.CodeAction, "lint cancelled")
	}

	var parts []string
	for _, o := range outputs {
		if o != "" {
			parts = append(parts, strings.TrimRight(o, "\n"))
		}
	}
	report := strings.Join(parts, "\n\n")
	if failed {
		return report, errors.New(errors.CodeAction, "lint failed").WithUserMessage(report)
	}
	return "", nil
}

// shellQuote quotes s for sh
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
