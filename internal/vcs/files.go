package vcs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/clive/pair/internal/errors"
	"github.com/clive/pair/internal/model"
)

// FileReverter undoes an uncommitted change by restoring file snapshots
type FileReverter struct {
	Root string
}

// Revert restores every file in d to its state before the turn. It refuses
// when a file was edited after the turn.
func (f FileReverter) Revert(ctx context.Context, d *model.Diff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, fc := range d.Files {
		path := filepath.Join(f.Root, filepath.FromSlash(fc.Path))
		current, err := os.ReadFile(path)
		exists := err == nil
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.CodeAction, "read "+fc.Path)
		}
		if exists == fc.Deleted || (exists && string(current) != fc.After) {
			return errors.Newf(errors.CodeAction, "The file %s has changed since the last edit. Cannot undo safely.", fc.Path)
		}
	}

	for _, fc := range d.Files {
		path := filepath.Join(f.Root, filepath.FromSlash(fc.Path))
		if !fc.Existed {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, errors.CodeAction, "remove "+fc.Path)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(err, errors.CodeAction, "restore "+fc.Path)
		}
		if err := os.WriteFile(path, []byte(fc.Before), 0o644); err != nil {
			return errors.Wrap(err, errors.CodeAction, "restore "+fc.Path)
		}
	}
	return nil
}
