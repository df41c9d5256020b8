// Package maint implements the deep delete and deep unique maintenance
// operations. Each runs to completion inside one atomic scene transaction.
package maint

import (
	"errors"
	"fmt"

	"github.com/ritzau/scene-maint/pkg/scene"
)

var (
	// ErrEmptySelection is returned when an operation has nothing to work on.
	// The scene is not mutated.
	ErrEmptySelection = errors.New("maint: empty selection")

	// ErrTransactionFailure matches every TransactionError
	ErrTransactionFailure = errors.New("maint: transaction failed")
)

// TransactionError reports a batch whose transaction was aborted
type TransactionError struct {
	Label string
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %q aborted: %v", e.Label, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransactionFailure) hold for any TransactionError
func (e *TransactionError) Is(target error) bool {
	return target == ErrTransactionFailure
}

// Options selects what an operation works on
type Options struct {
	// IDs replaces the scene selection when non-empty
	IDs []scene.EntityID
}

func (o Options) targets(s *scene.Scene) []scene.EntityID {
	if len(o.IDs) > 0 {
		return append([]scene.EntityID(nil), o.IDs...)
	}
	return s.Selection.Snapshot()
}

// inTransaction runs fn inside one atomic transaction. Any failure,
// including a failed commit, aborts it.
func inTransaction(s *scene.Scene, label string, fn func() error) error {
	tx, err := s.Begin(label, true)
	if err != nil {
		return &TransactionError{Label: label, Err: err}
	}
	if err := fn(); err != nil {
		_ = tx.Abort()
		return &TransactionError{Label: label, Err: err}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Abort()
		return &TransactionError{Label: label, Err: err}
	}
	return nil
}
