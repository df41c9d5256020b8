package scene

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionOpen is returned by Begin while another transaction is open.
	ErrTransactionOpen = errors.New("scene: transaction already open")

	// ErrTransactionClosed is returned when committing or aborting a finished transaction.
	ErrTransactionClosed = errors.New("scene: transaction closed")

	// ErrNoTransaction is returned when a transaction handle does not belong to the scene.
	ErrNoTransaction = errors.New("scene: no open transaction")

	// ErrInconsistent is returned by Commit when the scene fails its consistency check.
	ErrInconsistent = errors.New("scene: inconsistent state")
)

// Transaction is a scoped mutation boundary. Every Transaction must end in
// Commit or Abort.
type Transaction struct {
	scene    *Scene
	label    string
	atomic   bool
	snapshot *state
	closed   bool
}

// Begin opens a transaction. An atomic transaction snapshots the scene so
// Abort restores it exactly; a non-atomic Abort only closes the transaction.
func (s *Scene) Begin(label string, atomic bool) (*Transaction, error) {
	if s.tx != nil {
		return nil, fmt.Errorf("begin %q while %q is open: %w", label, s.tx.label, ErrTransactionOpen)
	}
	tx := &Transaction{scene: s, label: label, atomic: atomic}
	if atomic {
		tx.snapshot = s.st.clone()
	}
	s.tx = tx
	return tx, nil
}

// InTransaction reports whether a transaction is open
func (s *Scene) InTransaction() bool {
	return s.tx != nil
}

// Label returns the transaction label
func (tx *Transaction) Label() string {
	return tx.label
}

// Atomic reports whether Abort rolls back
func (tx *Transaction) Atomic() bool {
	return tx.atomic
}

// Commit checks the scene and closes the transaction. On error the
// transaction stays open and the caller must Abort.
func (tx *Transaction) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	s := tx.scene
	if err := s.verify(); err != nil {
		return fmt.Errorf("commit %q: %w", tx.label, err)
	}
	if s.commitHook != nil {
		if err := s.commitHook(tx.label); err != nil {
			return fmt.Errorf("commit %q: %w", tx.label, err)
		}
	}
	tx.closed = true
	tx.snapshot = nil
	s.tx = nil
	s.revision++
	s.history = append(s.history, tx.label)
	return nil
}

// Abort closes the transaction, restoring the snapshot if it is atomic
func (tx *Transaction) Abort() error {
	if err := tx.check(); err != nil {
		return err
	}
	s := tx.scene
	if tx.atomic && tx.snapshot != nil {
		s.st = tx.snapshot
	}
	tx.closed = true
	tx.snapshot = nil
	s.tx = nil
	return nil
}

func (tx *Transaction) check() error {
	if tx.closed {
		return fmt.Errorf("transaction %q: %w", tx.label, ErrTransactionClosed)
	}
	if tx.scene.tx != tx {
		return fmt.Errorf("transaction %q: %w", tx.label, ErrNoTransaction)
	}
	return nil
}

// Verify runs the consistency check used by Commit
func (s *Scene) Verify() error {
	return s.verify()
}

func (s *Scene) verify() error {
	bound := make(map[DefinitionID]int)
	for id, e := range s.st.entities {
		if e.Parent != RootID {
			if _, ok := s.st.definitions[e.Parent]; !ok {
				return fmt.Errorf("entity %d: parent %d missing: %w", id, e.Parent, ErrInconsistent)
			}
		}
		if !e.Kind.IsInstance() {
			continue
		}
		d, ok := s.st.definitions[e.Definition]
		if !ok {
			return fmt.Errorf("instance %d binds missing definition %d: %w", id, e.Definition, ErrInconsistent)
		}
		if _, ok := d.instances[id]; !ok {
			return fmt.Errorf("instance %d not registered with %q: %w", id, d.Name, ErrInconsistent)
		}
		bound[e.Definition]++
	}
	for id, d := range s.st.definitions {
		if len(d.instances) != bound[id] {
			return fmt.Errorf("definition %q counts %d instances, %d bound: %w",
				d.Name, len(d.instances), bound[id], ErrInconsistent)
		}
	}
	return nil
}
