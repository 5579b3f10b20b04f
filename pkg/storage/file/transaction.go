package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"mercator-hq/unistore/pkg/storage"
)

// priorState is the undo record of one id: where it lived and its exact
// bytes, or absence.
type priorState struct {
	id      string
	rel     string
	data    []byte
	existed bool
}

// Transaction locks every id the batch touches, in sorted order, then
// applies the operations. Before an id is first modified its file bytes
// are captured; if any operation fails the captured state is written back
// in reverse order.
func (b *Backend) Transaction(ctx context.Context, ops []storage.Operation) error {
	if err := b.ready(ctx, "transaction"); err != nil {
		return err
	}

	now := time.Now().UTC()
	prepared := make(map[int]storage.Record)
	ids := make([]string, 0, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return storage.NewTransactionError(BackendType, i, err)
		}
		if op.Kind == storage.OpSave {
			rec, _, err := storage.PrepareForSave(BackendType, op.Record, now)
			if err != nil {
				return storage.NewTransactionError(BackendType, i, err)
			}
			prepared[i] = rec
			ids = append(ids, rec.ID())
			continue
		}
		id := op.TargetID()
		if err := storage.ValidateID(id); err != nil {
			return storage.NewTransactionError(BackendType, i,
				storage.NewValidationError(BackendType, string(op.Kind), err.Error()))
		}
		ids = append(ids, id)
	}

	release, key, err := b.locks.acquireAll(ctx, ids, b.cfg.lockTimeout())
	if err != nil {
		return b.lockError("transaction", key, err)
	}
	defer release()

	var undo []priorState
	seen := make(map[string]bool)
	capture := func(id string) error {
		if seen[id] {
			return nil
		}
		prior, err := b.capture(id)
		if err != nil {
			return err
		}
		seen[id] = true
		undo = append(undo, prior)
		return nil
	}

	for i, op := range ops {
		id := op.TargetID()
		if rec, ok := prepared[i]; ok {
			id = rec.ID()
		}

		err := capture(id)
		if err == nil {
			err = b.apply(ctx, op, id, prepared[i])
		}
		if err != nil {
			if rbErr := b.rollback(ctx, undo); rbErr != nil {
				b.logger.Error("transaction rollback incomplete", "error", rbErr)
			}
			return storage.NewTransactionError(BackendType, i, err)
		}
	}
	return nil
}

func (b *Backend) apply(ctx context.Context, op storage.Operation, id string, rec storage.Record) error {
	switch op.Kind {
	case storage.OpSave:
		prev, _, err := b.locate(id)
		if err != nil {
			return err
		}
		_, err = b.write(ctx, id, rec, prev)
		return err
	case storage.OpUpdate:
		ok, err := b.updateLocked(ctx, id, op.Record)
		if err == nil && !ok {
			err = storage.NewNotFoundError(BackendType, "update", id)
		}
		return err
	case storage.OpDelete:
		ok, err := b.deleteLocked(ctx, id)
		if err == nil && !ok {
			err = storage.NewNotFoundError(BackendType, "delete", id)
		}
		return err
	}
	return storage.NewValidationError(BackendType, "transaction", "unknown operation "+string(op.Kind))
}

// capture reads the current bytes of id. Caller must hold the id lock.
func (b *Backend) capture(id string) (priorState, error) {
	rel, found, err := b.locate(id)
	if err != nil {
		return priorState{}, err
	}
	if !found {
		return priorState{id: id}, nil
	}
	data, err := os.ReadFile(b.abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return priorState{id: id}, nil
	}
	if err != nil {
		return priorState{}, err
	}
	return priorState{id: id, rel: rel, data: data, existed: true}, nil
}

// rollback restores every captured id, newest first. It keeps going after
// a failure and returns the first error.
func (b *Backend) rollback(ctx context.Context, undo []priorState) error {
	// Rollback must finish even if the caller's context is done.
	ctx = context.WithoutCancel(ctx)

	var firstErr error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := b.restore(ctx, undo[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Backend) restore(ctx context.Context, prior priorState) error {
	rel, found, err := b.locate(prior.id)
	if err != nil {
		return err
	}
	if found && (!prior.existed || rel != prior.rel) {
		if err := b.remove(ctx, prior.id, rel); err != nil {
			return err
		}
	}
	if !prior.existed {
		return nil
	}

	rec, err := b.decode(prior.data)
	if err != nil {
		return err
	}
	return b.writeRaw(ctx, prior.id, prior.rel, rec, prior.data)
}
