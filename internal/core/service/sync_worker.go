package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

type syncOp int

const (
	opUpsert syncOp = iota
	opDelete
	opDeleteAll
)

func (o syncOp) String() string {
	switch o {
	case opUpsert:
		return "upsert"
	case opDelete:
		return "delete"
	case opDeleteAll:
		return "delete_all"
	default:
		return "unknown"
	}
}

// syncTask is one remote call tagged with the owner it was issued for.
type syncTask struct {
	owner      domain.Owner
	op         syncOp
	line       domain.CartLine
	productRef string
	// reconcile marks convergence pushes issued by a load; their failures do not
	// trigger another load.
	reconcile bool
}

func (e *CartEngine) syncWorker(id int) {
	defer e.workers.Done()
	for task := range e.syncQueue {
		e.runSyncTask(id, task)
		e.pending.Done()
	}
}

func (e *CartEngine) runSyncTask(id int, task syncTask) {
	ctx, cancel := context.WithTimeout(context.Background(), e.remoteTimeout)
	defer cancel()

	var err error
	switch task.op {
	case opUpsert:
		err = e.remote.UpsertLine(ctx, task.owner, task.line)
	case opDelete:
		err = e.remote.DeleteLine(ctx, task.owner, task.productRef)
	case opDeleteAll:
		err = e.remote.DeleteAll(ctx, task.owner)
	}

	fields := []zap.Field{
		zap.Int("worker", id),
		zap.String("owner", task.owner.String()),
		zap.Stringer("op", task.op),
		zap.String("product_ref", task.productRef),
	}
	if err == nil {
		e.logger.Debug("remote cart synced", fields...)
		return
	}

	if e.Owner() != task.owner {
		e.logger.Debug("dropping remote result for inactive owner", append(fields, zap.Error(err))...)
		return
	}
	if task.reconcile {
		e.logger.Warn("remote convergence push failed", append(fields, zap.Error(err))...)
		return
	}

	e.logger.Warn("remote cart sync failed, resyncing", append(fields, zap.Error(err))...)
	e.scheduleResync(task.owner)
}

// enqueueRemoteLocked must be called with e.mu held.
func (e *CartEngine) enqueueRemoteLocked(task syncTask) {
	if task.owner.IsGuest() || e.closed {
		return
	}
	if task.op == opUpsert {
		task.productRef = task.line.ProductRef
	}

	e.pending.Add(1)
	select {
	case e.syncQueue <- task:
	default:
		e.pending.Done()
		e.logger.Warn("remote sync queue full, resyncing",
			zap.String("owner", task.owner.String()),
			zap.Stringer("op", task.op),
		)
		e.scheduleResync(task.owner)
	}
}

// scheduleResync reloads the owner's cart in the background. Concurrent requests for
// the same owner share one load.
func (e *CartEngine) scheduleResync(owner domain.Owner) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		_, _, _ = e.resyncs.Do(owner.String(), func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.remoteTimeout)
			defer cancel()
			e.resync(ctx, owner)
			return nil, nil
		})
	}()
}

func (e *CartEngine) resync(ctx context.Context, owner domain.Owner) {
	e.mu.Lock()
	active := e.owner == owner && !e.closed
	e.mu.Unlock()
	if !active {
		return
	}
	e.reconcile(ctx, owner)
}
