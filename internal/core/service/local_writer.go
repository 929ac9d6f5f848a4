package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/port"
)

const localWriteTimeout = 5 * time.Second

type localOp struct {
	key     string
	value   []byte // nil deletes the key
	barrier chan struct{}
}

// localWriter applies durable writes on a single goroutine in the order they were
// enqueued. Enqueue never blocks the caller.
type localWriter struct {
	store   port.LocalStore
	logger  *zap.Logger
	pending *sync.WaitGroup

	mu      sync.Mutex
	queue   []localOp
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newLocalWriter(store port.LocalStore, logger *zap.Logger, pending *sync.WaitGroup) *localWriter {
	w := &localWriter{
		store:   store,
		logger:  logger,
		pending: pending,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *localWriter) set(key string, value []byte) {
	w.push(localOp{key: key, value: value})
}

func (w *localWriter) delete(key string) {
	w.push(localOp{key: key})
}

// flush blocks until every op enqueued before it has been applied.
func (w *localWriter) flush() {
	barrier := make(chan struct{})
	if !w.push(localOp{barrier: barrier}) {
		return
	}
	select {
	case <-barrier:
	case <-w.done:
	}
}

func (w *localWriter) close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

func (w *localWriter) push(op localOp) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	if op.barrier == nil {
		w.pending.Add(1)
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *localWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *localWriter) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if op.barrier != nil {
			close(op.barrier)
			continue
		}
		w.apply(op)
		w.pending.Done()
	}
}

func (w *localWriter) apply(op localOp) {
	ctx, cancel := context.WithTimeout(context.Background(), localWriteTimeout)
	defer cancel()

	var err error
	if op.value == nil {
		err = w.store.Delete(ctx, op.key)
	} else {
		err = w.store.Set(ctx, op.key, op.value)
	}
	if err != nil {
		// in-memory state stays authoritative for this session
		w.logger.Error("local cart write failed", zap.String("key", op.key), zap.Error(err))
	}
}
