package ws

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// serializer guards the write side of the transport: any number of
// goroutines may hand it fully-encoded frames, and it guarantees they reach
// the stream whole and in FIFO order of enqueue.
//
// The first producer to find the writing flag clear becomes the drainer and
// loops until the queue runs dry; everyone else just enqueues and waits for
// their own result. This keeps at most one goroutine on the stream's write
// side at any moment.
type serializer struct {
	dst Stream

	mu      sync.Mutex
	q       *queue.Queue
	writing bool
}

type sendOp struct {
	ctx     context.Context
	p       []byte
	done    chan error
	release func()
}

func newSerializer(dst Stream) *serializer {
	return &serializer{
		dst: dst,
		q:   queue.New(),
	}
}

// send delivers p to the stream, whole. It returns when the bytes have been
// written or when ctx is done, whichever comes first; a producer that
// becomes the drainer returns only once the queue has run dry.
//
// Ownership of p passes to the serializer: release (optional) is invoked by
// the drainer once the op is finished with, even if the producer has already
// given up on ctx cancellation. Producers must not reuse p before then.
func (s *serializer) send(ctx context.Context, p []byte, release func()) error {
	op := &sendOp{ctx: ctx, p: p, done: make(chan error, 1), release: release}

	s.mu.Lock()
	s.q.Add(op)
	drain := !s.writing
	if drain {
		s.writing = true
	}
	s.mu.Unlock()

	if drain {
		s.drain()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serializer) drain() {
	for {
		s.mu.Lock()
		if s.q.Length() == 0 {
			s.writing = false
			s.mu.Unlock()
			return
		}
		op := s.q.Remove().(*sendOp)
		s.mu.Unlock()

		// Each write runs under its producer's context, so one canceled
		// producer does not fail the frames queued behind it.
		var err error
		if err = op.ctx.Err(); err == nil {
			err = s.dst.Write(op.ctx, op.p)
		}
		if op.release != nil {
			op.release()
		}
		op.done <- err
	}
}
