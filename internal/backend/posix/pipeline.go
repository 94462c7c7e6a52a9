package posix

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/pkg/xerrors"
)

// pipeline runs submitted transfers on a fixed-size worker pool with a
// bounded in-flight window. Backpressure is exact: submit blocks on the slot
// semaphore when the window is full and never drops or overflows work. The
// worker count is capped at GOMAXPROCS; the window always equals the
// configured depth.
//
// Cancellation policy: a request that has not yet been picked up by a worker
// completes immediately with a Cancelled error and no I/O; once dispatched,
// cancellation is advisory only and the transfer may still complete.
type pipeline struct {
	depth int
	slots chan struct{}
	work  chan *request

	mu      sync.Mutex
	pending map[backend.Token]*request

	nextToken atomic.Uint64

	group        errgroup.Group
	shutdownOnce sync.Once
}

type request struct {
	token     backend.Token
	h         *handle
	dir       backend.Direction
	buf       []byte
	offset    int64
	cancelled atomic.Bool

	// c is written by exactly one worker, then done is closed. Readers must
	// wait on done before touching c.
	c    backend.Completion
	done chan struct{}
}

func newPipeline(depth int) *pipeline {
	p := &pipeline{
		depth:   depth,
		slots:   make(chan struct{}, depth),
		work:    make(chan *request, depth),
		pending: make(map[backend.Token]*request),
	}
	workers := depth
	if max := runtime.GOMAXPROCS(0); workers > max {
		workers = max
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.worker)
	}
	return p
}

func (p *pipeline) worker() error {
	for req := range p.work {
		if req.cancelled.Load() {
			req.c = backend.Completion{
				Token: req.token,
				Err:   xerrors.New(xerrors.KindCancelled, "request cancelled before dispatch").WithOp(req.dir.String()).WithPath(req.h.path),
			}
		} else {
			n, err := transfer(req.h.fd, req.h.path, req.dir, req.buf, req.offset)
			req.c = backend.Completion{Token: req.token, Bytes: n, Err: err}
		}
		close(req.done)
	}
	return nil
}

// submit blocks until a window slot frees, then enqueues the request.
func (p *pipeline) submit(h *handle, dir backend.Direction, buf []byte, offset int64) (backend.Token, error) {
	p.slots <- struct{}{}

	token := backend.Token(p.nextToken.Add(1))
	req := &request{token: token, h: h, dir: dir, buf: buf, offset: offset, done: make(chan struct{})}

	h.inflight.Add(1)
	p.mu.Lock()
	p.pending[token] = req
	p.mu.Unlock()

	// Never blocks: the work channel capacity matches the window and a slot
	// is held for every queued request.
	p.work <- req
	return token, nil
}

// poll reports the status of one outstanding request. Non-blocking polls on a
// pending request are side-effect free; consuming a finished request frees
// its window slot and forgets the token.
func (p *pipeline) poll(t backend.Token, block bool) (backend.Completion, bool, error) {
	p.mu.Lock()
	req, ok := p.pending[t]
	p.mu.Unlock()
	if !ok {
		return backend.Completion{}, false, xerrors.Newf(xerrors.KindNotFound, "no outstanding request with token %d", t).WithOp("poll")
	}
	if block {
		<-req.done
	} else {
		select {
		case <-req.done:
		default:
			return backend.Completion{}, false, nil
		}
	}
	p.consume(req)
	return req.c, true, nil
}

// consume releases the window slot tied to a finished request.
func (p *pipeline) consume(req *request) {
	p.mu.Lock()
	_, ok := p.pending[req.token]
	delete(p.pending, req.token)
	p.mu.Unlock()
	if !ok {
		return
	}
	req.h.inflight.Add(-1)
	<-p.slots
}

func (p *pipeline) cancel(t backend.Token) error {
	p.mu.Lock()
	req, ok := p.pending[t]
	p.mu.Unlock()
	if !ok {
		return xerrors.Newf(xerrors.KindNotFound, "no outstanding request with token %d", t).WithOp("cancel")
	}
	req.cancelled.Store(true)
	return nil
}

func (p *pipeline) shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.work)
		_ = p.group.Wait()
	})
}

// Submit implements backend.Backend.
func (p *Posix) Submit(h backend.Handle, dir backend.Direction, buf []byte, offset int64) (backend.Token, error) {
	if p.pipe == nil {
		return 0, xerrors.New(xerrors.KindUnsupported, "asynchronous transfers require queue depth > 1").WithOp("submit")
	}
	ph, err := p.handleOf(h, "submit")
	if err != nil {
		return 0, err
	}
	return p.pipe.submit(ph, dir, buf, offset)
}

// Poll implements backend.Backend.
func (p *Posix) Poll(t backend.Token, block bool) (backend.Completion, bool, error) {
	if p.pipe == nil {
		return backend.Completion{}, false, xerrors.New(xerrors.KindUnsupported, "asynchronous transfers require queue depth > 1").WithOp("poll")
	}
	return p.pipe.poll(t, block)
}

// Cancel implements backend.Backend.
func (p *Posix) Cancel(t backend.Token) error {
	if p.pipe == nil {
		return xerrors.New(xerrors.KindUnsupported, "asynchronous transfers require queue depth > 1").WithOp("cancel")
	}
	return p.pipe.cancel(t)
}
