package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// HASH WORKER - Actor owning the hash computation
// =============================================================================

// DefaultHashTimeout bounds one hash request, queueing included.
const DefaultHashTimeout = 3 * time.Second

var (
	ErrHashTimeout  = errors.New("audit hash worker timed out")
	ErrHasherClosed = errors.New("audit hash worker stopped")
)

// ComputeFunc derives content_hash and chain_hash for one record.
type ComputeFunc func(previous string, payload []byte, metadata string) (content, chain string, err error)

// ComputeHashes is the production ComputeFunc:
//
//	content_hash = hex(SHA-256(payload))
//	chain_hash   = hex(SHA-256(previous || content_hash || metadata))
func ComputeHashes(previous string, payload []byte, metadata string) (content, chain string, err error) {
	sum := sha256.Sum256(payload)
	content = hex.EncodeToString(sum[:])

	h := sha256.New()
	h.Write([]byte(previous))
	h.Write([]byte(content))
	h.Write([]byte(metadata))
	chain = hex.EncodeToString(h.Sum(nil))
	return content, chain, nil
}

type hashJob struct {
	previous string
	payload  []byte
	metadata string
	reply    chan hashResult // buffered: the worker never blocks on a caller that gave up
}

type hashResult struct {
	content string
	chain   string
	err     error
}

// Hasher serves hash requests on its own goroutine. Requests and replies
// are messages; a request not answered within the timeout fails with
// ErrHashTimeout and a panicking computation fails only its own request.
type Hasher struct {
	requests chan hashJob
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	timeout  time.Duration
	compute  ComputeFunc
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HasherOption {
	return func(h *Hasher) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithComputeFunc replaces the hash computation. Used by tests to inject
// slow or failing workers.
func WithComputeFunc(fn ComputeFunc) HasherOption {
	return func(h *Hasher) { h.compute = fn }
}

// NewHasher starts a hash worker. Call Close to stop it.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		requests: make(chan hashJob),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		timeout:  DefaultHashTimeout,
		compute:  ComputeHashes,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run()
	return h
}

func (h *Hasher) run() {
	defer close(h.stopped)
	for {
		select {
		case job := <-h.requests:
			job.reply <- h.safeCompute(job)
		case <-h.stop:
			return
		}
	}
}

func (h *Hasher) safeCompute(job hashJob) (res hashResult) {
	defer func() {
		if r := recover(); r != nil {
			res = hashResult{err: fmt.Errorf("audit hash worker panicked: %v", r)}
		}
	}()
	content, chain, err := h.compute(job.previous, job.payload, job.metadata)
	return hashResult{content: content, chain: chain, err: err}
}

// Hash sends one request to the worker and waits for its reply.
func (h *Hasher) Hash(previous string, payload []byte, metadata string) (content, chain string, err error) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	job := hashJob{previous: previous, payload: payload, metadata: metadata, reply: make(chan hashResult, 1)}

	select {
	case h.requests <- job:
	case <-timer.C:
		return "", "", fmt.Errorf("%w after %s", ErrHashTimeout, h.timeout)
	case <-h.stop:
		return "", "", ErrHasherClosed
	}

	select {
	case res := <-job.reply:
		return res.content, res.chain, res.err
	case <-timer.C:
		return "", "", fmt.Errorf("%w after %s", ErrHashTimeout, h.timeout)
	}
}

// Close stops the worker, waiting at most one request timeout for a
// computation in flight. A computation that never returns is abandoned: its
// reply channel is buffered and the worker exits as soon as it does return.
func (h *Hasher) Close() {
	h.once.Do(func() { close(h.stop) })
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case <-h.stopped:
	case <-timer.C:
	}
}
