package transport

import (
	"sync"
	"sync/atomic"
)

// pendingRequest is a request sent but not yet settled: exactly one of
// resolve/reject is called before the record is removed, on terminal
// response, timeout, or endpoint disposal.
type pendingRequest struct {
	id         string
	name       string
	acked      bool
	retryTimer *retryTimer
	resolve    func(data any)
	reject     func(err error)
}

// correlator is the request/response multiplexer: it assigns correlation
// IDs, matches replies to pending records, delivers acks, and tells the
// endpoint whether a given response/ack corresponds to an outstanding
// request.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[string]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

// nextRequestID returns a monotonically increasing id, unique within this
// endpoint.
func (c *correlator) nextRequestID() string {
	n := atomic.AddUint64(&c.nextID, 1)
	return formatRequestID(n)
}

func formatRequestID(n uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append(buf, digits[n%36])
		n /= 36
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// track registers a new pending record before the request is sent.
func (c *correlator) track(p *pendingRequest) {
	c.mu.Lock()
	c.pending[p.id] = p
	c.mu.Unlock()
}

// markAcked flips the ack flag and stops the retry schedule for id, if
// still pending. Returns false if id is unknown (a late/duplicate ack).
func (c *correlator) markAcked(id string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.acked = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	return true
}

// resolve removes and resolves the pending record for id with data.
// Returns false if id is unknown — a late duplicate response, which is
// dropped.
func (c *correlator) resolve(id string, data any) bool {
	p := c.remove(id)
	if p == nil {
		return false
	}
	p.resolve(data)
	return true
}

// reject removes and rejects the pending record for id with err. Returns
// false if id is unknown.
func (c *correlator) reject(id string, err error) bool {
	p := c.remove(id)
	if p == nil {
		return false
	}
	p.reject(err)
	return true
}

// remove deletes and returns the pending record for id, or nil.
func (c *correlator) remove(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// drainAll rejects and removes every pending record with err — used on
// endpoint disposal, which rejects every pending record with an
// endpoint-closed failure.
func (c *correlator) drainAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		if p.retryTimer != nil {
			p.retryTimer.Stop()
		}
		p.reject(err)
	}
}

// size reports the number of outstanding pending records, for tests
// asserting the pending set's bounded-growth invariant.
func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
