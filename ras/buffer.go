package ras

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ConnID identifies a connection for the purposes of this package. The
// boundary layer (gattsim, or a real GATT stack) supplies a stable,
// comparable value — a pointer, a connection handle, whatever it already
// uses to key its own connection table.
type ConnID interface{}

// PoolConfig sizes the ranging-data buffer pool and the worst-case
// procedure geometry each buffer's storage must hold (spec §2, §3,
// SPEC_FULL.md §3). Defaults match the source's BT_RAS_MAX_SUBEVENTS /
// BT_RAS_MAX_STEPS constants.
type PoolConfig struct {
	MaxActiveConnections int
	BuffersPerConn       int
	MaxSubevents         int
	MaxSteps             int
}

// DefaultPoolConfig returns the source's worst-case sizing.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxActiveConnections: 4,
		BuffersPerConn:       2,
		MaxSubevents:         32,
		MaxSteps:             256,
	}
}

// storageLen computes the worst-case flat-image size a buffer's storage
// must hold for this config: RangingHeader + up to MaxSubevents
// SubeventHeaders + up to MaxSteps step-mode bytes + up to MaxSteps
// step-data bytes.
func (c PoolConfig) storageLen() int {
	return RangingHeaderLen +
		c.MaxSubevents*SubeventHeaderLen +
		c.MaxSteps*StepModeLen +
		c.MaxSteps*MaxStepDataLen
}

// bufFlags tracks the ready/busy/acked state bits of spec §3.
type bufFlags struct {
	ready bool
	busy  bool
	acked bool
}

// procedureBuffer is one pool slot (spec §3's ProcedureBuffer).
type procedureBuffer struct {
	conn           ConnID // nil => free
	rangingCounter uint16

	flags bufFlags

	refcount atomic.Int32

	writeCursor int // offset into storage past RangingHeaderLen, i.e. within the subevents region
	readCursor  int // offset into the flat image (header + subevents)

	storage []byte // RangingHeaderLen bytes of header, then the subevents region
}

func (b *procedureBuffer) flatLen() int {
	return RangingHeaderLen + b.writeCursor
}

func (b *procedureBuffer) header() RangingHeader {
	h, _, _ := DecodeRangingHeader(b.storage[:RangingHeaderLen])
	return h
}

func (b *procedureBuffer) setHeader(h RangingHeader) {
	h.AppendTo(b.storage[:0])
}

func (b *procedureBuffer) subevents() []byte {
	return b.storage[RangingHeaderLen : RangingHeaderLen+b.writeCursor]
}

func (b *procedureBuffer) free() {
	b.conn = nil
	b.flags = bufFlags{}
	b.refcount.Store(0)
	b.writeCursor = 0
	b.readCursor = 0
}

func (b *procedureBuffer) initFor(conn ConnID, counter uint16) {
	b.conn = conn
	b.rangingCounter = counter
	b.flags = bufFlags{busy: true}
	b.refcount.Store(0)
	b.writeCursor = 0
	b.readCursor = 0
}

// BufferHandle is an opaque claim on a ready buffer, returned by
// RdBufferPool.Claim and consumed by Pull/Rewind/Release.
type BufferHandle struct {
	buf *procedureBuffer
}

// RangingCounter returns the counter this claim is reading.
func (h BufferHandle) RangingCounter() uint16 { return h.buf.rangingCounter }

// BufferPoolCallbacks receives ready/overwritten events from the pool (spec
// §4.2's register_cb).
type BufferPoolCallbacks struct {
	OnReady      func(conn ConnID, counter uint16)
	OnOverwritten func(conn ConnID, counter uint16)
}

// PoolStats summarizes slot occupancy, purely for observability
// (SPEC_FULL.md §4.2, additive over the source).
type PoolStats struct {
	TotalSlots int
	FreeSlots  int
	PerConn    map[ConnID]int
}

// RdBufferPool is the fixed pool of procedure buffers described in spec
// §4.2. It is safe for concurrent use: Go gives no single-threaded-
// cooperative-scheduler guarantee across ingest/streamer/app goroutines, so
// (per spec §5 and §9) the pool is guarded by a mutex and refcount is
// atomic.
type RdBufferPool struct {
	cfg PoolConfig
	log logrus.FieldLogger

	mu      sync.Mutex
	buffers []*procedureBuffer

	cbMu sync.Mutex
	cbs  []BufferPoolCallbacks
}

// NewRdBufferPool allocates a pool sized per cfg.
func NewRdBufferPool(cfg PoolConfig, log logrus.FieldLogger) *RdBufferPool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := cfg.MaxActiveConnections * cfg.BuffersPerConn
	p := &RdBufferPool{cfg: cfg, log: log}
	p.buffers = make([]*procedureBuffer, n)
	for i := range p.buffers {
		p.buffers[i] = &procedureBuffer{storage: make([]byte, cfg.storageLen())}
	}
	return p
}

// RegisterCallbacks appends a ready/overwritten callback set (spec
// §4.2's register_cb).
func (p *RdBufferPool) RegisterCallbacks(cb BufferPoolCallbacks) {
	p.cbMu.Lock()
	p.cbs = append(p.cbs, cb)
	p.cbMu.Unlock()
}

func (p *RdBufferPool) notifyReady(conn ConnID, counter uint16) {
	p.cbMu.Lock()
	cbs := append([]BufferPoolCallbacks(nil), p.cbs...)
	p.cbMu.Unlock()
	for _, cb := range cbs {
		if cb.OnReady != nil {
			cb.OnReady(conn, counter)
		}
	}
}

func (p *RdBufferPool) notifyOverwritten(conn ConnID, counter uint16) {
	p.cbMu.Lock()
	cbs := append([]BufferPoolCallbacks(nil), p.cbs...)
	p.cbMu.Unlock()
	for _, cb := range cbs {
		if cb.OnOverwritten != nil {
			cb.OnOverwritten(conn, counter)
		}
	}
}

// findLocked returns the buffer matching (conn, counter, ready, busy), or
// nil. Caller must hold p.mu.
func (p *RdBufferPool) findLocked(conn ConnID, counter uint16, ready, busy bool) *procedureBuffer {
	for _, b := range p.buffers {
		if b.conn == conn && b.rangingCounter == counter && b.flags.ready == ready && b.flags.busy == busy {
			return b
		}
	}
	return nil
}

// OpenForWrite returns the busy buffer for (conn, counter), allocating and
// possibly evicting per spec §4.2's allocation policy.
func (p *RdBufferPool) OpenForWrite(conn ConnID, counter uint16) (*procedureBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b := p.findLocked(conn, counter, false, true); b != nil {
		return b, nil
	}

	var free *procedureBuffer
	var oldest *procedureBuffer
	connCount := 0

	for _, b := range p.buffers {
		if b.conn == conn {
			connCount++
			if b.flags.ready && !b.flags.busy && b.refcount.Load() == 0 {
				if oldest == nil || rangingCounterLess(b.rangingCounter, oldest.rangingCounter) {
					oldest = b
				}
			}
		}
		if free == nil && b.conn == nil {
			free = b
		}
	}

	if connCount < p.cfg.BuffersPerConn && free != nil {
		free.initFor(conn, counter)
		return free, nil
	}

	if oldest != nil {
		wasAcked := oldest.flags.acked
		evictedCounter := oldest.rangingCounter
		oldest.free()
		oldest.initFor(conn, counter)
		if !wasAcked {
			p.notifyOverwritten(conn, evictedCounter)
		}
		return oldest, nil
	}

	p.log.WithFields(logrus.Fields{"counter": counter}).Warn("ras: buffer pool exhausted, dropping procedure")
	return nil, ErrPoolExhausted
}

// Abort discards a busy buffer without marking it ready (spec §4.3 step 5,
// the procedure-aborted case).
func (p *RdBufferPool) Abort(buf *procedureBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf.free()
}

// MarkReady transitions a busy buffer to ready and fires on_ready callbacks
// (spec §4.3 step 5, procedure-complete case).
func (p *RdBufferPool) MarkReady(buf *procedureBuffer) {
	p.mu.Lock()
	buf.flags.busy = false
	buf.flags.ready = true
	conn, counter := buf.conn, buf.rangingCounter
	p.mu.Unlock()
	p.notifyReady(conn, counter)
}

// ReadyCheck reports whether a ready, unacked, non-busy buffer exists for
// (conn, counter) — spec §4.2's ready_check, with the §8/§9 REDESIGN that
// ACKed buffers are immediately invisible.
func (p *RdBufferPool) ReadyCheck(conn ConnID, counter uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.findLocked(conn, counter, true, false)
	return b != nil && !b.flags.acked
}

// Claim increments refcount on a ready, unacked buffer and returns a handle.
func (p *RdBufferPool) Claim(conn ConnID, counter uint16) (BufferHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.findLocked(conn, counter, true, false)
	if b == nil || b.flags.acked {
		return BufferHandle{}, ErrNotReady
	}
	b.refcount.Add(1)
	return BufferHandle{buf: b}, nil
}

// Release decrements refcount. The buffer is not freed — it remains
// available for re-claim until evicted (spec §4.2).
func (p *RdBufferPool) Release(h BufferHandle) {
	if h.buf == nil {
		return
	}
	h.buf.refcount.Add(-1)
}

// Ack marks the claimed buffer acked, suppressing future overwritten
// notifications for it and making it invisible to ReadyCheck/Claim.
func (p *RdBufferPool) Ack(h BufferHandle) {
	if h.buf == nil {
		return
	}
	p.mu.Lock()
	h.buf.flags.acked = true
	p.mu.Unlock()
}

// Pull copies up to len(out) bytes from the flat image starting at
// read_cursor, advancing it, and returns the number of bytes copied.
func (p *RdBufferPool) Pull(h BufferHandle, out []byte) int {
	b := h.buf
	p.mu.Lock()
	defer p.mu.Unlock()

	flat := b.flatLen()
	if b.readCursor >= flat {
		return 0
	}
	remaining := flat - b.readCursor
	n := len(out)
	if n > remaining {
		n = remaining
	}
	copy(out[:n], b.storage[b.readCursor:b.readCursor+n])
	b.readCursor += n
	return n
}

// Rewind moves read_cursor back by n bytes, used when a transmit attempt
// fails and must be retried.
func (p *RdBufferPool) Rewind(h BufferHandle, n int) {
	b := h.buf
	p.mu.Lock()
	defer p.mu.Unlock()
	b.readCursor -= n
	if b.readCursor < 0 {
		b.readCursor = 0
	}
}

// OnConnectionLost frees every buffer owned by conn, ignoring refcounts
// (spec §4.2: a claim is stale on disconnect).
func (p *RdBufferPool) OnConnectionLost(conn ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		if b.conn == conn {
			b.free()
		}
	}
}

// Stats reports slot occupancy (SPEC_FULL.md §4.2, additive).
func (p *RdBufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{TotalSlots: len(p.buffers), PerConn: map[ConnID]int{}}
	for _, b := range p.buffers {
		if b.conn == nil {
			s.FreeSlots++
			continue
		}
		s.PerConn[b.conn]++
	}
	return s
}
