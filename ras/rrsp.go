package ras

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nordic-ras/ras/uuid"
)

// RrspState is the per-connection RRSP session state (spec §4.4).
type RrspState int

const (
	RrspIdle RrspState = iota
	RrspStreaming
	RrspAwaitingAck
)

func (s RrspState) String() string {
	switch s {
	case RrspIdle:
		return "Idle"
	case RrspStreaming:
		return "Streaming"
	case RrspAwaitingAck:
		return "AwaitingAck"
	default:
		return "Unknown"
	}
}

// DefaultAckTimeout is the "maximum timeout of 10 seconds" bound from spec
// §4.4 on how long RrspCore waits in AwaitingAck for an ACK_RD.
const DefaultAckTimeout = 10 * time.Second

// RrspConfig configures one RrspCore instance.
type RrspConfig struct {
	AckTimeout time.Duration
}

// DefaultRrspConfig returns the spec's default timeout.
func DefaultRrspConfig() RrspConfig {
	return RrspConfig{AckTimeout: DefaultAckTimeout}
}

// RrspCore is a per-connection RRSP instance: the RAS-CP command state
// machine, the segmented streamer, and the ready/overwritten notification
// pipeline (spec §4.4).
type RrspCore struct {
	conn  ConnID
	peer  GattPeer
	pool  *RdBufferPool
	cfg   RrspConfig
	log   logrus.FieldLogger
	wq    *workQueue

	mu             sync.Mutex
	state          RrspState
	activeBuf      BufferHandle
	hasActiveBuf   bool
	segmentCounter uint8
	ackTimer       *time.Timer

	commandPending bool

	notifyReadyPending      bool
	pendingReadyCounter     uint16
	notifyOverwrittenPending bool
	pendingOverwrittenCounter uint16
}

// NewRrspCore creates an RRSP instance bound to conn, streaming from pool
// over peer.
func NewRrspCore(conn ConnID, peer GattPeer, pool *RdBufferPool, cfg RrspConfig, log logrus.FieldLogger) *RrspCore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &RrspCore{
		conn: conn, peer: peer, pool: pool, cfg: cfg, log: log,
		wq: newWorkQueue(8),
	}
	pool.RegisterCallbacks(BufferPoolCallbacks{
		OnReady: func(c ConnID, counter uint16) {
			if c != conn {
				return
			}
			r.onBufferReady(counter)
		},
		OnOverwritten: func(c ConnID, counter uint16) {
			if c != conn {
				return
			}
			r.onBufferOverwritten(counter)
		},
	})
	return r
}

// Close tears down the connection's work queue and pending timer (spec §5:
// disconnect cancels all per-connection work items and timers).
func (r *RrspCore) Close() {
	r.mu.Lock()
	if r.ackTimer != nil {
		r.ackTimer.Stop()
	}
	if r.hasActiveBuf {
		r.pool.Release(r.activeBuf)
		r.hasActiveBuf = false
	}
	r.mu.Unlock()
	r.wq.stop()
}

// State returns the current RRSP session state.
func (r *RrspCore) State() RrspState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HandleControlPointWrite is the RAS-CP attribute write callback (spec
// §4.4). It never processes the command inline — it copies the payload and
// schedules the command work item, returning an ATT-level error
// synchronously if the write itself must be rejected.
func (r *RrspCore) HandleControlPointWrite(payload []byte) error {
	if !r.peer.Subscribed(CharUUIDRASCP, SubIndicate) {
		return ErrNotSubscribed
	}

	r.mu.Lock()
	if r.commandPending {
		r.mu.Unlock()
		return ErrCommandPending
	}
	r.commandPending = true
	r.mu.Unlock()

	cmd := append([]byte(nil), payload...)
	if !r.wq.submit(func() { r.handleCommand(cmd) }) {
		r.mu.Lock()
		r.commandPending = false
		r.mu.Unlock()
		return ErrCommandPending
	}
	return nil
}

func (r *RrspCore) handleCommand(raw []byte) {
	defer func() {
		r.mu.Lock()
		r.commandPending = false
		r.mu.Unlock()
	}()

	r.mu.Lock()
	busy := r.state == RrspStreaming
	r.mu.Unlock()
	if busy {
		r.sendRspCode(RespCodeServerBusy)
		return
	}

	cmd, err := DecodeRASCPCommand(raw)
	if err != nil {
		r.sendRspCode(RespCodeInvalidParameter)
		return
	}

	switch cmd.Opcode {
	case OpcodeGetRD:
		r.handleGetRD(cmd)
	case OpcodeAckRD:
		r.handleAckRD(cmd)
	default:
		r.sendRspCode(RespCodeOpcodeNotSupported)
	}
}

func (r *RrspCore) handleGetRD(cmd RASCPCommand) {
	if !cmd.HasCounter {
		r.sendRspCode(RespCodeInvalidParameter)
		return
	}

	r.mu.Lock()
	if r.hasActiveBuf {
		r.mu.Unlock()
		r.sendRspCode(RespCodeServerBusy)
		return
	}
	r.mu.Unlock()

	if !r.pool.ReadyCheck(r.conn, cmd.RangingCounter) {
		r.sendRspCode(RespCodeNoRecordsFound)
		return
	}

	handle, err := r.pool.Claim(r.conn, cmd.RangingCounter)
	if err != nil {
		r.sendRspCode(RespCodeNoRecordsFound)
		return
	}

	r.sendRspCode(RespCodeSuccess)

	r.mu.Lock()
	r.activeBuf = handle
	r.hasActiveBuf = true
	r.segmentCounter = 0
	r.state = RrspStreaming
	r.mu.Unlock()

	r.wq.submit(r.streamStep)
}

func (r *RrspCore) handleAckRD(cmd RASCPCommand) {
	if !cmd.HasCounter {
		r.sendRspCode(RespCodeInvalidParameter)
		return
	}

	r.mu.Lock()
	if !r.hasActiveBuf || r.activeBuf.RangingCounter() != cmd.RangingCounter {
		r.mu.Unlock()
		r.sendRspCode(RespCodeNoRecordsFound)
		return
	}
	handle := r.activeBuf
	r.stopAckTimerLocked()
	r.hasActiveBuf = false
	r.state = RrspIdle
	r.mu.Unlock()

	r.pool.Ack(handle)
	r.pool.Release(handle)
	r.sendRspCode(RespCodeSuccess)
}

func (r *RrspCore) sendRspCode(code uint8) {
	_ = r.peer.Indicate(CharUUIDRASCP, EncodeRspCode(code), nil)
}

// streamStep runs one iteration of the segmented streamer (spec §4.4): pull
// up to max_data_len bytes, send, and either reschedule (via the sent
// callback) or transition to AwaitingAck when the last segment goes out.
func (r *RrspCore) streamStep() {
	r.mu.Lock()
	if r.state != RrspStreaming || !r.hasActiveBuf {
		r.mu.Unlock()
		return
	}
	handle := r.activeBuf
	segCounter := r.segmentCounter
	r.mu.Unlock()

	maxDataLen := r.peer.MTU() - 4 - 1
	if maxDataLen < 0 {
		maxDataLen = 0
	}

	first := r.pulledSoFarIsZero(handle)

	payload := make([]byte, maxDataLen)
	n := r.pool.Pull(handle, payload)
	payload = payload[:n]
	last := n < maxDataLen

	seg := SegmentHeader{FirstSeg: first, LastSeg: last, SegCounter: segCounter & 0x3F}
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, seg.Marshal())
	frame = append(frame, payload...)

	sendErr := r.send(handle, frame)
	if sendErr != nil {
		r.pool.Rewind(handle, n)
		r.wq.submit(r.streamStep)
		return
	}

	r.mu.Lock()
	r.segmentCounter = segmentCounterNext(r.segmentCounter)
	r.mu.Unlock()

	if last {
		r.finishStreaming(handle)
	}
	// A successful send re-schedules the streamer from the notify/indicate
	// "sent" callback (see send below), not from here directly.
}

func (r *RrspCore) pulledSoFarIsZero(h BufferHandle) bool {
	return h.buf.readCursor == 0
}

// send transmits one segment via notification if the peer subscribed for
// notify, otherwise via indication, per spec §4.4 step 4.
func (r *RrspCore) send(handle BufferHandle, frame []byte) error {
	if r.peer.Subscribed(CharUUIDOndemandRD, SubNotify) {
		err := r.peer.Notify(CharUUIDOndemandRD, frame)
		if err == nil {
			r.wq.submit(r.streamStep)
		}
		return err
	}
	if r.peer.Subscribed(CharUUIDOndemandRD, SubIndicate) {
		return r.peer.Indicate(CharUUIDOndemandRD, frame, func(err error) {
			if err == nil {
				r.wq.submit(r.streamStep)
			}
		})
	}
	return ErrNotSubscribed
}

func (r *RrspCore) finishStreaming(handle BufferHandle) {
	r.mu.Lock()
	r.state = RrspAwaitingAck
	r.startAckTimerLocked()
	r.mu.Unlock()

	_ = r.peer.Indicate(CharUUIDRASCP, EncodeCompleteRD(handle.RangingCounter()), nil)
}

func (r *RrspCore) startAckTimerLocked() {
	r.stopAckTimerLocked()
	timeout := r.cfg.AckTimeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	r.ackTimer = time.AfterFunc(timeout, r.onAckTimeout)
}

func (r *RrspCore) stopAckTimerLocked() {
	if r.ackTimer != nil {
		r.ackTimer.Stop()
		r.ackTimer = nil
	}
}

// onAckTimeout implements the RAS-CP response timeout scaffolded but left
// empty by the source (spec §4.4/§9): release the buffer and return to
// Idle.
func (r *RrspCore) onAckTimeout() {
	r.mu.Lock()
	if r.state != RrspAwaitingAck {
		r.mu.Unlock()
		return
	}
	handle := r.activeBuf
	hadBuf := r.hasActiveBuf
	r.hasActiveBuf = false
	r.state = RrspIdle
	r.ackTimer = nil
	r.mu.Unlock()

	if hadBuf {
		r.log.WithField("counter", handle.RangingCounter()).
			Warn("ras: RAS-CP ack timed out, abandoning session")
		r.pool.Release(handle)
	}
}

// onBufferReady is the pool's on_ready callback (spec §4.4's ready/
// overwritten notification pipeline). A single pending slot per kind is
// kept: a newer counter overwrites an older, unsent one.
func (r *RrspCore) onBufferReady(counter uint16) {
	r.mu.Lock()
	r.notifyReadyPending = true
	r.pendingReadyCounter = counter
	r.mu.Unlock()
	r.wq.submit(r.sendPendingStatus)
}

func (r *RrspCore) onBufferOverwritten(counter uint16) {
	r.mu.Lock()
	r.notifyOverwrittenPending = true
	r.pendingOverwrittenCounter = counter
	r.mu.Unlock()
	r.wq.submit(r.sendPendingStatus)
}

func (r *RrspCore) sendPendingStatus() {
	r.mu.Lock()
	sendReady, readyCounter := r.notifyReadyPending, r.pendingReadyCounter
	r.notifyReadyPending = false
	sendOverwritten, overwrittenCounter := r.notifyOverwrittenPending, r.pendingOverwrittenCounter
	r.notifyOverwrittenPending = false
	r.mu.Unlock()

	if sendReady {
		r.notifyOrIndicateStatus(CharUUIDRDReady, readyCounter)
	}
	if sendOverwritten {
		r.notifyOrIndicateStatus(CharUUIDRDOverwritten, overwrittenCounter)
	}
}

func (r *RrspCore) notifyOrIndicateStatus(charUUID uuid.UUID, counter uint16) {
	payload := []byte{byte(counter), byte(counter >> 8)}
	if r.peer.Subscribed(charUUID, SubNotify) {
		_ = r.peer.Notify(charUUID, payload)
		return
	}
	if r.peer.Subscribed(charUUID, SubIndicate) {
		_ = r.peer.Indicate(charUUID, payload, nil)
	}
}
