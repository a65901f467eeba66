package ras

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// RreqState is the per-connection RREQ session state (spec §4.5).
type RreqState int

const (
	RreqIdle RreqState = iota
	RreqAwaitingComplete
	RreqReceiving
)

func (s RreqState) String() string {
	switch s {
	case RreqIdle:
		return "Idle"
	case RreqAwaitingComplete:
		return "AwaitingComplete"
	case RreqReceiving:
		return "Receiving"
	default:
		return "Unknown"
	}
}

// RangingDataResult is delivered to a GetRangingData completion callback
// exactly once per call (spec §4.5): either the reassembled flat image, or
// a non-nil Err describing why the procedure did not complete.
type RangingDataResult struct {
	RangingCounter uint16
	Data           []byte
	Err            error
}

// rreqCPState tracks the RAS-CP write/response handshake independently of
// the on-demand-RD segment reassembly state, mirroring the teacher's
// bt_ras_rreq_cp_state (ras_rreq.c): a GET_RD write and its eventual ACK_RD
// write each get their own RSP_CODE, and only the ACK_RD one finalizes the
// get.
type rreqCPState int

const (
	cpNone rreqCPState = iota
	cpGetRDWritten
	cpAckRDWritten
)

// RreqCore is a per-connection RREQ instance: it drives GET_RD/ACK_RD over
// the control point and reassembles the segmented On-demand RD stream
// (spec §4.5).
type RreqCore struct {
	conn ConnID
	peer GattPeer
	log  logrus.FieldLogger
	wq   *workQueue

	mu                  sync.Mutex
	state               RreqState
	cpState             rreqCPState
	counter             uint16
	nextSegCounter      uint8
	assembled           []byte
	lastSegmentReceived bool
	callback            func(RangingDataResult)
}

// NewRreqCore creates an RREQ instance bound to conn, consuming RD from
// peer.
func NewRreqCore(conn ConnID, peer GattPeer, log logrus.FieldLogger) *RreqCore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RreqCore{conn: conn, peer: peer, log: log, wq: newWorkQueue(8)}
}

// Close tears down the connection's work queue (spec §5: disconnect
// cancels all per-connection work items).
func (c *RreqCore) Close() {
	c.wq.stop()
}

// State returns the current RREQ session state.
func (c *RreqCore) State() RreqState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetRangingData issues GET_RD for counter and arranges for cb to be
// invoked exactly once — when the server answers the ACK_RD sent after
// COMPLETE_RD, on an RSP_CODE rejecting the GET_RD, on a reassembly error,
// or if the data is overwritten before the get finishes (spec §4.5).
func (c *RreqCore) GetRangingData(counter uint16, cb func(RangingDataResult)) error {
	c.mu.Lock()
	if c.state != RreqIdle {
		c.mu.Unlock()
		return ErrGetInProgress
	}
	c.state = RreqAwaitingComplete
	c.counter = counter
	c.nextSegCounter = 0
	c.assembled = nil
	c.lastSegmentReceived = false
	c.callback = cb
	c.mu.Unlock()

	if err := c.peer.WriteWithoutResponse(CharUUIDRASCP, EncodeGetRD(counter)); err != nil {
		c.mu.Lock()
		c.state = RreqIdle
		c.callback = nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.cpState = cpGetRDWritten
	c.mu.Unlock()
	return nil
}

// HandleRASCPIndication handles an indication on the RAS-CP characteristic
// (spec §4.5: COMPLETE_RD triggers the ACK handshake, RSP_CODE reports
// either GET_RD rejection or the ACK_RD confirmation).
func (c *RreqCore) HandleRASCPIndication(payload []byte) {
	buf := append([]byte(nil), payload...)
	c.wq.submit(func() { c.handleRASCPIndicationWork(buf) })
}

func (c *RreqCore) handleRASCPIndicationWork(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case RespOpcodeCompleteRD:
		c.handleCompleteRD(payload[1:])
	case RespOpcodeRspCode:
		if len(payload) < 2 {
			return
		}
		c.handleRspCode(payload[1])
	}
}

// handleCompleteRD receives the server's COMPLETE_RD indication. It does not
// finalize the get itself — the completion callback fires only once the
// ACK_RD write this sends gets its own RSP_CODE back, per
// ras_rreq.c:210-226/183-191 (ack_ranging_data / BT_RAS_RREQ_CP_STATE_ACK_RD_WRITTEN).
func (c *RreqCore) handleCompleteRD(body []byte) {
	if len(body) != 2 {
		return
	}
	counter := uint16(body[0]) | uint16(body[1])<<8

	c.mu.Lock()
	if c.state != RreqAwaitingComplete && c.state != RreqReceiving {
		c.mu.Unlock()
		return
	}
	if counter != c.counter {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.peer.WriteWithoutResponse(CharUUIDRASCP, EncodeAckRD(counter)); err != nil {
		c.failGet(ErrInvalidParameter)
		return
	}

	c.mu.Lock()
	c.cpState = cpAckRDWritten
	c.mu.Unlock()
}

// handleRspCode routes a RAS-CP RSP_CODE indication by which write it
// answers (spec §4.5 / ras_rreq.c:153-197 handle_rsp_code): a GET_RD
// rejection aborts the get immediately, while an ACK_RD response — success
// or not — finalizes it using the accumulated segment-receive state.
func (c *RreqCore) handleRspCode(code uint8) {
	c.mu.Lock()
	switch c.cpState {
	case cpGetRDWritten:
		c.cpState = cpNone
		if code != RespCodeSuccess {
			c.mu.Unlock()
			c.failGet(rspCodeError(code))
			return
		}
		c.mu.Unlock()
	case cpAckRDWritten:
		c.cpState = cpNone
		c.mu.Unlock()
		c.finishGet()
	default:
		c.mu.Unlock()
	}
}

// finishGet concludes a get that has completed its ACK_RD handshake,
// reporting EINVAL when the last segment was never received (spec §4.5/§7,
// ras_rreq.c:85-96 data_receive_finished).
func (c *RreqCore) finishGet() {
	c.mu.Lock()
	if c.state == RreqIdle {
		c.mu.Unlock()
		return
	}
	cb := c.callback
	counter := c.counter
	data := c.assembled
	var err error
	if !c.lastSegmentReceived {
		err = ErrInvalidParameter
	}
	c.state = RreqIdle
	c.callback = nil
	c.mu.Unlock()

	if cb != nil {
		if err != nil {
			cb(RangingDataResult{RangingCounter: counter, Err: err})
		} else {
			cb(RangingDataResult{RangingCounter: counter, Data: data})
		}
	}
}

func rspCodeError(code uint8) error {
	switch code {
	case RespCodeOpcodeNotSupported:
		return ErrOpcodeNotSupported
	case RespCodeInvalidParameter:
		return ErrInvalidParameter
	case RespCodeProcedureNotCompleted:
		return ErrProcedureNotCompleted
	case RespCodeServerBusy:
		return ErrServerBusy
	case RespCodeNoRecordsFound:
		return ErrNoRecordsFound
	default:
		return ErrInvalidParameter
	}
}

// HandleOndemandRD handles one notification/indication on the On-demand RD
// characteristic (spec §4.5's segment reassembly). confirm, if non-nil,
// must be called once this segment has been processed (indication flow
// control).
func (c *RreqCore) HandleOndemandRD(payload []byte, confirm func()) {
	buf := append([]byte(nil), payload...)
	c.wq.submit(func() {
		c.handleOndemandRDWork(buf)
		if confirm != nil {
			confirm()
		}
	})
}

func (c *RreqCore) handleOndemandRDWork(payload []byte) {
	if len(payload) == 0 {
		return
	}
	seg := DecodeSegmentHeader(payload[0])
	body := payload[1:]

	c.mu.Lock()
	if c.state != RreqAwaitingComplete && c.state != RreqReceiving {
		c.mu.Unlock()
		return
	}

	if seg.FirstSeg {
		if c.state != RreqAwaitingComplete {
			c.mu.Unlock()
			c.failGet(ErrInvalidParameter)
			return
		}
		if seg.SegCounter != 0 {
			c.mu.Unlock()
			c.log.WithField("got", seg.SegCounter).
				Warn("ras: RREQ first segment carried a non-zero rolling counter, aborting get")
			c.failGet(ErrInvalidParameter)
			return
		}
		c.state = RreqReceiving
		c.assembled = nil
		c.nextSegCounter = 0
	}

	if seg.SegCounter != c.nextSegCounter {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{
			"want": c.nextSegCounter, "got": seg.SegCounter,
		}).Warn("ras: RREQ segment counter out of order, aborting get")
		c.failGet(ErrInvalidParameter)
		return
	}

	c.assembled = append(c.assembled, body...)
	c.nextSegCounter = segmentCounterNext(c.nextSegCounter)
	if seg.LastSeg {
		c.lastSegmentReceived = true
	}
	c.mu.Unlock()
}

// failGet aborts an in-progress GetRangingData with err, invoking the
// callback exactly once.
func (c *RreqCore) failGet(err error) {
	c.mu.Lock()
	if c.state == RreqIdle {
		c.mu.Unlock()
		return
	}
	cb := c.callback
	counter := c.counter
	c.state = RreqIdle
	c.cpState = cpNone
	c.callback = nil
	c.mu.Unlock()

	if cb != nil {
		cb(RangingDataResult{RangingCounter: counter, Err: err})
	}
}

// HandleRDOverwritten handles a notification/indication on the
// RD-overwritten characteristic. If it names the procedure currently being
// fetched, the in-progress get is failed immediately (spec §4.5: the
// server will not complete a get for data it has discarded).
func (c *RreqCore) HandleRDOverwritten(payload []byte) {
	if len(payload) != 2 {
		return
	}
	counter := uint16(payload[0]) | uint16(payload[1])<<8
	c.wq.submit(func() {
		c.mu.Lock()
		active := c.state != RreqIdle && c.counter == counter
		c.mu.Unlock()
		if active {
			c.failGet(ErrNoRecordsFound)
		}
	})
}
