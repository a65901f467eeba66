package ras

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// StepRecord is one CS step as delivered by the controller's step-data
// parser: a mode byte followed by 0..MaxStepDataLen data bytes. channel is
// carried only as a diagnostic field (SPEC_FULL.md §4.4's open-question
// note) — it is not part of the wire format.
type StepRecord struct {
	Mode    uint8
	Channel uint8
	Data    []byte
}

// SubeventResult is what the local controller delivers per CS subevent
// (spec §4.3). ProducerIngest reassembles a stream of these into a
// buffered procedure.
type SubeventResult struct {
	ProcedureCounter    uint16
	ConfigID            uint8
	StartACLConnEvent   uint16
	FreqCompensation    int16
	RangingDoneStatus   uint8
	SubeventDoneStatus  uint8
	RangingAbortReason  uint8
	SubeventAbortReason uint8
	RefPowerLevel       int8
	NumStepsReported    uint8
	Steps               []StepRecord
}

// headerDefaults holds the per-connection selected_tx_power /
// antenna_paths_mask values applied to the RangingHeader of the next buffer
// opened for that connection (SPEC_FULL.md §4.4 open-question resolution).
type headerDefaults struct {
	txPower      int8
	antennaPaths uint8
}

// ProducerIngest receives CS subevent results from the controller and
// reassembles them into RdBufferPool buffers (spec §4.3). It performs no
// allocation beyond the pool and never blocks.
type ProducerIngest struct {
	pool *RdBufferPool
	log  logrus.FieldLogger

	mu       sync.Mutex
	defaults map[ConnID]headerDefaults
}

// NewProducerIngest wraps pool with the subevent-reassembly algorithm.
func NewProducerIngest(pool *RdBufferPool, log logrus.FieldLogger) *ProducerIngest {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ProducerIngest{pool: pool, log: log, defaults: make(map[ConnID]headerDefaults)}
}

// SetRangingHeaderDefaults records the tx-power/antenna-mask values to use
// for ranging headers of procedures ingested for conn from now on. The
// source hard-codes selected_tx_power=0, antenna_paths_mask=1; callers that
// don't know better values can simply not call this.
func (pi *ProducerIngest) SetRangingHeaderDefaults(conn ConnID, txPower int8, antennaPathsMask uint8) {
	pi.mu.Lock()
	pi.defaults[conn] = headerDefaults{txPower: txPower, antennaPaths: antennaPathsMask}
	pi.mu.Unlock()
}

func (pi *ProducerIngest) headerDefaultsFor(conn ConnID) headerDefaults {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if d, ok := pi.defaults[conn]; ok {
		return d
	}
	return headerDefaults{txPower: 0, antennaPaths: 1}
}

// OnSubevent implements the spec §4.3 algorithm. It is the boundary
// operation named on_subevent(conn, result) in spec §6.
func (pi *ProducerIngest) OnSubevent(conn ConnID, result SubeventResult) {
	buf, err := pi.pool.OpenForWrite(conn, result.ProcedureCounter)
	if err != nil {
		pi.log.WithError(err).WithField("counter", result.ProcedureCounter).
			Error("ras: dropping procedure, no buffer available")
		return
	}

	if buf.writeCursor == 0 {
		d := pi.headerDefaultsFor(conn)
		buf.setHeader(RangingHeader{
			RangingCounter:   result.ProcedureCounter,
			ConfigID:         result.ConfigID,
			SelectedTxPower:  d.txPower,
			AntennaPathsMask: d.antennaPaths,
		})
	}

	hdr := SubeventHeader{
		StartACLConnEvent:   result.StartACLConnEvent,
		FreqCompensation:    result.FreqCompensation,
		RangingDoneStatus:   result.RangingDoneStatus,
		SubeventDoneStatus:  result.SubeventDoneStatus,
		RangingAbortReason:  result.RangingAbortReason,
		SubeventAbortReason: result.SubeventAbortReason,
		RefPowerLevel:       result.RefPowerLevel,
		NumStepsReported:    result.NumStepsReported,
	}
	region := buf.storage[RangingHeaderLen:]
	n := copy(region[buf.writeCursor:], hdr.Marshal())
	buf.writeCursor += n

	for _, step := range result.Steps {
		region[buf.writeCursor] = step.Mode
		buf.writeCursor += StepModeLen
		buf.writeCursor += copy(region[buf.writeCursor:], step.Data)
	}

	switch result.RangingDoneStatus {
	case DoneStatusComplete:
		pi.pool.MarkReady(buf)
	case DoneStatusAborted:
		pi.pool.Abort(buf)
	}
}
