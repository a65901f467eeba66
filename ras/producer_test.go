package ras

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testProducer(cfg PoolConfig) (*ProducerIngest, *RdBufferPool) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	pool := NewRdBufferPool(cfg, log)
	return NewProducerIngest(pool, log), pool
}

func TestOnSubeventAssemblesAndMarksReady(t *testing.T) {
	pi, pool := testProducer(smallCfg())
	conn := "conn-a"

	var ready []uint16
	pool.RegisterCallbacks(BufferPoolCallbacks{
		OnReady: func(c ConnID, counter uint16) { ready = append(ready, counter) },
	})

	pi.OnSubevent(conn, SubeventResult{
		ProcedureCounter:  5,
		ConfigID:          1,
		NumStepsReported:  2,
		RangingDoneStatus: DoneStatusComplete,
		Steps: []StepRecord{
			{Mode: 1, Data: []byte{0x10, 0x11}},
			{Mode: 2, Data: []byte{0x20}},
		},
	})

	if len(ready) != 1 || ready[0] != 5 {
		t.Fatalf("on_ready fired for %v, want [5]", ready)
	}
	if !pool.ReadyCheck(conn, 5) {
		t.Fatal("procedure counter 5 should be ready after a Complete subevent")
	}

	h, err := pool.Claim(conn, 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	flat := make([]byte, 64)
	n := pool.Pull(h, flat)
	flat = flat[:n]

	hdr, hn, err := DecodeRangingHeader(flat)
	if err != nil {
		t.Fatalf("DecodeRangingHeader: %v", err)
	}
	if hdr.RangingCounter != 5 || hdr.ConfigID != 1 {
		t.Errorf("header = %+v, want RangingCounter=5 ConfigID=1", hdr)
	}

	sub, sn, err := DecodeSubeventHeader(flat[hn:])
	if err != nil {
		t.Fatalf("DecodeSubeventHeader: %v", err)
	}
	if sub.NumStepsReported != 2 {
		t.Errorf("NumStepsReported = %d, want 2", sub.NumStepsReported)
	}

	stepsStart := hn + sn
	if flat[stepsStart] != 1 || flat[stepsStart+1] != 0x10 || flat[stepsStart+2] != 0x11 {
		t.Errorf("first step bytes = %v, want mode=1 data=[0x10 0x11]", flat[stepsStart:stepsStart+3])
	}
	if flat[stepsStart+3] != 2 || flat[stepsStart+4] != 0x20 {
		t.Errorf("second step bytes = %v, want mode=2 data=[0x20]", flat[stepsStart+3:stepsStart+5])
	}
}

func TestOnSubeventAbortDiscardsBuffer(t *testing.T) {
	pi, pool := testProducer(smallCfg())
	conn := "conn-a"

	pi.OnSubevent(conn, SubeventResult{
		ProcedureCounter:  9,
		RangingDoneStatus: DoneStatusAborted,
	})

	if pool.ReadyCheck(conn, 9) {
		t.Error("an aborted procedure must never become ready")
	}
	stats := pool.Stats()
	if stats.PerConn[conn] != 0 {
		t.Errorf("PerConn[conn] = %d, want 0 after abort frees the buffer", stats.PerConn[conn])
	}
}

func TestOnSubeventUsesHeaderDefaultsOnlyOnFirstSubevent(t *testing.T) {
	pi, pool := testProducer(smallCfg())
	conn := "conn-a"
	pi.SetRangingHeaderDefaults(conn, -5, 3)

	pi.OnSubevent(conn, SubeventResult{
		ProcedureCounter: 1, ConfigID: 0, RangingDoneStatus: DoneStatusOngoing,
	})
	pi.SetRangingHeaderDefaults(conn, 7, 9) // must not affect the header already written
	pi.OnSubevent(conn, SubeventResult{
		ProcedureCounter: 1, ConfigID: 0, RangingDoneStatus: DoneStatusComplete,
	})

	h, err := pool.Claim(conn, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	flat := make([]byte, RangingHeaderLen)
	pool.Pull(h, flat)
	hdr, _, err := DecodeRangingHeader(flat)
	if err != nil {
		t.Fatalf("DecodeRangingHeader: %v", err)
	}
	if hdr.SelectedTxPower != -5 || hdr.AntennaPathsMask != 3 {
		t.Errorf("header = %+v, want SelectedTxPower=-5 AntennaPathsMask=3", hdr)
	}
}

func TestHeaderDefaultsFallBackToSourceHardcode(t *testing.T) {
	pi, _ := testProducer(smallCfg())
	d := pi.headerDefaultsFor("unset-conn")
	if d.txPower != 0 || d.antennaPaths != 1 {
		t.Errorf("defaults = %+v, want txPower=0 antennaPaths=1", d)
	}
}
