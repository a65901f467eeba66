package ras

import (
	"testing"
	"time"
)

func recvWrite(t *testing.T, ch chan fakeSend) fakeSend {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return fakeSend{}
	}
}

func TestRreqCoreGetRangingDataHappyPath(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	if err := core.GetRangingData(7, func(r RangingDataResult) { result <- r }); err != nil {
		t.Fatalf("GetRangingData: %v", err)
	}

	w := recvWrite(t, peer.wrote)
	if !w.charUUID.Equal(CharUUIDRASCP) ||w.data[0] != OpcodeGetRD {
		t.Fatalf("write = %+v, want GET_RD on RAS-CP", w)
	}

	core.HandleRASCPIndication(EncodeRspCode(RespCodeSuccess)) // GET_RD accepted

	hdr := RangingHeader{RangingCounter: 7, ConfigID: 2, SelectedTxPower: -3, AntennaPathsMask: 1}
	flat := hdr.Marshal()
	seg := SegmentHeader{FirstSeg: true, LastSeg: true, SegCounter: 0}
	frame := append([]byte{seg.Marshal()}, flat...)
	core.HandleOndemandRD(frame, nil)
	core.HandleRASCPIndication(EncodeCompleteRD(7))

	ack := recvWrite(t, peer.wrote)
	if !ack.charUUID.Equal(CharUUIDRASCP) ||ack.data[0] != OpcodeAckRD {
		t.Fatalf("write = %+v, want ACK_RD on RAS-CP", ack)
	}

	select {
	case r := <-result:
		t.Fatalf("completion callback fired before the ACK_RD response, result = %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	core.HandleRASCPIndication(EncodeRspCode(RespCodeSuccess)) // ACK_RD acknowledged

	select {
	case r := <-result:
		if r.Err != nil {
			t.Fatalf("result.Err = %v, want nil", r.Err)
		}
		if r.RangingCounter != 7 {
			t.Errorf("RangingCounter = %d, want 7", r.RangingCounter)
		}
		if len(r.Data) != len(flat) {
			t.Errorf("Data = %v, want %v", r.Data, flat)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the completion callback")
	}

	deadline := time.Now().Add(time.Second)
	for core.State() != RreqIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if core.State() != RreqIdle {
		t.Errorf("state = %v, want Idle", core.State())
	}
}

func TestRreqCoreMultiSegmentReassembly(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)

	seg0 := SegmentHeader{FirstSeg: true, LastSeg: false, SegCounter: 0}
	seg1 := SegmentHeader{FirstSeg: false, LastSeg: true, SegCounter: 1}
	core.HandleOndemandRD(append([]byte{seg0.Marshal()}, []byte{1, 2, 3}...), nil)
	core.HandleOndemandRD(append([]byte{seg1.Marshal()}, []byte{4, 5}...), nil)
	core.HandleRASCPIndication(EncodeCompleteRD(3))
	recvWrite(t, peer.wrote) // ACK_RD
	core.HandleRASCPIndication(EncodeRspCode(RespCodeSuccess))

	select {
	case r := <-result:
		want := []byte{1, 2, 3, 4, 5}
		if len(r.Data) != len(want) {
			t.Fatalf("Data = %v, want %v", r.Data, want)
		}
		for i := range want {
			if r.Data[i] != want[i] {
				t.Fatalf("Data = %v, want %v", r.Data, want)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the completion callback")
	}
}

func TestRreqCoreOutOfOrderSegmentAbortsGet(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)

	seg0 := SegmentHeader{FirstSeg: true, LastSeg: false, SegCounter: 0}
	badSeg := SegmentHeader{FirstSeg: false, LastSeg: true, SegCounter: 5} // should have been 1
	core.HandleOndemandRD(append([]byte{seg0.Marshal()}, []byte{1, 2}...), nil)
	core.HandleOndemandRD(append([]byte{badSeg.Marshal()}, []byte{3, 4}...), nil)

	select {
	case r := <-result:
		if r.Err != ErrInvalidParameter {
			t.Errorf("Err = %v, want ErrInvalidParameter", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the abort callback")
	}
	if core.State() != RreqIdle {
		t.Errorf("state = %v, want Idle after abort", core.State())
	}
}

func TestRreqCoreFirstSegmentWithNonzeroCounterAbortsGet(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)

	badFirst := SegmentHeader{FirstSeg: true, LastSeg: true, SegCounter: 4}
	core.HandleOndemandRD(append([]byte{badFirst.Marshal()}, []byte{1, 2}...), nil)

	select {
	case r := <-result:
		if r.Err != ErrInvalidParameter {
			t.Errorf("Err = %v, want ErrInvalidParameter", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the abort callback")
	}
	if core.State() != RreqIdle {
		t.Errorf("state = %v, want Idle after abort", core.State())
	}
}

// TestRreqCoreCompleteRDWithMissingLastSegmentReturnsInvalidParameter covers
// a truncated on-demand stream: COMPLETE_RD arrives (and is ACK'd) without
// the final segment ever having been received, which must surface as
// ErrInvalidParameter rather than a silently-partial success (spec §4.5/§7;
// ras_rreq.c:85-96 data_receive_finished).
func TestRreqCoreCompleteRDWithMissingLastSegmentReturnsInvalidParameter(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)
	core.HandleRASCPIndication(EncodeRspCode(RespCodeSuccess))

	seg0 := SegmentHeader{FirstSeg: true, LastSeg: false, SegCounter: 0}
	core.HandleOndemandRD(append([]byte{seg0.Marshal()}, []byte{1, 2, 3}...), nil)

	core.HandleRASCPIndication(EncodeCompleteRD(3))
	recvWrite(t, peer.wrote) // ACK_RD, written even though the stream was truncated
	core.HandleRASCPIndication(EncodeRspCode(RespCodeSuccess))

	select {
	case r := <-result:
		if r.Err != ErrInvalidParameter {
			t.Errorf("Err = %v, want ErrInvalidParameter", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the completion callback")
	}
	if core.State() != RreqIdle {
		t.Errorf("state = %v, want Idle", core.State())
	}
}

func TestRreqCoreRspCodeErrorFailsGet(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)

	core.HandleRASCPIndication(EncodeRspCode(RespCodeNoRecordsFound))

	select {
	case r := <-result:
		if r.Err != ErrNoRecordsFound {
			t.Errorf("Err = %v, want ErrNoRecordsFound", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the rejection callback")
	}
}

func TestRreqCoreOverwrittenDuringGetFailsImmediately(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	result := make(chan RangingDataResult, 1)
	core.GetRangingData(3, func(r RangingDataResult) { result <- r })
	recvWrite(t, peer.wrote)

	overwritten := []byte{3, 0}
	core.HandleRDOverwritten(overwritten)

	select {
	case r := <-result:
		if r.Err != ErrNoRecordsFound {
			t.Errorf("Err = %v, want ErrNoRecordsFound", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the overwritten callback")
	}
}

func TestRreqCoreRejectsConcurrentGet(t *testing.T) {
	peer := newFakePeer(247)
	core := NewRreqCore("conn-a", peer, testLog())
	defer core.Close()

	if err := core.GetRangingData(1, func(RangingDataResult) {}); err != nil {
		t.Fatalf("first GetRangingData: %v", err)
	}
	if err := core.GetRangingData(2, func(RangingDataResult) {}); err != ErrGetInProgress {
		t.Errorf("second GetRangingData = %v, want ErrGetInProgress", err)
	}
}
