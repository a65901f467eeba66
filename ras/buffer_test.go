package ras

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testPool(cfg PoolConfig) *RdBufferPool {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewRdBufferPool(cfg, log)
}

func smallCfg() PoolConfig {
	return PoolConfig{MaxActiveConnections: 2, BuffersPerConn: 2, MaxSubevents: 2, MaxSteps: 4}
}

func TestOpenForWriteReusesBusyBuffer(t *testing.T) {
	p := testPool(smallCfg())
	conn := "conn-a"

	b1, err := p.OpenForWrite(conn, 1)
	if err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	b2, err := p.OpenForWrite(conn, 1)
	if err != nil {
		t.Fatalf("OpenForWrite (same counter again): %v", err)
	}
	if b1 != b2 {
		t.Error("OpenForWrite with the same (conn, counter) while busy should return the same buffer")
	}
}

func TestReadyCheckAndClaim(t *testing.T) {
	p := testPool(smallCfg())
	conn := "conn-a"

	if p.ReadyCheck(conn, 1) {
		t.Error("ReadyCheck should be false before any buffer is marked ready")
	}

	buf, _ := p.OpenForWrite(conn, 1)
	if p.ReadyCheck(conn, 1) {
		t.Error("ReadyCheck should be false while the buffer is still busy")
	}

	p.MarkReady(buf)
	if !p.ReadyCheck(conn, 1) {
		t.Error("ReadyCheck should be true once the buffer is ready")
	}

	h, err := p.Claim(conn, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.RangingCounter() != 1 {
		t.Errorf("RangingCounter() = %d, want 1", h.RangingCounter())
	}
}

func TestAckMakesBufferInvisible(t *testing.T) {
	// REDESIGN decision (spec §8/§9): an ACKed buffer is immediately
	// invisible to ReadyCheck/Claim, so a GET_RD replay for it always
	// reports NO_RECORDS_FOUND rather than re-streaming stale data.
	p := testPool(smallCfg())
	conn := "conn-a"

	buf, _ := p.OpenForWrite(conn, 1)
	p.MarkReady(buf)
	h, _ := p.Claim(conn, 1)
	p.Ack(h)

	if p.ReadyCheck(conn, 1) {
		t.Error("ReadyCheck should be false for an ACKed buffer")
	}
	if _, err := p.Claim(conn, 1); err != ErrNotReady {
		t.Errorf("Claim on an ACKed buffer = %v, want ErrNotReady", err)
	}
}

func TestOpenForWriteEvictsOldestReadyUnackedBuffer(t *testing.T) {
	cfg := smallCfg() // BuffersPerConn = 2
	p := testPool(cfg)
	conn := "conn-a"

	var overwritten []uint16
	p.RegisterCallbacks(BufferPoolCallbacks{
		OnOverwritten: func(c ConnID, counter uint16) { overwritten = append(overwritten, counter) },
	})

	b1, _ := p.OpenForWrite(conn, 1)
	p.MarkReady(b1)
	b2, _ := p.OpenForWrite(conn, 2)
	p.MarkReady(b2)

	// Both slots for this connection are now ready and unclaimed; a third
	// procedure must evict the oldest (counter 1).
	b3, err := p.OpenForWrite(conn, 3)
	if err != nil {
		t.Fatalf("OpenForWrite (eviction): %v", err)
	}
	if b3.rangingCounter != 3 {
		t.Errorf("evicted slot's new counter = %d, want 3", b3.rangingCounter)
	}
	if len(overwritten) != 1 || overwritten[0] != 1 {
		t.Errorf("overwritten callback fired for %v, want [1]", overwritten)
	}
	if p.ReadyCheck(conn, 1) {
		t.Error("counter 1 should no longer be ready after eviction")
	}
	if !p.ReadyCheck(conn, 2) {
		t.Error("counter 2 should still be ready, it was not evicted")
	}
}

func TestOpenForWriteDoesNotEvictAckedBufferNotification(t *testing.T) {
	cfg := smallCfg()
	p := testPool(cfg)
	conn := "conn-a"

	var overwritten []uint16
	p.RegisterCallbacks(BufferPoolCallbacks{
		OnOverwritten: func(c ConnID, counter uint16) { overwritten = append(overwritten, counter) },
	})

	b1, _ := p.OpenForWrite(conn, 1)
	p.MarkReady(b1)
	h, _ := p.Claim(conn, 1)
	p.Ack(h)
	p.Release(h)

	b2, _ := p.OpenForWrite(conn, 2)
	p.MarkReady(b2)

	if _, err := p.OpenForWrite(conn, 3); err != nil {
		t.Fatalf("OpenForWrite (eviction of acked buffer): %v", err)
	}
	if len(overwritten) != 0 {
		t.Errorf("overwritten callback should not fire for an already-ACKed buffer, got %v", overwritten)
	}
}

func TestOpenForWritePoolExhausted(t *testing.T) {
	cfg := PoolConfig{MaxActiveConnections: 1, BuffersPerConn: 1, MaxSubevents: 2, MaxSteps: 4}
	p := testPool(cfg)
	conn := "conn-a"

	buf, _ := p.OpenForWrite(conn, 1)
	p.MarkReady(buf)
	h, _ := p.Claim(conn, 1) // refcount > 0, so this buffer is not evictable

	if _, err := p.OpenForWrite(conn, 2); err != ErrPoolExhausted {
		t.Errorf("OpenForWrite with a claimed, unevictable buffer = %v, want ErrPoolExhausted", err)
	}
	p.Release(h)
}

func TestPullAndRewind(t *testing.T) {
	p := testPool(smallCfg())
	conn := "conn-a"

	buf, _ := p.OpenForWrite(conn, 1)
	copy(buf.storage, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	buf.writeCursor = 6
	copy(buf.storage[RangingHeaderLen:], []byte{1, 2, 3, 4, 5, 6})
	p.MarkReady(buf)
	h, _ := p.Claim(conn, 1)

	out := make([]byte, 5)
	n := p.Pull(h, out)
	if n != 5 {
		t.Fatalf("Pull() = %d, want 5", n)
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 1}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %#x, want %#x", i, out[i], want[i])
		}
	}

	p.Rewind(h, 2)
	out2 := make([]byte, 5)
	n = p.Pull(h, out2)
	if n != 5 {
		t.Fatalf("Pull() after rewind = %d, want 5", n)
	}
	if out2[0] != 0xDD {
		t.Errorf("out2[0] = %#x, want 0xDD (rewound 2 bytes)", out2[0])
	}

	rest := make([]byte, 10)
	n = p.Pull(h, rest)
	if n != 2 {
		t.Fatalf("final Pull() = %d, want 2 remaining bytes", n)
	}
	if n2 := p.Pull(h, rest); n2 != 0 {
		t.Errorf("Pull() past the end = %d, want 0", n2)
	}
}

func TestOnConnectionLostFreesBuffers(t *testing.T) {
	p := testPool(smallCfg())
	conn := "conn-a"

	buf, _ := p.OpenForWrite(conn, 1)
	p.MarkReady(buf)
	p.OnConnectionLost(conn)

	if p.ReadyCheck(conn, 1) {
		t.Error("ReadyCheck should be false after the owning connection is lost")
	}
	stats := p.Stats()
	if stats.PerConn[conn] != 0 {
		t.Errorf("PerConn[conn] = %d, want 0 after OnConnectionLost", stats.PerConn[conn])
	}
}
