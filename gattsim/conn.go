package gattsim

import (
	"sync"

	"github.com/nordic-ras/ras/uuid"
)

// SubscriptionKind identifies which CCCD bit(s) a central has enabled for a
// characteristic.
type SubscriptionKind int

const (
	SubNone SubscriptionKind = iota
	SubNotify
	SubIndicate
)

// Link is a simulated one-to-one BLE connection between a Central and a
// Peripheral, running entirely in-process. It stands in for the real
// connection object the teacher's conn.go wraps around an HCI handle: it
// carries an ATT MTU, a per-characteristic subscription state, and the
// notify/indicate delivery path, but no radio.
type Link struct {
	peripheral *Peripheral

	mu     sync.Mutex
	mtu    int
	subs   map[string]SubscriptionKind
	closed bool

	// onNotify/onIndicate deliver incoming server-to-client traffic to
	// whatever sits on the central side (normally ras.RreqCore).
	onNotify   func(charUUID uuid.UUID, data []byte)
	onIndicate func(charUUID uuid.UUID, data []byte)
}

const defaultMTU = 247

func newLink(p *Peripheral) *Link {
	return &Link{peripheral: p, mtu: defaultMTU, subs: make(map[string]SubscriptionKind)}
}

// MTU returns the link's current ATT MTU.
func (l *Link) MTU() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mtu
}

// SetMTU changes the link's MTU, simulating an MTU exchange completing
// mid-session. Existing in-flight segments are unaffected; the next segment
// built after this call uses the new value.
func (l *Link) SetMTU(mtu int) {
	l.mu.Lock()
	l.mtu = mtu
	l.mu.Unlock()
}

// OnCentralCallbacks registers the callbacks invoked when the peripheral
// notifies or indicates to this link's central side.
func (l *Link) OnCentralCallbacks(onNotify, onIndicate func(charUUID uuid.UUID, data []byte)) {
	l.mu.Lock()
	l.onNotify = onNotify
	l.onIndicate = onIndicate
	l.mu.Unlock()
}

// Subscribe sets the CCCD state the central has requested for a
// characteristic, as if it had written the descriptor.
func (l *Link) Subscribe(charUUID uuid.UUID, kind SubscriptionKind) {
	l.mu.Lock()
	l.subs[charUUID.String()] = kind
	l.mu.Unlock()
}

func (l *Link) subscribed(charUUID uuid.UUID, kind SubscriptionKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs[charUUID.String()] == kind
}

// WriteWithoutResponse performs a central-to-peripheral write-without-
// response, the only write mode RAS-CP uses (spec §4.4 / §6).
func (l *Link) WriteWithoutResponse(charUUID uuid.UUID, data []byte) error {
	c := l.peripheral.findChar(charUUID)
	if c == nil || c.WriteFn == nil {
		return AttError{Code: AttErrWriteNotPermitted}
	}
	status := c.WriteFn(l, data)
	if status != 0 {
		return AttError{Code: status}
	}
	return nil
}

// deliverNotify and deliverIndicate are called by Peripheral.Notify/Indicate
// on the link whose central is subscribed. They return at once: the
// central's handler (and, for an indication, the confirm callback after it)
// runs on a fresh goroutine, mirroring the teacher's asynchronous
// notify/indicate-sent callbacks, so the caller (RrspCore's work queue) is
// never blocked on the central's handler.
func (l *Link) deliverNotify(charUUID uuid.UUID, data []byte) {
	l.mu.Lock()
	cb := l.onNotify
	l.mu.Unlock()
	if cb != nil {
		go cb(charUUID, append([]byte(nil), data...))
	}
}

func (l *Link) deliverIndicate(charUUID uuid.UUID, data []byte, confirm func(error)) {
	l.mu.Lock()
	cb := l.onIndicate
	l.mu.Unlock()
	if cb != nil {
		go func() {
			cb(charUUID, append([]byte(nil), data...))
			if confirm != nil {
				confirm(nil)
			}
		}()
	} else if confirm != nil {
		go confirm(nil)
	}
}
