package ras

import "github.com/nordic-ras/ras/uuid"

// SubscriptionKind identifies which delivery mode (notify or indicate) a
// peer has enabled for a characteristic's CCCD.
type SubscriptionKind int

const (
	SubNone SubscriptionKind = iota
	SubNotify
	SubIndicate
)

// GattPeer is the small set of boundary operations spec §6 says the core
// consumes from the real GATT/attribute-table machinery: notify/indicate,
// subscription queries, and the negotiated MTU. Both RrspCore (writing to
// its connected central) and RreqCore (writing to its connected server) use
// this interface — RrspCore for On-demand RD/status characteristics,
// RreqCore for the RAS-CP write. charUUID identifies the characteristic the
// same way the boundary's real attribute table would: by its Bluetooth
// UUID, not an internal handle number.
type GattPeer interface {
	// Notify sends data as a notification on charUUID. Returns an error if
	// the peer is not subscribed for notify or the transport rejects the
	// send (spec §6's notify(conn, handle, data)).
	Notify(charUUID uuid.UUID, data []byte) error

	// Indicate sends data as an indication on charUUID, invoking confirm
	// once the peer has acknowledged it (spec §6's
	// indicate(conn, handle, data, confirm_cb)).
	Indicate(charUUID uuid.UUID, data []byte, confirm func(err error)) error

	// WriteWithoutResponse performs a write-without-response to charUUID.
	// Only RreqCore's RAS-CP write uses this.
	WriteWithoutResponse(charUUID uuid.UUID, data []byte) error

	// Subscribed reports whether the peer has enabled kind on charUUID
	// (spec §6's subscribed(conn, handle, kind)).
	Subscribed(charUUID uuid.UUID, kind SubscriptionKind) bool

	// MTU returns the connection's current ATT MTU (spec §6's
	// get_mtu(conn)).
	MTU() int
}

// workQueue is a single-goroutine, ordered command queue. It stands in for
// the source's dedicated k_work items (rascp_work, send_data_work,
// status_work): the GATT callback only enqueues, and a single background
// goroutine drains the queue serially, so command handling and segment
// streaming for one connection are never concurrent with each other (spec
// §5). Matches SPEC_FULL.md §5 / §9's tagged-message-variant guidance.
type workQueue struct {
	items chan func()
	done  chan struct{}
}

func newWorkQueue(depth int) *workQueue {
	if depth <= 0 {
		depth = 16
	}
	wq := &workQueue{items: make(chan func(), depth), done: make(chan struct{})}
	go wq.run()
	return wq
}

func (wq *workQueue) run() {
	for {
		select {
		case fn := <-wq.items:
			fn()
		case <-wq.done:
			return
		}
	}
}

// submit enqueues fn for execution on the work-queue goroutine. It never
// blocks the caller for long: if the queue is full the item is dropped in
// favor of not stalling the GATT callback context, matching the source's
// requirement that "GATT callbacks never take the full code path inline".
func (wq *workQueue) submit(fn func()) bool {
	select {
	case wq.items <- fn:
		return true
	default:
		return false
	}
}

func (wq *workQueue) stop() {
	select {
	case <-wq.done:
	default:
		close(wq.done)
	}
}
