package gattsim

import (
	"fmt"
	"sync"

	"github.com/nordic-ras/ras/uuid"
)

// Peripheral is a simulated GATT server: a fixed set of services, and the
// connected links it dispatches reads/writes/notifications over. Adapted
// from the teacher's server.go with the HCI/advertising machinery removed —
// this package has no radio, so there is no Advertise/Serve loop, only
// attribute registration and link management.
type Peripheral struct {
	mu       sync.Mutex
	services []*Service
	handles  []handle
	started  bool
	links    map[*Link]struct{}
}

// NewPeripheral creates an empty Peripheral.
func NewPeripheral() *Peripheral {
	return &Peripheral{links: make(map[*Link]struct{})}
}

// AddService registers a service. AddService must be called before Start.
func (p *Peripheral) AddService(s *Service) {
	if p.started {
		panic("gattsim: cannot add service after Start")
	}
	p.services = append(p.services, s)
}

// Start finalizes the attribute table. No more services may be added
// afterward.
func (p *Peripheral) Start() {
	p.handles = generateHandles(p.services)
	p.started = true
}

// Attributes renders the attribute table, one line per row, for debugging
// or demo output.
func (p *Peripheral) Attributes() string {
	out := ""
	for _, h := range p.handles {
		out += fmt.Sprintf("%3d  %s\n", h.n, h.String())
	}
	return out
}

// Connect creates a new simulated Link to this peripheral.
func (p *Peripheral) Connect() *Link {
	l := newLink(p)
	p.mu.Lock()
	p.links[l] = struct{}{}
	p.mu.Unlock()
	return l
}

// Disconnect tears down a link.
func (p *Peripheral) Disconnect(l *Link) {
	p.mu.Lock()
	delete(p.links, l)
	p.mu.Unlock()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (p *Peripheral) findChar(u uuid.UUID) *Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, svc := range p.services {
		for _, c := range svc.chars {
			if c.UUID.Equal(u) {
				return c
			}
		}
	}
	return nil
}

// Notify sends a notification to link if it is subscribed for notify on
// charUUID. Matches spec §6's notify(conn, handle, data) boundary op.
func (p *Peripheral) Notify(l *Link, charUUID uuid.UUID, data []byte) error {
	if !l.subscribed(charUUID, SubNotify) {
		return fmt.Errorf("gattsim: not subscribed for notify on %s", charUUID)
	}
	l.deliverNotify(charUUID, data)
	return nil
}

// Indicate sends an indication to link if it is subscribed for indicate on
// charUUID, invoking confirm once the simulated central has processed it
// (standing in for the ATT confirmation PDU). Matches spec §6's
// indicate(conn, handle, data, confirm_cb).
func (p *Peripheral) Indicate(l *Link, charUUID uuid.UUID, data []byte, confirm func(error)) error {
	if !l.subscribed(charUUID, SubIndicate) {
		return fmt.Errorf("gattsim: not subscribed for indicate on %s", charUUID)
	}
	l.deliverIndicate(charUUID, data, confirm)
	return nil
}

// Subscribed reports whether l is subscribed to kind on charUUID. Matches
// spec §6's subscribed(conn, handle, kind) boundary op.
func (p *Peripheral) Subscribed(l *Link, charUUID uuid.UUID, kind SubscriptionKind) bool {
	return l.subscribed(charUUID, kind)
}
