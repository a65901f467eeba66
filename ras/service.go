package ras

import (
	"github.com/sirupsen/logrus"

	"github.com/nordic-ras/ras/gattsim"
	"github.com/nordic-ras/ras/uuid"
)

// NewRangingService builds the GATT service table of spec §6: the Ranging
// Service and its six characteristics. Write/notify/indicate handlers for
// RAS-CP and the data characteristics are wired in by NewRrspServer/
// NewRreqClient below; the Features characteristic is the one fixed,
// always-available value this constructor serves on its own.
func NewRangingService() *gattsim.Service {
	svc := gattsim.NewService(SvcUUIDRangingService)
	svc.AddCharacteristic(CharUUIDFeatures).HandleRead(func(link *gattsim.Link) []byte {
		return EncodeFeatures(SupportedFeatures)
	})
	svc.AddCharacteristic(CharUUIDRealtimeRD)
	svc.AddCharacteristic(CharUUIDOndemandRD)
	svc.AddCharacteristic(CharUUIDRASCP)
	svc.AddCharacteristic(CharUUIDRDReady)
	svc.AddCharacteristic(CharUUIDRDOverwritten)
	return svc
}

// gattsimPeer adapts a *gattsim.Peripheral + *gattsim.Link pair to the
// GattPeer interface, translating between ras.SubscriptionKind and
// gattsim.SubscriptionKind. It is the peer RrspCore uses: the server side,
// sending to its connected central.
type gattsimPeer struct {
	peripheral *gattsim.Peripheral
	link       *gattsim.Link
}

func (p gattsimPeer) Notify(charUUID uuid.UUID, data []byte) error {
	return p.peripheral.Notify(p.link, charUUID, data)
}

func (p gattsimPeer) Indicate(charUUID uuid.UUID, data []byte, confirm func(err error)) error {
	return p.peripheral.Indicate(p.link, charUUID, data, confirm)
}

func (p gattsimPeer) WriteWithoutResponse(uuid.UUID, []byte) error {
	// RrspCore never writes to its central; only RreqCore's centralPeer does.
	return ErrOpcodeNotSupported
}

func (p gattsimPeer) Subscribed(charUUID uuid.UUID, kind SubscriptionKind) bool {
	return p.peripheral.Subscribed(p.link, charUUID, toGattsimKind(kind))
}

func (p gattsimPeer) MTU() int {
	return p.link.MTU()
}

// centralPeer adapts a *gattsim.Link to GattPeer from the central's
// perspective: it is the peer RreqCore uses to write RAS-CP commands.
type centralPeer struct {
	link *gattsim.Link
}

func (c centralPeer) Notify(uuid.UUID, []byte) error {
	// A central never notifies its server.
	return ErrOpcodeNotSupported
}

func (c centralPeer) Indicate(uuid.UUID, []byte, func(err error)) error {
	return ErrOpcodeNotSupported
}

func (c centralPeer) WriteWithoutResponse(charUUID uuid.UUID, data []byte) error {
	return c.link.WriteWithoutResponse(charUUID, data)
}

func (c centralPeer) Subscribed(uuid.UUID, SubscriptionKind) bool {
	// Subscription state lives on the server side of the link; RreqCore
	// never needs to query its own.
	return false
}

func (c centralPeer) MTU() int {
	return c.link.MTU()
}

func toGattsimKind(k SubscriptionKind) gattsim.SubscriptionKind {
	switch k {
	case SubNotify:
		return gattsim.SubNotify
	case SubIndicate:
		return gattsim.SubIndicate
	default:
		return gattsim.SubNone
	}
}

// RrspServer owns the RrspCore instances for every link connected to one
// gattsim.Peripheral, keyed by *gattsim.Link. It wires the RAS-CP write
// handler and the on_subevent producer path together, matching spec §5's
// per-connection RrspContext lifecycle (on_connected/on_disconnected).
type RrspServer struct {
	peripheral *gattsim.Peripheral
	pool       *RdBufferPool
	producer   *ProducerIngest
	cfg        RrspConfig
	log        logrus.FieldLogger

	cores map[*gattsim.Link]*RrspCore
}

// NewRrspServer creates the responder-side wiring for svc, registered on
// peripheral, streaming ranging data from pool.
func NewRrspServer(peripheral *gattsim.Peripheral, svc *gattsim.Service, pool *RdBufferPool, cfg RrspConfig, log logrus.FieldLogger) *RrspServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &RrspServer{
		peripheral: peripheral,
		pool:       pool,
		producer:   NewProducerIngest(pool, log),
		cfg:        cfg,
		log:        log,
		cores:      make(map[*gattsim.Link]*RrspCore),
	}

	for _, c := range svc.Characteristics() {
		if c.UUID.Equal(CharUUIDRASCP) {
			c.HandleWrite(s.handleRASCPWrite)
		}
	}
	return s
}

// Producer returns the on_subevent ingest for this server, so a controller
// callback (real or simulated) can feed CS results into it.
func (s *RrspServer) Producer() *ProducerIngest { return s.producer }

// OnConnected registers an RrspCore for a newly connected link (spec §5's
// on_connected).
func (s *RrspServer) OnConnected(link *gattsim.Link) *RrspCore {
	peer := gattsimPeer{peripheral: s.peripheral, link: link}
	core := NewRrspCore(link, peer, s.pool, s.cfg, s.log)
	s.cores[link] = core
	return core
}

// OnDisconnected tears down the link's RrspCore and frees its claims (spec
// §5's on_disconnected).
func (s *RrspServer) OnDisconnected(link *gattsim.Link) {
	if core, ok := s.cores[link]; ok {
		core.Close()
		delete(s.cores, link)
	}
	s.pool.OnConnectionLost(link)
}

func (s *RrspServer) handleRASCPWrite(link *gattsim.Link, data []byte) uint8 {
	core, ok := s.cores[link]
	if !ok {
		return gattsim.AttErrWriteNotPermitted
	}
	if err := core.HandleControlPointWrite(data); err != nil {
		switch err {
		case ErrNotSubscribed:
			return gattsim.AttErrWriteCCCConfig
		case ErrCommandPending:
			return gattsim.AttErrWriteReqRejected
		default:
			return gattsim.AttErrWriteNotPermitted
		}
	}
	return 0
}

// RreqClient owns the RreqCore for one central-side link (spec §5's
// RreqContext lifecycle). Unlike the server side there is only ever one
// active connection per client instance.
type RreqClient struct {
	core *RreqCore
}

// NewRreqClient creates the requestor-side wiring over link, subscribing to
// the characteristics RREQ depends on and dispatching their
// notifications/indications into the returned RreqCore.
func NewRreqClient(link *gattsim.Link, log logrus.FieldLogger) *RreqClient {
	core := NewRreqCore(link, centralPeer{link: link}, log)
	c := &RreqClient{core: core}

	link.Subscribe(CharUUIDRASCP, gattsim.SubIndicate)
	link.Subscribe(CharUUIDOndemandRD, gattsim.SubNotify)
	link.Subscribe(CharUUIDRDReady, gattsim.SubNotify)
	link.Subscribe(CharUUIDRDOverwritten, gattsim.SubNotify)

	link.OnCentralCallbacks(c.onNotify, c.onIndicate)
	return c
}

// Core returns the underlying RreqCore, e.g. for GetRangingData.
func (c *RreqClient) Core() *RreqCore { return c.core }

// Close tears down the client's work queue (spec §5's on_disconnected).
func (c *RreqClient) Close() { c.core.Close() }

func (c *RreqClient) onNotify(charUUID uuid.UUID, data []byte) {
	switch {
	case charUUID.Equal(CharUUIDOndemandRD):
		c.core.HandleOndemandRD(data, nil)
	case charUUID.Equal(CharUUIDRDReady):
		// Ready notifications only inform the app that data exists; RREQ
		// itself has no state to update until GetRangingData is called.
	case charUUID.Equal(CharUUIDRDOverwritten):
		c.core.HandleRDOverwritten(data)
	}
}

func (c *RreqClient) onIndicate(charUUID uuid.UUID, data []byte) {
	switch {
	case charUUID.Equal(CharUUIDRASCP):
		c.core.HandleRASCPIndication(data)
	case charUUID.Equal(CharUUIDOndemandRD):
		c.core.HandleOndemandRD(data, nil)
	case charUUID.Equal(CharUUIDRDReady):
	case charUUID.Equal(CharUUIDRDOverwritten):
		c.core.HandleRDOverwritten(data)
	}
}
