package firacp

import "sync"

// A ConnectorServer is the peripheral-role FiRa Connector endpoint. It
// hosts the Connector Primary service, accepts the client's capabilities,
// honours the CP OUT notification enable, and pumps both pipes.
//
// Readiness requires a connected central, a valid capabilities write and
// notifications enabled on CP OUT. Losing any of the three regresses the
// endpoint to not-processing and clears the outstanding central.
type ConnectorServer struct {
	server GattServer
	cb     ServerCallback
	exec   *serialExecutor

	mu        sync.Mutex
	ready     *readiness
	out       outboundQueue
	in        *reassembler
	caps      FiraConnectorCapabilities
	remote    *FiraConnectorCapabilities
	central   string
	outValue  []byte // CP OUT's endpoint-local buffer, rewritten before each notification
	started   bool
}

// ServerOption configures a ConnectorServer.
type ServerOption func(*ConnectorServer)

// WithServerCapabilities sets the local capability set governing inbound
// bounds instead of the v1.0 defaults.
func WithServerCapabilities(caps FiraConnectorCapabilities) ServerOption {
	return func(s *ConnectorServer) { s.caps = caps }
}

// NewConnectorServer builds a server endpoint over a peripheral stack.
func NewConnectorServer(server GattServer, cb ServerCallback, opts ...ServerOption) *ConnectorServer {
	s := &ConnectorServer{
		server: server,
		cb:     cb,
		exec:   newSerialExecutor(),
		ready: newReadiness(
			condConnected,
			condCapabilitiesReceived,
			condNotificationEnabled,
		),
		caps: DefaultCapabilities(),
	}
	for _, o := range opts {
		o(s)
	}
	s.in = newReassembler(int(s.caps.MaxConcurrentFragmentedSessions), int(s.caps.MaxMessageBufferSize))
	server.SetConnectHandler(s.onConnect)
	return s
}

// Start publishes the Connector Primary service.
func (s *ConnectorServer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return true
	}
	if err := s.server.AddService(s.buildService()); err != nil {
		log.WithError(err).Warn("cannot publish connector service")
		return false
	}
	s.started = true
	return true
}

// Stop withdraws the service and clears both pipes.
func (s *ConnectorServer) Stop() bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return true
	}
	if err := s.server.RemoveService(ServiceUUID); err != nil {
		log.WithError(err).Debug("remove service failed")
	}
	s.started = false
	edge := s.regressLocked()
	s.mu.Unlock()
	s.fire(s.edgeCallbacks(edge))
	return true
}

// Close releases the endpoint executor. The endpoint must not be used
// afterwards.
func (s *ConnectorServer) Close() {
	s.Stop()
	s.exec.close()
}

// SendMessage queues m for the connected client's secure component secid
// and, if the pipe was idle, loads the first packet and notifies.
func (s *ConnectorServer) SendMessage(secid byte, m FiraConnectorMessage) bool {
	if !ValidSecid(secid) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready.isReady() || s.remote == nil {
		return false
	}
	if len(m.Encode()) > int(s.remote.MaxMessageBufferSize) {
		log.WithField("secid", secid).Warn("message exceeds client buffer size")
		return false
	}
	if s.out.push(secid, m) {
		s.loadNextLocked()
	}
	return true
}

// SetCapabilities replaces the local capability set bounding inbound
// reassembly. Peers are told through a CapabilitiesChanged event by the
// upper layer if desired.
func (s *ConnectorServer) SetCapabilities(caps FiraConnectorCapabilities) bool {
	if err := caps.Validate(); err != nil {
		log.WithError(err).Warn("rejecting capabilities")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
	s.in.setBounds(int(caps.MaxConcurrentFragmentedSessions), int(caps.MaxMessageBufferSize))
	return true
}

func (s *ConnectorServer) buildService() *ServerService {
	return &ServerService{
		UUID: ServiceUUID,
		Characteristics: []ServerCharacteristic{
			{
				UUID:       CharInUUID,
				Properties: CharWrite,
				OnWrite:    s.handleInWrite,
			},
			{
				UUID:       CharCapabilitiesUUID,
				Properties: CharWrite,
				OnWrite:    s.handleCapabilitiesWrite,
			},
			{
				UUID:       CharOutUUID,
				Properties: CharRead | CharNotify,
				OnRead:     s.handleOutRead,
				Descriptors: []ServerDescriptor{
					{UUID: DescCCCDUUID, OnWrite: s.handleCccdWrite},
				},
			},
		},
	}
}

func (s *ConnectorServer) onConnect(central string, connected bool) {
	s.exec.post(func() {
		s.mu.Lock()
		var edge readinessEdge
		if connected {
			s.central = central
			edge = s.ready.set(condConnected, true)
		} else {
			edge = s.regressLocked()
		}
		s.mu.Unlock()
		s.fire(s.edgeCallbacks(edge))
	})
}

// handleCapabilitiesWrite decodes and adopts the client capability
// snapshot. Invalid values are refused at the GATT level.
func (s *ConnectorServer) handleCapabilitiesWrite(central string, value []byte) GattStatus {
	caps, err := DecodeCapabilities(value)
	if err != nil {
		log.WithError(err).Warn("refusing capabilities write")
		return GattFailure
	}
	s.mu.Lock()
	s.central = central
	s.remote = &caps
	fire := s.edgeCallbacks(s.ready.set(condCapabilitiesReceived, true))
	cb := s.cb
	s.mu.Unlock()
	cb.OnCapabilitiesUpdated(caps)
	s.fire(fire)
	return GattSuccess
}

// handleInWrite feeds one data packet into the reassembler. A packet the
// transport cannot take is refused and, when the pipe is up, answered
// with the matching administrative error on CP OUT.
func (s *ConnectorServer) handleInWrite(central string, value []byte) GattStatus {
	s.mu.Lock()
	if len(value) > int(s.caps.OptimizedDataPacketSize) {
		s.respondAdminLocked(0, ErrorDataPacketLengthOverflow)
		s.mu.Unlock()
		return GattFailure
	}
	p, err := DecodePacket(value)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable data packet")
		s.mu.Unlock()
		return GattFailure
	}
	m, done, err := s.in.push(p)
	if err != nil {
		log.WithError(err).WithField("secid", p.Secid).Warn("dropping data packet")
		if code, ok := AdminCode(err); ok {
			s.respondAdminLocked(p.Secid, code)
		}
		s.mu.Unlock()
		return GattFailure
	}
	cb := s.cb
	s.mu.Unlock()
	if done {
		deliver(cb, p.Secid, m)
	}
	return GattSuccess
}

// respondAdminLocked queues an administrative error for the client. The
// zero secid means the offender could not be parsed; the error then rides
// on the lowest valid SECID.
func (s *ConnectorServer) respondAdminLocked(secid byte, code AdminErrorCode) {
	if !s.ready.isReady() {
		return
	}
	if !ValidSecid(secid) {
		secid = MinSecid
	}
	if s.out.push(secid, NewAdminError(code)) {
		s.loadNextLocked()
	}
}

// handleOutRead serves the buffered CP OUT value and kicks the pipeline
// so the next pending packet loads behind it.
func (s *ConnectorServer) handleOutRead(central string) ([]byte, GattStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.outValue
	s.loadNextLocked()
	return value, GattSuccess
}

func (s *ConnectorServer) handleCccdWrite(central string, value []byte) GattStatus {
	if len(value) < 1 {
		return GattFailure
	}
	enabled := value[0]&0x01 != 0
	s.mu.Lock()
	var fire []func()
	if enabled {
		fire = s.edgeCallbacks(s.ready.set(condNotificationEnabled, true))
	} else {
		fire = s.edgeCallbacks(s.ready.set(condNotificationEnabled, false))
		s.central = ""
	}
	s.mu.Unlock()
	s.fire(fire)
	return GattSuccess
}

// loadNextLocked moves the next outbound packet into the CP OUT buffer
// and notifies subscribed centrals. The pipeline advances again on the
// next CP OUT read.
func (s *ConnectorServer) loadNextLocked() {
	packetSize := int(DefaultCapabilities().OptimizedDataPacketSize)
	if s.remote != nil {
		packetSize = int(s.remote.OptimizedDataPacketSize)
	}
	pkt, ok := s.out.nextPacket(packetSize)
	if !ok {
		return
	}
	b, err := pkt.Encode()
	if err != nil {
		log.WithError(err).Warn("dropping unencodable packet")
		return
	}
	s.outValue = b
	if err := s.server.Notify(CharOutUUID, b); err != nil {
		log.WithError(err).Warn("CP OUT notification failed")
	}
}

// regressLocked drops every session-scoped precondition and both pipes,
// keeping the published service.
func (s *ConnectorServer) regressLocked() readinessEdge {
	if s.ready.isReady() {
		log.WithField("remoteCapabilities", s.remote).Debug("processing stopped")
	}
	s.central = ""
	s.remote = nil
	s.out.clear()
	s.in.clear()
	s.outValue = nil
	return s.ready.reset()
}

func (s *ConnectorServer) edgeCallbacks(edge readinessEdge) []func() {
	cb := s.cb
	switch edge {
	case edgeStarted:
		log.WithField("remoteCapabilities", s.remote).Debug("processing started")
		return []func(){cb.OnProcessingStarted}
	case edgeStopped:
		return []func(){cb.OnProcessingStopped}
	}
	return nil
}

func (s *ConnectorServer) fire(fs []func()) {
	for _, f := range fs {
		f()
	}
}
