package firacp

import "sync"

// cccdEnableNotification is the CCCD value enabling notifications,
// little-endian per the BLE spec.
var cccdEnableNotification = []byte{0x01, 0x00}

// A ConnectorClient is the central-role FiRa Connector endpoint. It
// connects to a discovered peer, writes its capabilities, enables
// notifications on the CP OUT pipe and then exchanges messages over the
// two unidirectional pipes.
//
// Stack events are re-posted onto a private serial executor, so their
// observed order equals arrival order and the callbacks they cause never
// overlap one another. Stop fires its callbacks on the caller's goroutine.
type ConnectorClient struct {
	session GattClient
	cb      ClientCallback
	exec    *serialExecutor

	mu         sync.Mutex
	ready      *readiness
	out        outboundQueue
	in         *reassembler
	caps       FiraConnectorCapabilities
	started    bool
	terminated bool
	writing    bool // a CP IN write is in flight
}

// ClientOption configures a ConnectorClient.
type ClientOption func(*ConnectorClient)

// WithCapabilities sets the capability set announced to the peer instead
// of the v1.0 defaults.
func WithCapabilities(caps FiraConnectorCapabilities) ClientOption {
	return func(c *ConnectorClient) { c.caps = caps }
}

// NewConnectorClient builds a client endpoint over a GATT session. The
// session must be unconnected; the client installs its event handler.
func NewConnectorClient(session GattClient, cb ClientCallback, opts ...ClientOption) *ConnectorClient {
	c := &ConnectorClient{
		session: session,
		cb:      cb,
		exec:    newSerialExecutor(),
		ready: newReadiness(
			condConnected,
			condServiceDiscovered,
			condCapabilitiesWritten,
			condNotificationEnabled,
		),
		caps: DefaultCapabilities(),
	}
	for _, o := range opts {
		o(c)
	}
	c.in = newReassembler(int(c.caps.MaxConcurrentFragmentedSessions), int(c.caps.MaxMessageBufferSize))
	session.SetEventHandler(c.onEvent)
	return c
}

// Start opens the GATT connection. Idempotent while a session is up; the
// existing handle is reused. Readiness is observed via
// OnProcessingStarted once the startup sequence completes.
func (c *ConnectorClient) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return true
	}
	if err := c.session.Connect(); err != nil {
		log.WithError(err).Warn("connect request refused")
		return false
	}
	c.started = true
	c.terminated = false
	return true
}

// Stop disconnects and clears both pipes. The session can be started
// again afterwards.
func (c *ConnectorClient) Stop() bool {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return true
	}
	edge := c.stopLocked()
	c.mu.Unlock()
	c.fire(c.edgeCallbacks(edge))
	return true
}

// Close releases the endpoint executor. The endpoint must not be used
// afterwards.
func (c *ConnectorClient) Close() {
	c.Stop()
	c.exec.close()
}

// SendMessage queues m for the peer secure component secid and starts
// transmitting if the pipe was idle. Refused outside the processing
// window, for reserved SECIDs, and for messages beyond the negotiated
// buffer size.
func (c *ConnectorClient) SendMessage(secid byte, m FiraConnectorMessage) bool {
	if !ValidSecid(secid) {
		return false
	}
	c.mu.Lock()
	if c.terminated || !c.ready.isReady() {
		c.mu.Unlock()
		return false
	}
	if len(m.Encode()) > int(c.caps.MaxMessageBufferSize) {
		c.mu.Unlock()
		log.WithField("secid", secid).Warn("message exceeds negotiated buffer size")
		return false
	}
	var fire []func()
	if c.out.push(secid, m) {
		fire = c.pumpLocked()
	}
	c.mu.Unlock()
	c.fire(fire)
	return true
}

// SetCapabilities replaces the local capability set and, when the session
// is ready, pushes it to the peer's capabilities characteristic.
func (c *ConnectorClient) SetCapabilities(caps FiraConnectorCapabilities) bool {
	if err := caps.Validate(); err != nil {
		log.WithError(err).Warn("rejecting capabilities")
		return false
	}
	c.mu.Lock()
	c.caps = caps
	c.in.setBounds(int(caps.MaxConcurrentFragmentedSessions), int(caps.MaxMessageBufferSize))
	var fire []func()
	if c.ready.isReady() {
		fire = c.writeCapabilitiesLocked()
	}
	c.mu.Unlock()
	c.fire(fire)
	return true
}

func (c *ConnectorClient) onEvent(ev GattClientEvent) {
	c.exec.post(func() { c.reduce(ev) })
}

// reduce is the single place endpoint state advances on stack events.
func (c *ConnectorClient) reduce(ev GattClientEvent) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	var fire []func()
	switch ev.Kind {
	case EventConnectionStateChanged:
		fire = c.onConnectionChanged(ev.Connected)
	case EventServicesDiscovered:
		fire = c.onServicesDiscovered(ev.Status)
	case EventCharacteristicWritten:
		fire = c.onCharacteristicWritten(ev.UUID, ev.Status)
	case EventDescriptorWritten:
		fire = c.onDescriptorWritten(ev.UUID, ev.Status)
	case EventNotificationReceived:
		if ev.UUID.Equal(CharOutUUID) {
			fire = c.onInbound(ev.Value)
		}
	case EventMtuChanged:
		fire = c.onMtuChanged(ev.MTU)
	}
	c.mu.Unlock()
	c.fire(fire)
}

func (c *ConnectorClient) onConnectionChanged(connected bool) []func() {
	if !connected {
		if !c.started || c.terminated {
			return nil
		}
		return c.terminateLocked(TerminationRemoteDisconnected)
	}
	c.ready.set(condConnected, true)
	if err := c.session.DiscoverServices(); err != nil {
		log.WithError(err).Warn("service discovery request refused")
		return c.terminateLocked(TerminationServiceDiscoveryFailure)
	}
	return nil
}

func (c *ConnectorClient) onServicesDiscovered(status GattStatus) []func() {
	if status != GattSuccess {
		return c.terminateLocked(TerminationServiceDiscoveryFailure)
	}
	for _, u := range []UUID{CharInUUID, CharOutUUID, CharCapabilitiesUUID} {
		if !c.session.HasCharacteristic(ServiceUUID, u) {
			log.WithField("uuid", u.String()).Warn("connector characteristic missing")
			return c.terminateLocked(TerminationServiceDiscoveryFailure)
		}
	}
	if !c.session.HasDescriptor(ServiceUUID, CharOutUUID, DescCCCDUUID) {
		log.Warn("CP OUT has no CCCD")
		return c.terminateLocked(TerminationServiceDiscoveryFailure)
	}
	c.ready.set(condServiceDiscovered, true)
	return c.writeCapabilitiesLocked()
}

func (c *ConnectorClient) writeCapabilitiesLocked() []func() {
	if err := c.session.WriteCharacteristic(CharCapabilitiesUUID, c.caps.Encode()); err != nil {
		log.WithError(err).Warn("capabilities write refused")
		return c.terminateLocked(TerminationCharacteristicWriteFailure)
	}
	return nil
}

func (c *ConnectorClient) onCharacteristicWritten(u UUID, status GattStatus) []func() {
	if status != GattSuccess {
		return c.terminateLocked(TerminationCharacteristicWriteFailure)
	}
	switch {
	case u.Equal(CharCapabilitiesUUID):
		fire := c.edgeCallbacks(c.ready.set(condCapabilitiesWritten, true))
		if !c.ready.get(condNotificationEnabled) {
			if err := c.session.WriteDescriptor(CharOutUUID, DescCCCDUUID, cccdEnableNotification); err != nil {
				log.WithError(err).Warn("CCCD write refused")
				return append(fire, c.terminateLocked(TerminationDescriptorWriteFailure)...)
			}
		}
		return fire
	case u.Equal(CharInUUID):
		c.writing = false
		return c.pumpLocked()
	}
	return nil
}

func (c *ConnectorClient) onDescriptorWritten(u UUID, status GattStatus) []func() {
	if status != GattSuccess {
		return c.terminateLocked(TerminationDescriptorWriteFailure)
	}
	if !u.Equal(DescCCCDUUID) {
		return nil
	}
	return c.edgeCallbacks(c.ready.set(condNotificationEnabled, true))
}

func (c *ConnectorClient) onInbound(value []byte) []func() {
	if len(value) > int(c.caps.OptimizedDataPacketSize) {
		log.WithField("len", len(value)).Warn("dropping oversized data packet")
		return nil
	}
	p, err := DecodePacket(value)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable data packet")
		return nil
	}
	m, done, err := c.in.push(p)
	if err != nil {
		log.WithError(err).WithField("secid", p.Secid).Warn("dropping data packet")
		return nil
	}
	if !done {
		return nil
	}
	cb := c.cb
	secid := p.Secid
	return []func(){func() { deliver(cb, secid, m) }}
}

// onMtuChanged recomputes the optimized data packet size from the new
// ATT MTU and re-announces capabilities when it moved.
func (c *ConnectorClient) onMtuChanged(mtu int) []func() {
	size := mtu - 3
	if size < 1 || uint16(size) == c.caps.OptimizedDataPacketSize {
		return nil
	}
	log.WithFields(map[string]interface{}{"mtu": mtu, "packetSize": size}).
		Info("MTU changed, re-announcing capabilities")
	c.caps.OptimizedDataPacketSize = uint16(size)
	if !c.ready.get(condServiceDiscovered) {
		return nil
	}
	return c.writeCapabilitiesLocked()
}

// pumpLocked pushes the next outbound packet into CP IN if the pipe is
// idle. The pipeline advances again on the write completion event.
func (c *ConnectorClient) pumpLocked() []func() {
	if c.writing {
		return nil
	}
	pkt, ok := c.out.nextPacket(int(c.caps.OptimizedDataPacketSize))
	if !ok {
		return nil
	}
	b, err := pkt.Encode()
	if err != nil {
		log.WithError(err).Warn("dropping unencodable packet")
		return nil
	}
	if err := c.session.WriteCharacteristic(CharInUUID, b); err != nil {
		log.WithError(err).Warn("CP IN write refused")
		return c.terminateLocked(TerminationCharacteristicWriteFailure)
	}
	c.writing = true
	return nil
}

// stopLocked tears the session down and reports the readiness edge.
func (c *ConnectorClient) stopLocked() readinessEdge {
	if err := c.session.Disconnect(); err != nil {
		log.WithError(err).Debug("disconnect failed")
	}
	c.out.clear()
	c.in.clear()
	c.writing = false
	c.started = false
	return c.ready.reset()
}

// terminateLocked is the single fatal-error path: stop once, then report
// terminated exactly once.
func (c *ConnectorClient) terminateLocked(reason TerminationReason) []func() {
	if c.terminated {
		return nil
	}
	c.terminated = true
	log.WithField("reason", reason.String()).Warn("session terminated")
	fire := c.edgeCallbacks(c.stopLocked())
	cb := c.cb
	return append(fire, func() { cb.OnTerminated(reason) })
}

func (c *ConnectorClient) edgeCallbacks(edge readinessEdge) []func() {
	cb := c.cb
	switch edge {
	case edgeStarted:
		return []func(){cb.OnProcessingStarted}
	case edgeStopped:
		return []func(){cb.OnProcessingStopped}
	}
	return nil
}

func (c *ConnectorClient) fire(fs []func()) {
	for _, f := range fs {
		f()
	}
}
