package firacp

// Transport is the operation surface both connector endpoints share. The
// boolean returns follow the FiRa OOB error contract: false means the
// request was refused locally (not ready, size overflow, stack refusal)
// and had no effect.
type Transport interface {
	// Start brings the endpoint up. For a client this opens the GATT
	// connection; for a server it publishes the Connector Primary
	// service. Readiness is observed via OnProcessingStarted.
	Start() bool

	// Stop tears the endpoint down, clearing both pipes. The sole
	// cancellation primitive; there are no per-message timeouts here.
	Stop() bool

	// SendMessage queues m for the peer's secure component secid.
	// Accepted only between OnProcessingStarted and the matching
	// OnProcessingStopped.
	SendMessage(secid byte, m FiraConnectorMessage) bool

	// SetCapabilities replaces the local capability set. A ready client
	// also pushes it to the peer's capabilities characteristic.
	SetCapabilities(c FiraConnectorCapabilities) bool
}

// TransportCallback receives what a connector endpoint emits. Callbacks
// run outside the endpoint lock, either on the endpoint executor or on
// the goroutine whose call caused them (Stop, or a server GATT write
// handler); implementations must not call back into
// the endpoint from OnProcessingStopped and must not retain references
// past Stop.
type TransportCallback interface {
	// OnMessageReceived delivers a reassembled message that is not an
	// administrative message.
	OnMessageReceived(secid byte, m FiraConnectorMessage)

	// OnAdminError delivers a peer-reported administrative error. The
	// upper layer chooses the response.
	OnAdminError(secid byte, e AdminErrorMessage)

	// OnAdminEvent delivers a peer-reported administrative event.
	OnAdminEvent(secid byte, e AdminEventMessage)

	// OnProcessingStarted fires when every readiness precondition holds.
	OnProcessingStarted()

	// OnProcessingStopped fires when any precondition is lost.
	OnProcessingStopped()
}

// ClientCallback extends TransportCallback with client-session fatality.
type ClientCallback interface {
	TransportCallback

	// OnTerminated fires exactly once per session when a fatal GATT
	// failure kills it. A fresh Start is required afterwards.
	OnTerminated(reason TerminationReason)
}

// ServerCallback extends TransportCallback with capability updates from
// the connected central.
type ServerCallback interface {
	TransportCallback

	// OnCapabilitiesUpdated fires after a valid write to the
	// capabilities characteristic.
	OnCapabilitiesUpdated(c FiraConnectorCapabilities)
}

// deliver routes a reassembled message to cb, preferring the typed
// administrative variants over the generic form.
func deliver(cb TransportCallback, secid byte, m FiraConnectorMessage) {
	if ae, ok := AsAdminError(m); ok {
		log.WithFields(map[string]interface{}{"secid": secid, "code": ae.Code}).
			Warn("administrative error from peer")
		cb.OnAdminError(secid, ae)
		return
	}
	if ev, ok := AsAdminEvent(m); ok {
		cb.OnAdminEvent(secid, ev)
		return
	}
	cb.OnMessageReceived(secid, m)
}
