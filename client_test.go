package firacp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type charWrite struct {
	uuid  UUID
	value []byte
}

// fakeSession is a scriptable GattClient. Operations record themselves on
// channels; the test plays stack events back through emit.
type fakeSession struct {
	handler     func(GattClientEvent)
	calls       chan string
	charWrites  chan charWrite
	descWrites  chan charWrite
	connectErr  error
	missingChar *UUID
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		calls:      make(chan string, 32),
		charWrites: make(chan charWrite, 32),
		descWrites: make(chan charWrite, 32),
	}
}

func (f *fakeSession) SetEventHandler(h func(GattClientEvent)) { f.handler = h }
func (f *fakeSession) emit(ev GattClientEvent)                 { f.handler(ev) }

func (f *fakeSession) Connect() error {
	f.calls <- "connect"
	return f.connectErr
}

func (f *fakeSession) Disconnect() error {
	f.calls <- "disconnect"
	return nil
}

func (f *fakeSession) DiscoverServices() error {
	f.calls <- "discover"
	return nil
}

func (f *fakeSession) HasCharacteristic(_, char UUID) bool {
	return f.missingChar == nil || !f.missingChar.Equal(char)
}

func (f *fakeSession) HasDescriptor(_, _, _ UUID) bool { return true }

func (f *fakeSession) WriteCharacteristic(char UUID, value []byte) error {
	f.charWrites <- charWrite{uuid: char, value: append([]byte(nil), value...)}
	return nil
}

func (f *fakeSession) WriteDescriptor(_, desc UUID, value []byte) error {
	f.descWrites <- charWrite{uuid: desc, value: append([]byte(nil), value...)}
	return nil
}

type receivedMsg struct {
	secid byte
	m     FiraConnectorMessage
}

type clientRecorder struct {
	events    chan string
	msgs      chan receivedMsg
	adminErrs chan AdminErrorMessage
	adminEvs  chan AdminEventMessage
	reasons   chan TerminationReason
}

func newClientRecorder() *clientRecorder {
	return &clientRecorder{
		events:    make(chan string, 32),
		msgs:      make(chan receivedMsg, 32),
		adminErrs: make(chan AdminErrorMessage, 32),
		adminEvs:  make(chan AdminEventMessage, 32),
		reasons:   make(chan TerminationReason, 32),
	}
}

func (r *clientRecorder) OnMessageReceived(secid byte, m FiraConnectorMessage) {
	r.msgs <- receivedMsg{secid: secid, m: m}
}
func (r *clientRecorder) OnAdminError(_ byte, e AdminErrorMessage) { r.adminErrs <- e }
func (r *clientRecorder) OnAdminEvent(_ byte, e AdminEventMessage) { r.adminEvs <- e }
func (r *clientRecorder) OnProcessingStarted()                     { r.events <- "started" }
func (r *clientRecorder) OnProcessingStopped()                     { r.events <- "stopped" }
func (r *clientRecorder) OnTerminated(reason TerminationReason)    { r.reasons <- reason }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// startClient drives the startup sequence through to processing.
func startClient(t *testing.T, f *fakeSession, rec *clientRecorder, c *ConnectorClient) {
	t.Helper()
	require.True(t, c.Start())
	require.Equal(t, "connect", recv(t, f.calls))
	f.emit(GattClientEvent{Kind: EventConnectionStateChanged, Connected: true})
	require.Equal(t, "discover", recv(t, f.calls))
	f.emit(GattClientEvent{Kind: EventServicesDiscovered, Status: GattSuccess})

	w := recv(t, f.charWrites)
	require.True(t, w.uuid.Equal(CharCapabilitiesUUID))
	f.emit(GattClientEvent{Kind: EventCharacteristicWritten, UUID: CharCapabilitiesUUID, Status: GattSuccess})

	d := recv(t, f.descWrites)
	require.True(t, d.uuid.Equal(DescCCCDUUID))
	require.Equal(t, []byte{0x01, 0x00}, d.value)
	f.emit(GattClientEvent{Kind: EventDescriptorWritten, UUID: DescCCCDUUID, Status: GattSuccess})

	require.Equal(t, "started", recv(t, rec.events))
}

func TestClientStartupSequence(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()

	require.False(t, c.SendMessage(3, FiraConnectorMessage{}), "send before start")
	startClient(t, f, rec, c)
	require.True(t, c.SendMessage(3, FiraConnectorMessage{Payload: []byte{0x01}}))
	recv(t, f.charWrites)
}

func TestClientStartIdempotent(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()

	startClient(t, f, rec, c)
	require.True(t, c.Start(), "second start reuses the session")
	expectNone(t, f.calls)
}

func TestClientSendPump(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	// Default packet size 20 splits a 25-octet message into two packets.
	payload := make([]byte, 24)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.True(t, c.SendMessage(5, FiraConnectorMessage{Payload: payload}))
	require.True(t, c.SendMessage(6, FiraConnectorMessage{Payload: []byte{0xEE}}))

	w := recv(t, f.charWrites)
	require.True(t, w.uuid.Equal(CharInUUID))
	require.Equal(t, byte(0x05), w.value[0], "first packet not last, secid 5")
	require.Len(t, w.value, 20)

	// Nothing more goes out until the stack confirms the write.
	expectNone(t, f.charWrites)
	f.emit(GattClientEvent{Kind: EventCharacteristicWritten, UUID: CharInUUID, Status: GattSuccess})

	w = recv(t, f.charWrites)
	require.Equal(t, byte(0x85), w.value[0], "second packet is last, secid 5")
	require.Len(t, w.value, 7)
	f.emit(GattClientEvent{Kind: EventCharacteristicWritten, UUID: CharInUUID, Status: GattSuccess})

	w = recv(t, f.charWrites)
	require.Equal(t, []byte{0x86, 0x00, 0xEE}, w.value, "queued message follows in order")
}

func TestClientSendRefusals(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	require.False(t, c.SendMessage(1, FiraConnectorMessage{}), "reserved secid")
	require.False(t, c.SendMessage(3, FiraConnectorMessage{Payload: make([]byte, 263)}), "over buffer size")
	require.True(t, c.SendMessage(3, FiraConnectorMessage{Payload: make([]byte, 262)}), "at buffer size")
}

func TestClientInbound(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	f.emit(GattClientEvent{Kind: EventNotificationReceived, UUID: CharOutUUID, Value: []byte{0x03, 0x40, 0xAA}})
	f.emit(GattClientEvent{Kind: EventNotificationReceived, UUID: CharOutUUID, Value: []byte{0x83, 0xBB}})
	got := recv(t, rec.msgs)
	require.Equal(t, byte(3), got.secid)
	require.Equal(t, MessageEvent, got.m.Type)
	require.Equal(t, []byte{0xAA, 0xBB}, got.m.Payload)
}

func TestClientInboundAdmin(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	b, err := FiraConnectorDataPacket{
		LastChainingPacket: true,
		Secid:              2,
		Payload:            NewAdminError(ErrorSecidBusy).Encode(),
	}.Encode()
	require.NoError(t, err)
	f.emit(GattClientEvent{Kind: EventNotificationReceived, UUID: CharOutUUID, Value: b})
	require.Equal(t, ErrorSecidBusy, recv(t, rec.adminErrs).Code)
	expectNone(t, rec.msgs)

	b, err = FiraConnectorDataPacket{
		LastChainingPacket: true,
		Secid:              2,
		Payload:            NewAdminEvent(EventCapabilitiesChanged, nil).Encode(),
	}.Encode()
	require.NoError(t, err)
	f.emit(GattClientEvent{Kind: EventNotificationReceived, UUID: CharOutUUID, Value: b})
	require.Equal(t, EventCapabilitiesChanged, recv(t, rec.adminEvs).Code)
}

func TestClientTerminationOnDisconnect(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	f.emit(GattClientEvent{Kind: EventConnectionStateChanged, Connected: false})
	require.Equal(t, "stopped", recv(t, rec.events))
	require.Equal(t, TerminationRemoteDisconnected, recv(t, rec.reasons))
	require.Equal(t, "disconnect", recv(t, f.calls))

	// Stale events after termination emit nothing further.
	f.emit(GattClientEvent{Kind: EventConnectionStateChanged, Connected: false})
	expectNone(t, rec.reasons)
	expectNone(t, rec.events)

	require.False(t, c.SendMessage(3, FiraConnectorMessage{}), "send after termination")
}

func TestClientTerminationOnDiscoveryFailure(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()

	require.True(t, c.Start())
	recv(t, f.calls) // connect
	f.emit(GattClientEvent{Kind: EventConnectionStateChanged, Connected: true})
	recv(t, f.calls) // discover
	f.emit(GattClientEvent{Kind: EventServicesDiscovered, Status: GattFailure})
	require.Equal(t, TerminationServiceDiscoveryFailure, recv(t, rec.reasons))
}

func TestClientTerminationOnMissingCharacteristic(t *testing.T) {
	f := newFakeSession()
	f.missingChar = &CharOutUUID
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()

	require.True(t, c.Start())
	recv(t, f.calls)
	f.emit(GattClientEvent{Kind: EventConnectionStateChanged, Connected: true})
	recv(t, f.calls)
	f.emit(GattClientEvent{Kind: EventServicesDiscovered, Status: GattSuccess})
	require.Equal(t, TerminationServiceDiscoveryFailure, recv(t, rec.reasons))
}

func TestClientMtuChange(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	f.emit(GattClientEvent{Kind: EventMtuChanged, MTU: 103})
	w := recv(t, f.charWrites)
	require.True(t, w.uuid.Equal(CharCapabilitiesUUID))
	caps, err := DecodeCapabilities(w.value)
	require.NoError(t, err)
	require.Equal(t, uint16(100), caps.OptimizedDataPacketSize)

	// The same MTU again is not re-announced.
	f.emit(GattClientEvent{Kind: EventCharacteristicWritten, UUID: CharCapabilitiesUUID, Status: GattSuccess})
	f.emit(GattClientEvent{Kind: EventMtuChanged, MTU: 103})
	expectNone(t, f.charWrites)
}

func TestClientStop(t *testing.T) {
	f := newFakeSession()
	rec := newClientRecorder()
	c := NewConnectorClient(f, rec)
	defer c.Close()
	startClient(t, f, rec, c)

	require.True(t, c.Stop())
	require.Equal(t, "stopped", recv(t, rec.events))
	require.Equal(t, "disconnect", recv(t, f.calls))
	expectNone(t, rec.reasons)
	require.False(t, c.SendMessage(3, FiraConnectorMessage{}), "send after stop")
}
