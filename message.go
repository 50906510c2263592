package firacp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SECIDs address a secure component within a connector. 0 and 1 are
// reserved by FiRa BLE OOB v1.0.
const (
	MinSecid = 2
	MaxSecid = 127
)

// PacketHeaderSize is the one-octet data packet header.
const PacketHeaderSize = 1

var (
	ErrEmptyValue   = errors.New("firacp: empty value")
	ErrSecidInvalid = errors.New("firacp: secid outside 2..127")
)

// ValidSecid reports whether secid may address a secure component.
func ValidSecid(secid byte) bool {
	return secid >= MinSecid && secid <= MaxSecid
}

// MessageType occupies the top two bits of a message header.
type MessageType byte

const (
	MessageCommand        MessageType = 0
	MessageEvent          MessageType = 1
	MessageCommandRespond MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageCommand:
		return "Command"
	case MessageEvent:
		return "Event"
	case MessageCommandRespond:
		return "CommandRespond"
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// InstructionCode occupies the low six bits of a message header.
type InstructionCode byte

const (
	InstructionDataExchange    InstructionCode = 0
	InstructionErrorIndication InstructionCode = 1
)

func (c InstructionCode) String() string {
	switch c {
	case InstructionDataExchange:
		return "DataExchange"
	case InstructionErrorIndication:
		return "ErrorIndication"
	}
	return fmt.Sprintf("InstructionCode(%d)", byte(c))
}

// A FiraConnectorMessage is the unit the upper layer exchanges with a
// peer's secure component. It is addressed by the SECID of the data
// packets that carry it, not by anything in the message itself.
type FiraConnectorMessage struct {
	Type        MessageType
	Instruction InstructionCode
	Payload     []byte
}

// Encode renders the message as header plus payload.
func (m FiraConnectorMessage) Encode() []byte {
	b := make([]byte, 1+len(m.Payload))
	b[0] = byte(m.Type&0x3)<<6 | byte(m.Instruction&0x3F)
	copy(b[1:], m.Payload)
	return b
}

// DecodeMessage parses a reassembled message value.
func DecodeMessage(b []byte) (FiraConnectorMessage, error) {
	if len(b) < 1 {
		return FiraConnectorMessage{}, ErrEmptyValue
	}
	return FiraConnectorMessage{
		Type:        MessageType(b[0] >> 6),
		Instruction: InstructionCode(b[0] & 0x3F),
		Payload:     append([]byte(nil), b[1:]...),
	}, nil
}

// A FiraConnectorDataPacket is one fragment of a message on the wire.
// LastChainingPacket marks the final fragment of the current message.
type FiraConnectorDataPacket struct {
	LastChainingPacket bool
	Secid              byte
	Payload            []byte
}

// Encode renders the packet as header plus payload.
func (p FiraConnectorDataPacket) Encode() ([]byte, error) {
	if !ValidSecid(p.Secid) {
		return nil, ErrSecidInvalid
	}
	b := make([]byte, PacketHeaderSize+len(p.Payload))
	b[0] = p.Secid & 0x7F
	if p.LastChainingPacket {
		b[0] |= 1 << 7
	}
	copy(b[PacketHeaderSize:], p.Payload)
	return b, nil
}

// DecodePacket parses a data packet received on a data pipe.
func DecodePacket(b []byte) (FiraConnectorDataPacket, error) {
	if len(b) < PacketHeaderSize {
		return FiraConnectorDataPacket{}, ErrEmptyValue
	}
	p := FiraConnectorDataPacket{
		LastChainingPacket: b[0]&(1<<7) != 0,
		Secid:              b[0] & 0x7F,
		Payload:            append([]byte(nil), b[PacketHeaderSize:]...),
	}
	if !ValidSecid(p.Secid) {
		return FiraConnectorDataPacket{}, ErrSecidInvalid
	}
	return p, nil
}

// AdminErrorCode is a peer-reported transport error, carried in a
// CommandRespond/ErrorIndication message.
type AdminErrorCode uint16

const (
	ErrorDataPacketLengthOverflow AdminErrorCode = 0x8001 + iota
	ErrorMessageLengthOverflow
	ErrorTooManyConcurrentFragmentedSessions
	ErrorSecidInvalid
	ErrorSecidInvalidForResponse
	ErrorSecidBusy
	ErrorSecidProtocolError
	ErrorSecidInternalError
)

func (e AdminErrorCode) String() string {
	switch e {
	case ErrorDataPacketLengthOverflow:
		return "DataPacketLengthOverflow"
	case ErrorMessageLengthOverflow:
		return "MessageLengthOverflow"
	case ErrorTooManyConcurrentFragmentedSessions:
		return "TooManyConcurrentFragmentedSessions"
	case ErrorSecidInvalid:
		return "SecidInvalid"
	case ErrorSecidInvalidForResponse:
		return "SecidInvalidForResponse"
	case ErrorSecidBusy:
		return "SecidBusy"
	case ErrorSecidProtocolError:
		return "SecidProtocolError"
	case ErrorSecidInternalError:
		return "SecidInternalError"
	}
	return fmt.Sprintf("AdminErrorCode(%#04x)", uint16(e))
}

func (e AdminErrorCode) known() bool {
	return e >= ErrorDataPacketLengthOverflow && e <= ErrorSecidInternalError
}

// AdminEventCode is a peer-reported transport event, carried in an
// Event/DataExchange message.
type AdminEventCode uint16

// EventCapabilitiesChanged tells the peer to re-read capabilities.
const EventCapabilitiesChanged AdminEventCode = 0x0001

func (e AdminEventCode) String() string {
	if e == EventCapabilitiesChanged {
		return "CapabilitiesChanged"
	}
	return fmt.Sprintf("AdminEventCode(%#04x)", uint16(e))
}

// An AdminErrorMessage is the typed view of an administrative error.
type AdminErrorMessage struct {
	Code AdminErrorCode
}

// NewAdminError builds the on-the-wire message for code.
func NewAdminError(code AdminErrorCode) FiraConnectorMessage {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	return FiraConnectorMessage{
		Type:        MessageCommandRespond,
		Instruction: InstructionErrorIndication,
		Payload:     payload,
	}
}

// AsAdminError reports whether m is an administrative error and, if so,
// returns its typed view. Error payloads shorter than two octets or with
// an unrecognised code stay generic messages.
func AsAdminError(m FiraConnectorMessage) (AdminErrorMessage, bool) {
	if m.Type != MessageCommandRespond || m.Instruction != InstructionErrorIndication {
		return AdminErrorMessage{}, false
	}
	if len(m.Payload) < 2 {
		return AdminErrorMessage{}, false
	}
	code := AdminErrorCode(binary.BigEndian.Uint16(m.Payload))
	if !code.known() {
		return AdminErrorMessage{}, false
	}
	return AdminErrorMessage{Code: code}, true
}

// An AdminEventMessage is the typed view of an administrative event.
// Data carries any octets after the event code.
type AdminEventMessage struct {
	Code AdminEventCode
	Data []byte
}

// NewAdminEvent builds the on-the-wire message for code with extra data.
func NewAdminEvent(code AdminEventCode, data []byte) FiraConnectorMessage {
	payload := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], data)
	return FiraConnectorMessage{
		Type:        MessageEvent,
		Instruction: InstructionDataExchange,
		Payload:     payload,
	}
}

// AsAdminEvent reports whether m is an administrative event and, if so,
// returns its typed view.
func AsAdminEvent(m FiraConnectorMessage) (AdminEventMessage, bool) {
	if m.Type != MessageEvent || m.Instruction != InstructionDataExchange {
		return AdminEventMessage{}, false
	}
	if len(m.Payload) < 2 {
		return AdminEventMessage{}, false
	}
	code := AdminEventCode(binary.BigEndian.Uint16(m.Payload))
	if code != EventCapabilitiesChanged {
		return AdminEventMessage{}, false
	}
	return AdminEventMessage{Code: code, Data: append([]byte(nil), m.Payload[2:]...)}, true
}
