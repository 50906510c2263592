package firacp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Capabilities defaults and floors fixed by FiRa BLE OOB v1.0.
const (
	DefaultDataPacketSize  = 20  // ATT default MTU 23 minus the 3-octet ATT header
	MinMessageBufferSize   = 263 // every connector must reassemble at least this much
	capabilitiesHeaderSize = 7
	secureComponentSize    = 2
)

var ErrCapabilitiesTooShort = errors.New("firacp: capabilities value shorter than 7 octets")

// SecureComponentType classifies a secure component within a connector.
type SecureComponentType byte

const (
	SecureComponentESE SecureComponentType = iota + 1
	SecureComponentUICC
	SecureComponentDiscreteESE
	SecureComponentHostTEE
)

// SecureComponentProtocol is the protocol a secure component speaks.
type SecureComponentProtocol byte

const (
	SecureComponentProtocolFiraOOB SecureComponentProtocol = iota + 1
	SecureComponentProtocolISO7816
)

// SecureComponentInfo describes one secure component reachable through a
// connector, addressed by its SECID.
type SecureComponentInfo struct {
	Static   bool // the component is always present, not session-created
	Secid    byte
	Type     SecureComponentType
	Protocol SecureComponentProtocol
}

func (s SecureComponentInfo) encode() [secureComponentSize]byte {
	var b [secureComponentSize]byte
	b[0] = s.Secid & 0x7F
	if s.Static {
		b[0] |= 1 << 7
	}
	b[1] = byte(s.Type&0xF)<<4 | byte(s.Protocol&0xF)
	return b
}

func decodeSecureComponent(b []byte) SecureComponentInfo {
	return SecureComponentInfo{
		Static:   b[0]&(1<<7) != 0,
		Secid:    b[0] & 0x7F,
		Type:     SecureComponentType(b[1] >> 4),
		Protocol: SecureComponentProtocol(b[1] & 0xF),
	}
}

// FiraConnectorCapabilities is the capability set a connector endpoint
// announces to its peer through the capabilities characteristic.
type FiraConnectorCapabilities struct {
	ProtocolVersionMajor byte
	ProtocolVersionMinor byte

	// OptimizedDataPacketSize is the largest data packet, header included,
	// the endpoint wants to receive. Tracks peer ATT_MTU minus 3.
	OptimizedDataPacketSize uint16

	// MaxMessageBufferSize bounds a fully reassembled message.
	MaxMessageBufferSize uint16

	// MaxConcurrentFragmentedSessions bounds how many SECIDs may have a
	// partially reassembled message in flight at once.
	MaxConcurrentFragmentedSessions byte

	SecureComponents []SecureComponentInfo
}

// DefaultCapabilities returns the capability set with the FiRa v1.0
// defaults and no secure components.
func DefaultCapabilities() FiraConnectorCapabilities {
	return FiraConnectorCapabilities{
		ProtocolVersionMajor:            1,
		ProtocolVersionMinor:            0,
		OptimizedDataPacketSize:         DefaultDataPacketSize,
		MaxMessageBufferSize:            MinMessageBufferSize,
		MaxConcurrentFragmentedSessions: 1,
	}
}

// Validate checks the invariants FiRa BLE OOB v1.0 puts on a capability set.
func (c FiraConnectorCapabilities) Validate() error {
	if c.ProtocolVersionMajor < 1 {
		return fmt.Errorf("firacp: protocol major version %d below 1", c.ProtocolVersionMajor)
	}
	if c.OptimizedDataPacketSize < 1 {
		return errors.New("firacp: optimized data packet size must be at least 1")
	}
	if c.MaxMessageBufferSize < MinMessageBufferSize {
		return fmt.Errorf("firacp: message buffer size %d below the %d floor", c.MaxMessageBufferSize, MinMessageBufferSize)
	}
	if c.MaxConcurrentFragmentedSessions < 1 {
		return errors.New("firacp: at least one concurrent fragmented session is required")
	}
	return nil
}

// Encode renders the capabilities in their characteristic wire layout.
func (c FiraConnectorCapabilities) Encode() []byte {
	b := make([]byte, capabilitiesHeaderSize, capabilitiesHeaderSize+len(c.SecureComponents)*secureComponentSize)
	b[0] = c.ProtocolVersionMajor
	b[1] = c.ProtocolVersionMinor
	binary.BigEndian.PutUint16(b[2:4], c.OptimizedDataPacketSize)
	binary.BigEndian.PutUint16(b[4:6], c.MaxMessageBufferSize)
	b[6] = c.MaxConcurrentFragmentedSessions
	for _, sc := range c.SecureComponents {
		e := sc.encode()
		b = append(b, e[:]...)
	}
	return b
}

// DecodeCapabilities parses a capabilities characteristic value. Trailing
// bytes that do not form a whole secure-component entry fail the decode.
func DecodeCapabilities(b []byte) (FiraConnectorCapabilities, error) {
	var c FiraConnectorCapabilities
	if len(b) < capabilitiesHeaderSize {
		return c, ErrCapabilitiesTooShort
	}
	c.ProtocolVersionMajor = b[0]
	c.ProtocolVersionMinor = b[1]
	c.OptimizedDataPacketSize = binary.BigEndian.Uint16(b[2:4])
	c.MaxMessageBufferSize = binary.BigEndian.Uint16(b[4:6])
	c.MaxConcurrentFragmentedSessions = b[6]
	rest := b[capabilitiesHeaderSize:]
	if len(rest)%secureComponentSize != 0 {
		return c, fmt.Errorf("firacp: %d trailing octets after capabilities header", len(rest))
	}
	for len(rest) > 0 {
		c.SecureComponents = append(c.SecureComponents, decodeSecureComponent(rest[:secureComponentSize]))
		rest = rest[secureComponentSize:]
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
