package firacp

import "errors"

// MaxEIRPacketLength is the maximum allowed length of a legacy
// advertising or scan-response payload.
const MaxEIRPacketLength = 31

// ErrEIRPacketTooLong is returned when an advertising payload does not
// fit a legacy PDU.
var ErrEIRPacketTooLong = errors.New("max packet length is 31")

// advertising data field types
const (
	typeFlags            = 0x01 // Flags
	typeAllUUID16        = 0x03 // Complete List of 16-bit Service Class UUIDs
	typeServiceData16    = 0x16 // Service Data - 16-bit UUID
	typeManufacturerData = 0xFF // Manufacturer Specific Data
)

// flag bits
const (
	flagGeneralDiscoverable = 0x02 // LE General Discoverable Mode
	flagLEOnly              = 0x04 // BR/EDR Not Supported
)

// An AdvPacket accumulates raw EIR advertising fields. Backends that take
// ready-made advertising bytes feed from it; structured backends use the
// AdvPayload entries directly.
type AdvPacket struct {
	data []byte
}

// Bytes returns the accumulated payload.
func (p *AdvPacket) Bytes() []byte { return p.data }

// Len returns the accumulated payload length.
func (p *AdvPacket) Len() int { return len(p.data) }

// AppendField appends one EIR field. A field consists of len, typ, data;
// len covers typ plus the data.
func (p *AdvPacket) AppendField(typ byte, data []byte) error {
	if len(p.data)+2+len(data) > MaxEIRPacketLength {
		return ErrEIRPacketTooLong
	}
	p.data = append(p.data, byte(len(data)+1))
	p.data = append(p.data, typ)
	p.data = append(p.data, data...)
	return nil
}

// AppendFlags appends a flags field.
func (p *AdvPacket) AppendFlags(f byte) error {
	return p.AppendField(typeFlags, []byte{f})
}

// AppendServiceUUID16 appends a complete 16-bit service UUID list entry.
func (p *AdvPacket) AppendServiceUUID16(u UUID) error {
	return p.AppendField(typeAllUUID16, u.Bytes())
}

// AppendServiceData appends a 16-bit-UUID service data field.
func (p *AdvPacket) AppendServiceData(u UUID, data []byte) error {
	return p.AppendField(typeServiceData16, append(u.Bytes(), data...))
}

// AppendManufacturerData appends a manufacturer data field. The company
// identifier goes out little-endian per the BLE spec.
func (p *AdvPacket) AppendManufacturerData(id uint16, data []byte) error {
	d := append([]byte{uint8(id), uint8(id >> 8)}, data...)
	return p.AppendField(typeManufacturerData, d)
}

// EIR renders the payload as raw legacy advertising bytes: flags first,
// then service UUIDs, service data, manufacturer data.
func (a AdvPayload) EIR() ([]byte, error) {
	p := new(AdvPacket)
	if err := p.AppendFlags(flagGeneralDiscoverable | flagLEOnly); err != nil {
		return nil, err
	}
	for _, u := range a.ServiceUUIDs {
		if err := p.AppendServiceUUID16(u); err != nil {
			return nil, err
		}
	}
	for _, sd := range a.ServiceData {
		if err := p.AppendServiceData(sd.UUID, sd.Data); err != nil {
			return nil, err
		}
	}
	for _, md := range a.ManufacturerData {
		if err := p.AppendManufacturerData(md.CompanyID, md.Data); err != nil {
			return nil, err
		}
	}
	return p.Bytes(), nil
}
