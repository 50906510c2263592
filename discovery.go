package firacp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Discovery advertisement field types, encoded in the high nibble of the
// field's first octet. The low nibble carries the payload length.
const (
	fieldUwbIndication  = 0x1
	fieldVendorSpecific = 0x2
	fieldRegulatoryInfo = 0x3
	fieldProfileSupport = 0x4
)

// maxFieldPayload is the largest payload a single field can carry;
// the length nibble is 4 bits wide.
const maxFieldPayload = 15

// Decoding failures for untrusted advertisement bytes.
var (
	ErrTruncatedField         = errors.New("firacp: field length exceeds remaining advertisement bytes")
	ErrDuplicateField         = errors.New("firacp: duplicate advertisement field")
	ErrUnknownFieldType       = errors.New("firacp: unknown advertisement field type")
	ErrVendorDataInBothPlaces = errors.New("firacp: vendor data present in both service data and manufacturer data")
)

// FiraProfile identifies a FiRa profile advertised as supported.
type FiraProfile byte

// ProfilePacs is the Physical Access Control System profile.
const ProfilePacs FiraProfile = 1

// NoRssiThreshold disables the scan-time RSSI gate.
const NoRssiThreshold int8 = -128

// UwbIndicationData announces a device's UWB-related capabilities and the
// RSSI gate it wants scanners to apply.
type UwbIndicationData struct {
	FiraUwbSupport           bool
	Iso14443Support          bool
	RegulatoryInfoInAd       bool
	RegulatoryInfoInOob      bool
	ProfileInfoInAd          bool
	ProfileInfoInOob         bool
	DualGapRoleSupport       bool
	BluetoothRssiThresholdDbm int8
}

func (u *UwbIndicationData) encode() []byte {
	var flags byte
	if u.FiraUwbSupport {
		flags |= 1 << 7
	}
	if u.Iso14443Support {
		flags |= 1 << 6
	}
	if u.RegulatoryInfoInAd {
		flags |= 1 << 5
	}
	if u.RegulatoryInfoInOob {
		flags |= 1 << 4
	}
	if u.ProfileInfoInAd {
		flags |= 1 << 3
	}
	if u.ProfileInfoInOob {
		flags |= 1 << 2
	}
	if u.DualGapRoleSupport {
		flags |= 1 << 1
	}
	return []byte{flags, byte(u.BluetoothRssiThresholdDbm)}
}

func decodeUwbIndication(b []byte) (*UwbIndicationData, error) {
	if len(b) < 1 {
		return nil, ErrTruncatedField
	}
	u := &UwbIndicationData{
		FiraUwbSupport:            b[0]&(1<<7) != 0,
		Iso14443Support:           b[0]&(1<<6) != 0,
		RegulatoryInfoInAd:        b[0]&(1<<5) != 0,
		RegulatoryInfoInOob:       b[0]&(1<<4) != 0,
		ProfileInfoInAd:           b[0]&(1<<3) != 0,
		ProfileInfoInOob:          b[0]&(1<<2) != 0,
		DualGapRoleSupport:        b[0]&(1<<1) != 0,
		BluetoothRssiThresholdDbm: NoRssiThreshold,
	}
	if len(b) >= 2 {
		u.BluetoothRssiThresholdDbm = int8(b[1])
	}
	return u, nil
}

// RegulatorySource says where a device learned its regulatory country code.
type RegulatorySource byte

const (
	RegulatorySourceUserDefined RegulatorySource = iota
	RegulatorySourceSim
	RegulatorySourceCellular
	RegulatorySourceSatNav
)

// RegulatoryInfo carries UWB regulatory context for the advertising device.
type RegulatoryInfo struct {
	Source           RegulatorySource
	OutdoorPermitted bool
	CountryCode      string // two-letter ISO 3166-1
	TimestampSeconds uint32
	Channels         byte // bit0 = channel 5, bit1 = channel 9
}

const regulatoryInfoSize = 8

func (r *RegulatoryInfo) encode() ([]byte, error) {
	if len(r.CountryCode) != 2 {
		return nil, fmt.Errorf("firacp: country code %q is not two octets", r.CountryCode)
	}
	b := make([]byte, regulatoryInfoSize)
	b[0] = byte(r.Source&0xF) << 4
	if r.OutdoorPermitted {
		b[0] |= 1
	}
	b[1] = r.CountryCode[0]
	b[2] = r.CountryCode[1]
	binary.BigEndian.PutUint32(b[3:7], r.TimestampSeconds)
	b[7] = r.Channels
	return b, nil
}

func decodeRegulatoryInfo(b []byte) (*RegulatoryInfo, error) {
	if len(b) < regulatoryInfoSize {
		return nil, ErrTruncatedField
	}
	return &RegulatoryInfo{
		Source:           RegulatorySource(b[0] >> 4),
		OutdoorPermitted: b[0]&1 != 0,
		CountryCode:      string(b[1:3]),
		TimestampSeconds: binary.BigEndian.Uint32(b[3:7]),
		Channels:         b[7],
	}, nil
}

// FiraProfileSupportInfo lists the FiRa profiles the device supports,
// one octet per profile.
type FiraProfileSupportInfo struct {
	Profiles []FiraProfile
}

func (p *FiraProfileSupportInfo) encode() []byte {
	b := make([]byte, len(p.Profiles))
	for i, pr := range p.Profiles {
		b[i] = byte(pr)
	}
	return b
}

func decodeProfileSupport(b []byte) *FiraProfileSupportInfo {
	p := &FiraProfileSupportInfo{Profiles: make([]FiraProfile, len(b))}
	for i, v := range b {
		p.Profiles[i] = FiraProfile(v)
	}
	return p
}

// VendorSpecificData is opaque vendor payload keyed by a vendor ID. It may
// travel either inside the FiRa service data or as a BLE
// Manufacturer-Specific Data AD object, never both.
type VendorSpecificData struct {
	VendorID uint16
	Data     []byte
}

func (v *VendorSpecificData) encode() ([]byte, error) {
	if len(v.Data)+2 > maxFieldPayload {
		return nil, fmt.Errorf("firacp: vendor payload of %d octets does not fit a field", len(v.Data))
	}
	b := make([]byte, 2+len(v.Data))
	binary.BigEndian.PutUint16(b, v.VendorID)
	copy(b[2:], v.Data)
	return b, nil
}

func decodeVendorSpecific(b []byte) (VendorSpecificData, error) {
	if len(b) < 2 {
		return VendorSpecificData{}, ErrTruncatedField
	}
	return VendorSpecificData{
		VendorID: binary.BigEndian.Uint16(b),
		Data:     append([]byte(nil), b[2:]...),
	}, nil
}

// A DiscoveryAdvertisement is the decoded FiRa service-data payload of a
// discovery advertisement. Absent fields are nil.
type DiscoveryAdvertisement struct {
	UwbIndication  *UwbIndicationData
	Regulatory     *RegulatoryInfo
	ProfileSupport *FiraProfileSupportInfo
	Vendor         []VendorSpecificData
}

// WithoutVendor returns a copy of a with the vendor entries stripped, as a
// peer sees it when vendor data travels in manufacturer AD objects instead.
func (a *DiscoveryAdvertisement) WithoutVendor() *DiscoveryAdvertisement {
	return &DiscoveryAdvertisement{
		UwbIndication:  a.UwbIndication,
		Regulatory:     a.Regulatory,
		ProfileSupport: a.ProfileSupport,
	}
}

func appendField(b []byte, typ byte, payload []byte) ([]byte, error) {
	if len(payload) > maxFieldPayload {
		return nil, fmt.Errorf("firacp: field payload of %d octets exceeds the length nibble", len(payload))
	}
	b = append(b, typ<<4|byte(len(payload)))
	return append(b, payload...), nil
}

// Encode renders the advertisement as FiRa service-data bytes. Vendor
// entries are included only when includeVendor is set; callers that keep
// vendor data in Manufacturer-Specific AD objects pass false.
func (a *DiscoveryAdvertisement) Encode(includeVendor bool) ([]byte, error) {
	var b []byte
	var err error
	if a.UwbIndication != nil {
		if b, err = appendField(b, fieldUwbIndication, a.UwbIndication.encode()); err != nil {
			return nil, err
		}
	}
	if a.Regulatory != nil {
		p, err := a.Regulatory.encode()
		if err != nil {
			return nil, err
		}
		if b, err = appendField(b, fieldRegulatoryInfo, p); err != nil {
			return nil, err
		}
	}
	if a.ProfileSupport != nil {
		if b, err = appendField(b, fieldProfileSupport, a.ProfileSupport.encode()); err != nil {
			return nil, err
		}
	}
	if includeVendor {
		for i := range a.Vendor {
			p, err := a.Vendor[i].encode()
			if err != nil {
				return nil, err
			}
			if b, err = appendField(b, fieldVendorSpecific, p); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// DecodeDiscoveryAdvertisement parses FiRa service-data bytes, merging any
// Manufacturer-Specific AD entries into the vendor list. Vendor data in
// both places at once is a protocol violation and fails the whole decode.
func DecodeDiscoveryAdvertisement(serviceData []byte, manufacturer []ManufacturerData) (*DiscoveryAdvertisement, error) {
	a := &DiscoveryAdvertisement{}
	vendorInServiceData := false
	for b := serviceData; len(b) > 0; {
		typ, n := b[0]>>4, int(b[0]&0xF)
		b = b[1:]
		if n > len(b) {
			return nil, ErrTruncatedField
		}
		payload := b[:n]
		b = b[n:]
		switch typ {
		case fieldUwbIndication:
			if a.UwbIndication != nil {
				return nil, ErrDuplicateField
			}
			u, err := decodeUwbIndication(payload)
			if err != nil {
				return nil, err
			}
			a.UwbIndication = u
		case fieldRegulatoryInfo:
			if a.Regulatory != nil {
				return nil, ErrDuplicateField
			}
			r, err := decodeRegulatoryInfo(payload)
			if err != nil {
				return nil, err
			}
			a.Regulatory = r
		case fieldProfileSupport:
			if a.ProfileSupport != nil {
				return nil, ErrDuplicateField
			}
			a.ProfileSupport = decodeProfileSupport(payload)
		case fieldVendorSpecific:
			v, err := decodeVendorSpecific(payload)
			if err != nil {
				return nil, err
			}
			vendorInServiceData = true
			a.Vendor = append(a.Vendor, v)
		default:
			return nil, ErrUnknownFieldType
		}
	}
	if vendorInServiceData && len(manufacturer) > 0 {
		return nil, ErrVendorDataInBothPlaces
	}
	for _, m := range manufacturer {
		a.Vendor = append(a.Vendor, VendorSpecificData{
			VendorID: m.CompanyID,
			Data:     append([]byte(nil), m.Data...),
		})
	}
	return a, nil
}
