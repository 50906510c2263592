package firacp

// This file defines the seams to the platform BLE stack. The connector
// endpoints drive these interfaces and never touch a radio directly; the
// tinygoble subpackage implements them on tinygo.org/x/bluetooth.

// GattStatus is the ATT-level status of a GATT operation.
type GattStatus byte

const (
	GattSuccess GattStatus = 0x00
	GattFailure GattStatus = 0x0E // ATT "unlikely error"
)

// GattClientEventKind enumerates what a central session can report.
type GattClientEventKind int

const (
	EventConnectionStateChanged GattClientEventKind = iota
	EventServicesDiscovered
	EventCharacteristicWritten
	EventCharacteristicRead
	EventDescriptorWritten
	EventNotificationReceived
	EventMtuChanged
)

// A GattClientEvent is one callback from the central-role stack, re-posted
// onto the endpoint executor before it reaches the reducer. Fields beyond
// Kind are populated per kind: UUID/Status for operation completions,
// Value for reads and notifications, MTU for MTU changes.
type GattClientEvent struct {
	Kind      GattClientEventKind
	Connected bool
	UUID      UUID
	Value     []byte
	Status    GattStatus
	MTU       int
}

// GattClient is one central-role session with a remote peripheral. All
// operations are asynchronous; completion arrives as events on the
// handler installed with SetEventHandler before Connect.
type GattClient interface {
	// Connect opens the LE link without auto-connect. Calling Connect on
	// an established session is a no-op.
	Connect() error

	// Disconnect tears the link down. The stack still reports the final
	// EventConnectionStateChanged.
	Disconnect() error

	// DiscoverServices walks the remote GATT database; completion is an
	// EventServicesDiscovered.
	DiscoverServices() error

	// HasCharacteristic reports whether service discovery found char
	// under service.
	HasCharacteristic(service, char UUID) bool

	// HasDescriptor reports whether char carries desc.
	HasDescriptor(service, char, desc UUID) bool

	// WriteCharacteristic writes value; completion is an
	// EventCharacteristicWritten for char.
	WriteCharacteristic(char UUID, value []byte) error

	// WriteDescriptor writes value; completion is an
	// EventDescriptorWritten for desc.
	WriteDescriptor(char, desc UUID, value []byte) error

	// SetEventHandler installs the event sink. Must be called before
	// Connect; the handler may be invoked from stack-owned threads.
	SetEventHandler(func(GattClientEvent))
}

// ReadHandlerFunc serves a characteristic read from a connected central.
type ReadHandlerFunc func(central string) ([]byte, GattStatus)

// WriteHandlerFunc serves a characteristic or descriptor write from a
// connected central and returns the response status.
type WriteHandlerFunc func(central string, value []byte) GattStatus

// A ServerDescriptor declares one descriptor on a hosted characteristic.
type ServerDescriptor struct {
	UUID    UUID
	OnWrite WriteHandlerFunc
}

// Characteristic property flags, matching the BLE spec bit layout.
const (
	CharRead = 1 << (iota + 1)
	CharWriteNR
	CharWrite
	CharNotify
)

// A ServerCharacteristic declares one characteristic on a hosted service.
// Handlers may be invoked from stack-owned threads.
type ServerCharacteristic struct {
	UUID        UUID
	Properties  int
	OnRead      ReadHandlerFunc
	OnWrite     WriteHandlerFunc
	Descriptors []ServerDescriptor
}

// A ServerService is a GATT service definition a peripheral hosts.
type ServerService struct {
	UUID            UUID
	Characteristics []ServerCharacteristic
}

// GattServer is the peripheral-role stack surface.
type GattServer interface {
	// AddService publishes svc in the local GATT database.
	AddService(svc *ServerService) error

	// RemoveService withdraws a previously added service.
	RemoveService(u UUID) error

	// Notify pushes value to every central that enabled notifications on
	// char via its CCCD.
	Notify(char UUID, value []byte) error

	// SetConnectHandler reports central connect and disconnect edges.
	// May be invoked from stack-owned threads.
	SetConnectHandler(func(central string, connected bool))
}

// ManufacturerData is one BLE Manufacturer-Specific Data AD object.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// ServiceData is one service-data AD object keyed by a 16-bit UUID.
type ServiceData struct {
	UUID UUID
	Data []byte
}

// An AdvPayload is the structured content of one advertising PDU.
type AdvPayload struct {
	ServiceUUIDs     []UUID
	ServiceData      []ServiceData
	ManufacturerData []ManufacturerData
}

// An AdvertisingSet pairs the advertising PDU with its scan response.
type AdvertisingSet struct {
	Connectable  bool
	Legacy       bool
	Advertising  AdvPayload
	ScanResponse AdvPayload
}

// AdvertiseStatus is the stack's verdict on an advertising request.
type AdvertiseStatus int

const (
	AdvertiseSuccess AdvertiseStatus = iota
	AdvertiseAlreadyStarted
	AdvertiseDataTooLarge
	AdvertiseTooManyAdvertisers
	AdvertiseInternalError
	AdvertiseFeatureUnsupported
)

// Advertiser starts and stops one advertising set. Status callbacks may
// arrive from stack-owned threads, repeatedly.
type Advertiser interface {
	Advertise(set AdvertisingSet, status func(AdvertiseStatus)) error
	Stop() error
}

// ScanMode trades discovery latency against power.
type ScanMode int

const (
	ScanModeLowPower ScanMode = iota
	ScanModeBalanced
	ScanModeLowLatency
)

// A ScanFilter matches advertisements by service UUID.
type ScanFilter struct {
	ServiceUUID UUID
}

// A ScanRecord is the parsed advertising payload of one scan result.
type ScanRecord struct {
	LocalName        string
	ServiceUUIDs     []UUID
	ServiceData      []ServiceData
	ManufacturerData []ManufacturerData
}

// LookupServiceData returns the service-data entry for u, if present.
func (r *ScanRecord) LookupServiceData(u UUID) ([]byte, bool) {
	for _, sd := range r.ServiceData {
		if sd.UUID.Equal(u) {
			return sd.Data, true
		}
	}
	return nil, false
}

// A ScanResult is one sighting of a remote advertiser.
type ScanResult struct {
	Address string
	RSSI    int
	Record  *ScanRecord
}

// Scanner runs one BLE scan. Results and failures may arrive from
// stack-owned threads.
type Scanner interface {
	Scan(filters []ScanFilter, mode ScanMode, result func(ScanResult), failed func(code int)) error
	Stop() error
}
