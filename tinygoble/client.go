package tinygoble

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/firacp"
)

// A Client is one central-role session bound to a remote address. tinygo
// GATT calls are synchronous, so each operation runs on its own goroutine
// and reports completion through the installed event handler.
//
// The stack hides descriptors: HasDescriptor answers for the CCCD from
// the characteristic's existence, and a CCCD write maps to
// EnableNotifications.
type Client struct {
	adapter *bluetooth.Adapter
	address bluetooth.Address
	log     *logrus.Entry
	handler func(firacp.GattClientEvent)

	mu        sync.Mutex
	device    bluetooth.Device
	connected bool
	chars     map[string]bluetooth.DeviceCharacteristic
}

// NewClient builds a session to address over an enabled adapter.
func NewClient(adapter *bluetooth.Adapter, address bluetooth.Address, log *logrus.Entry) *Client {
	return &Client{
		adapter: adapter,
		address: address,
		log:     log,
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}
}

// SetEventHandler installs the event sink. Must precede Connect.
func (c *Client) SetEventHandler(h func(firacp.GattClientEvent)) {
	c.handler = h
}

func (c *Client) emit(ev firacp.GattClientEvent) {
	if c.handler != nil {
		c.handler(ev)
	}
}

// Connect opens the LE link without auto-connect.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if dev.Address != c.address || connected {
			return
		}
		c.mu.Lock()
		c.connected = false
		c.chars = make(map[string]bluetooth.DeviceCharacteristic)
		c.mu.Unlock()
		c.emit(firacp.GattClientEvent{Kind: firacp.EventConnectionStateChanged, Connected: false})
	})
	dev, err := c.adapter.Connect(c.address, bluetooth.ConnectionParams{})
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", c.address.String())
	}
	c.mu.Lock()
	c.device = dev
	c.connected = true
	c.mu.Unlock()
	c.emit(firacp.GattClientEvent{Kind: firacp.EventConnectionStateChanged, Connected: true})
	return nil
}

// Disconnect tears the link down.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	dev := c.device
	c.mu.Unlock()
	return errors.Wrap(dev.Disconnect(), "disconnecting")
}

// DiscoverServices walks the remote database for the FiRa service and
// its characteristics, then reports the negotiated MTU.
func (c *Client) DiscoverServices() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return errors.New("not connected")
	}
	dev := c.device
	c.mu.Unlock()
	go func() {
		status := firacp.GattSuccess
		svcs, err := dev.DiscoverServices([]bluetooth.UUID{mustStackUUID(firacp.ServiceUUID)})
		if err != nil || len(svcs) == 0 {
			c.log.WithError(err).Warn("service discovery failed")
			c.emit(firacp.GattClientEvent{Kind: firacp.EventServicesDiscovered, Status: firacp.GattFailure})
			return
		}
		chars, err := svcs[0].DiscoverCharacteristics(nil)
		if err != nil {
			c.log.WithError(err).Warn("characteristic discovery failed")
			status = firacp.GattFailure
		}
		c.mu.Lock()
		for _, ch := range chars {
			c.chars[fromStackUUID(ch.UUID()).String()] = ch
		}
		in, haveIn := c.chars[firacp.CharInUUID.String()]
		c.mu.Unlock()
		c.emit(firacp.GattClientEvent{Kind: firacp.EventServicesDiscovered, Status: status})
		if haveIn {
			if mtu, err := in.GetMTU(); err == nil {
				c.emit(firacp.GattClientEvent{Kind: firacp.EventMtuChanged, MTU: int(mtu)})
			}
		}
	}()
	return nil
}

// HasCharacteristic reports whether discovery found char.
func (c *Client) HasCharacteristic(_, char firacp.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chars[char.String()]
	return ok
}

// HasDescriptor reports descriptor presence. tinygo does not enumerate
// descriptors; the CCCD is implied by the characteristic itself.
func (c *Client) HasDescriptor(_, char, desc firacp.UUID) bool {
	if !desc.Equal(firacp.DescCCCDUUID) {
		return false
	}
	return c.HasCharacteristic(firacp.ServiceUUID, char)
}

// WriteCharacteristic writes value and reports completion as an event.
func (c *Client) WriteCharacteristic(char firacp.UUID, value []byte) error {
	c.mu.Lock()
	ch, ok := c.chars[char.String()]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("characteristic %s not discovered", char.String())
	}
	go func() {
		status := firacp.GattSuccess
		if _, err := ch.WriteWithoutResponse(value); err != nil {
			c.log.WithError(err).WithField("uuid", char.String()).Warn("characteristic write failed")
			status = firacp.GattFailure
		}
		c.emit(firacp.GattClientEvent{Kind: firacp.EventCharacteristicWritten, UUID: char, Status: status})
	}()
	return nil
}

// WriteDescriptor writes a descriptor. The only descriptor the transport
// touches is the CP OUT CCCD; an enable maps to EnableNotifications.
func (c *Client) WriteDescriptor(char, desc firacp.UUID, value []byte) error {
	if !desc.Equal(firacp.DescCCCDUUID) {
		return errors.Errorf("descriptor %s not supported", desc.String())
	}
	c.mu.Lock()
	ch, ok := c.chars[char.String()]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("characteristic %s not discovered", char.String())
	}
	enable := len(value) > 0 && value[0]&0x01 != 0
	go func() {
		status := firacp.GattSuccess
		if enable {
			err := ch.EnableNotifications(func(buf []byte) {
				value := make([]byte, len(buf))
				copy(value, buf)
				c.emit(firacp.GattClientEvent{Kind: firacp.EventNotificationReceived, UUID: char, Value: value})
			})
			if err != nil {
				c.log.WithError(err).Warn("enabling notifications failed")
				status = firacp.GattFailure
			}
		}
		c.emit(firacp.GattClientEvent{Kind: firacp.EventDescriptorWritten, UUID: desc, Status: status})
	}()
	return nil
}
