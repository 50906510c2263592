package tinygoble

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/firacp"
)

// A Server hosts GATT services on the local adapter.
//
// Two stack limitations are bridged here rather than hidden: tinygo
// neither surfaces CCCD writes nor characteristic reads. The server
// therefore replays a synthetic CCCD enable to the service's descriptor
// handler when a central connects, and replays a synthetic read after
// each completed notification so the transport's read-driven outbound
// pipeline keeps advancing.
type Server struct {
	adapter *bluetooth.Adapter
	log     *logrus.Entry

	mu       sync.Mutex
	service  *firacp.ServerService
	handles  map[string]*bluetooth.Characteristic
	connectH func(central string, connected bool)
}

// NewServer builds a peripheral surface over an enabled adapter.
func NewServer(adapter *bluetooth.Adapter, log *logrus.Entry) *Server {
	return &Server{
		adapter: adapter,
		log:     log,
		handles: make(map[string]*bluetooth.Characteristic),
	}
}

// SetConnectHandler installs the central connect/disconnect sink.
func (s *Server) SetConnectHandler(h func(central string, connected bool)) {
	s.mu.Lock()
	s.connectH = h
	s.mu.Unlock()
	s.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		s.mu.Lock()
		handler := s.connectH
		svc := s.service
		s.mu.Unlock()
		if handler == nil {
			return
		}
		central := dev.Address.String()
		handler(central, connected)
		if connected && svc != nil {
			s.replayCccdEnable(svc, central)
		}
	})
}

// replayCccdEnable feeds a synthetic notification enable into every CCCD
// handler of svc. tinygo manages real CCCD writes internally.
func (s *Server) replayCccdEnable(svc *firacp.ServerService, central string) {
	for _, sc := range svc.Characteristics {
		for _, d := range sc.Descriptors {
			if d.UUID.Equal(firacp.DescCCCDUUID) && d.OnWrite != nil {
				d.OnWrite(central, []byte{0x01, 0x00})
			}
		}
	}
}

// AddService publishes svc in the local database.
func (s *Server) AddService(svc *firacp.ServerService) error {
	stackSvc := bluetooth.Service{UUID: mustStackUUID(svc.UUID)}
	handles := make([]bluetooth.Characteristic, len(svc.Characteristics))
	for i, sc := range svc.Characteristics {
		sc := sc
		cfg := bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   mustStackUUID(sc.UUID),
			Flags:  toStackFlags(sc.Properties),
		}
		if sc.OnWrite != nil {
			cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				if status := sc.OnWrite(centralName(client), value); status != firacp.GattSuccess {
					// tinygo cannot refuse the write at the ATT level.
					s.log.WithField("uuid", sc.UUID.String()).Warn("write handler refused value")
				}
			}
		}
		stackSvc.Characteristics = append(stackSvc.Characteristics, cfg)
	}
	if err := s.adapter.AddService(&stackSvc); err != nil {
		return errors.Wrap(err, "adding service")
	}
	s.mu.Lock()
	s.service = svc
	for i, sc := range svc.Characteristics {
		s.handles[sc.UUID.String()] = &handles[i]
	}
	s.mu.Unlock()
	return nil
}

// RemoveService withdraws a service. tinygo keeps the database until the
// adapter goes away, so this only detaches the handlers.
func (s *Server) RemoveService(u firacp.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service != nil && s.service.UUID.Equal(u) {
		for _, sc := range s.service.Characteristics {
			delete(s.handles, sc.UUID.String())
		}
		s.service = nil
	}
	return nil
}

// Notify pushes value to subscribed centrals and replays a synthetic
// read so the transport loads its next packet.
func (s *Server) Notify(char firacp.UUID, value []byte) error {
	s.mu.Lock()
	handle, ok := s.handles[char.String()]
	svc := s.service
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("characteristic %s not published", char.String())
	}
	if _, err := handle.Write(value); err != nil {
		return errors.Wrap(err, "notifying")
	}
	if svc == nil {
		return nil
	}
	for _, sc := range svc.Characteristics {
		if sc.UUID.Equal(char) && sc.OnRead != nil {
			onRead := sc.OnRead
			go func() { onRead("") }()
		}
	}
	return nil
}

func toStackFlags(props int) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if props&firacp.CharRead != 0 {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if props&firacp.CharWrite != 0 {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if props&firacp.CharWriteNR != 0 {
		flags |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if props&firacp.CharNotify != 0 {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	return flags
}

func centralName(client bluetooth.Connection) string {
	return fmt.Sprintf("conn-%d", uint16(client))
}
