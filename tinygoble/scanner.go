package tinygoble

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/firacp"
)

// A Scanner drives the adapter's GAP scan. tinygo's Scan call blocks, so
// the scan runs on its own goroutine until Stop.
type Scanner struct {
	adapter *bluetooth.Adapter
	log     *logrus.Entry
	active  bool

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

// NewScanner builds a scanner over an enabled adapter.
func NewScanner(adapter *bluetooth.Adapter, log *logrus.Entry) *Scanner {
	return &Scanner{adapter: adapter, log: log, seen: make(map[string]bluetooth.Address)}
}

// AddressOf resolves a scan-result address string back to the stack
// address, for handing a discovered peer to NewClient.
func (s *Scanner) AddressOf(address string) (bluetooth.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.seen[address]
	return a, ok
}

// Scan starts scanning. Filters are applied here because tinygo exposes
// no hardware filter API; the scan mode is accepted for interface
// compatibility and left to the stack's defaults.
func (s *Scanner) Scan(filters []firacp.ScanFilter, _ firacp.ScanMode, result func(firacp.ScanResult), failed func(code int)) error {
	if s.active {
		return errors.New("scan already active")
	}
	stackFilters := make([]bluetooth.UUID, 0, len(filters))
	for _, f := range filters {
		su, err := toStackUUID(f.ServiceUUID)
		if err != nil {
			return err
		}
		stackFilters = append(stackFilters, su)
	}
	s.active = true
	go func() {
		err := s.adapter.Scan(func(_ *bluetooth.Adapter, device bluetooth.ScanResult) {
			for _, su := range stackFilters {
				if !device.HasServiceUUID(su) {
					return
				}
			}
			s.mu.Lock()
			s.seen[device.Address.String()] = device.Address
			s.mu.Unlock()
			result(toScanResult(device))
		})
		if err != nil && failed != nil {
			s.log.WithError(err).Warn("scan stopped with error")
			failed(1)
		}
	}()
	return nil
}

// Stop ends the scan and unblocks the scan goroutine.
func (s *Scanner) Stop() error {
	if !s.active {
		return nil
	}
	s.active = false
	return errors.Wrap(s.adapter.StopScan(), "stopping scan")
}

func toScanResult(device bluetooth.ScanResult) firacp.ScanResult {
	record := &firacp.ScanRecord{LocalName: device.LocalName()}
	for _, sd := range device.ServiceData() {
		record.ServiceData = append(record.ServiceData, firacp.ServiceData{
			UUID: fromStackUUID(sd.UUID),
			Data: sd.Data,
		})
	}
	for _, md := range device.ManufacturerData() {
		record.ManufacturerData = append(record.ManufacturerData, firacp.ManufacturerData{
			CompanyID: md.CompanyID,
			Data:      md.Data,
		})
	}
	return firacp.ScanResult{
		Address: device.Address.String(),
		RSSI:    int(device.RSSI),
		Record:  record,
	}
}
