package firacp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdvertiser struct {
	set      AdvertisingSet
	status   func(AdvertiseStatus)
	startErr error
	stops    int
}

func (f *fakeAdvertiser) Advertise(set AdvertisingSet, status func(AdvertiseStatus)) error {
	f.set = set
	f.status = status
	return f.startErr
}

func (f *fakeAdvertiser) Stop() error { f.stops++; return nil }

type fakeScanner struct {
	filters []ScanFilter
	mode    ScanMode
	result  func(ScanResult)
	failed  func(code int)
	scanErr error
	stops   int
}

func (f *fakeScanner) Scan(filters []ScanFilter, mode ScanMode, result func(ScanResult), failed func(code int)) error {
	f.filters = filters
	f.mode = mode
	f.result = result
	f.failed = failed
	return f.scanErr
}

func (f *fakeScanner) Stop() error { f.stops++; return nil }

type discoveryRecorder struct {
	discovered chan ScanResult
	advs       chan *DiscoveryAdvertisement
	failures   chan int
}

func newDiscoveryRecorder() *discoveryRecorder {
	return &discoveryRecorder{
		discovered: make(chan ScanResult, 32),
		advs:       make(chan *DiscoveryAdvertisement, 32),
		failures:   make(chan int, 32),
	}
}

func (r *discoveryRecorder) OnDiscovered(res ScanResult, a *DiscoveryAdvertisement) {
	r.discovered <- res
	r.advs <- a
}

func (r *discoveryRecorder) OnDiscoveryFailed(code int) { r.failures <- code }

func TestAdvertiseProviderSet(t *testing.T) {
	f := &fakeAdvertiser{}
	rec := newDiscoveryRecorder()
	p := NewAdvertiseProvider(f, sampleAdvertisement(), rec)
	require.True(t, p.Start())

	require.True(t, f.set.Connectable)
	require.Len(t, f.set.Advertising.ServiceUUIDs, 1)
	require.True(t, f.set.Advertising.ServiceUUIDs[0].Equal(ServiceUUID))
	require.Empty(t, f.set.Advertising.ServiceData, "discovery data belongs in the scan response")

	require.Len(t, f.set.ScanResponse.ServiceData, 1)
	wantData, err := sampleAdvertisement().Encode(false)
	require.NoError(t, err)
	require.Equal(t, wantData, f.set.ScanResponse.ServiceData[0].Data)

	// Vendor entries travel as manufacturer data, not in the service data.
	require.Len(t, f.set.ScanResponse.ManufacturerData, 1)
	require.Equal(t, uint16(0x00E0), f.set.ScanResponse.ManufacturerData[0].CompanyID)

	require.True(t, p.Start(), "second start is a no-op")
	require.True(t, p.Stop())
	require.Equal(t, 1, f.stops)
}

func TestAdvertiseProviderStatusContract(t *testing.T) {
	f := &fakeAdvertiser{}
	rec := newDiscoveryRecorder()
	p := NewAdvertiseProvider(f, nil, rec)
	require.True(t, p.Start())

	f.status(AdvertiseSuccess)
	f.status(AdvertiseAlreadyStarted)
	expectNone(t, rec.failures)

	f.status(AdvertiseDataTooLarge)
	require.Equal(t, int(AdvertiseDataTooLarge), recv(t, rec.failures))
}

func TestAdvertiseProviderStartFailure(t *testing.T) {
	f := &fakeAdvertiser{startErr: errors.New("radio busy")}
	p := NewAdvertiseProvider(f, nil, newDiscoveryRecorder())
	require.False(t, p.Start())
}

func serviceDataRecord(t *testing.T, adv *DiscoveryAdvertisement, manufacturer []ManufacturerData) *ScanRecord {
	t.Helper()
	data, err := adv.Encode(false)
	require.NoError(t, err)
	return &ScanRecord{
		ServiceUUIDs:     []UUID{ServiceUUID},
		ServiceData:      []ServiceData{{UUID: ServiceUUID, Data: data}},
		ManufacturerData: manufacturer,
	}
}

func TestScanProviderFilters(t *testing.T) {
	f := &fakeScanner{}
	rec := newDiscoveryRecorder()
	p := NewScanProvider(f, rec, WithScanFilters(ScanFilter{ServiceUUID: UUID16(0x1800)}))
	require.True(t, p.Start())

	require.Equal(t, ScanModeBalanced, f.mode)
	require.Len(t, f.filters, 2, "caller filter plus the implicit FiRa filter")
	require.True(t, f.filters[1].ServiceUUID.Equal(ServiceUUID))

	require.True(t, p.Stop())
	require.Equal(t, 1, f.stops)
}

func TestScanProviderResultGating(t *testing.T) {
	f := &fakeScanner{}
	rec := newDiscoveryRecorder()
	p := NewScanProvider(f, rec)
	require.True(t, p.Start())

	// No record, no service data, undecodable service data: all dropped.
	f.result(ScanResult{Address: "A", RSSI: -40})
	f.result(ScanResult{Address: "B", RSSI: -40, Record: &ScanRecord{}})
	f.result(ScanResult{Address: "C", RSSI: -40, Record: &ScanRecord{
		ServiceData: []ServiceData{{UUID: ServiceUUID, Data: []byte{0xA1, 0x00}}},
	}})
	expectNone(t, rec.discovered)

	// RSSI below the advertised threshold is dropped, at or above passes.
	gated := &DiscoveryAdvertisement{
		UwbIndication: &UwbIndicationData{BluetoothRssiThresholdDbm: -60},
	}
	f.result(ScanResult{Address: "D", RSSI: -70, Record: serviceDataRecord(t, gated, nil)})
	expectNone(t, rec.discovered)
	f.result(ScanResult{Address: "E", RSSI: -60, Record: serviceDataRecord(t, gated, nil)})
	require.Equal(t, "E", recv(t, rec.discovered).Address)
	recv(t, rec.advs)

	// The −128 sentinel accepts any signal.
	open := &DiscoveryAdvertisement{
		UwbIndication: &UwbIndicationData{BluetoothRssiThresholdDbm: NoRssiThreshold},
	}
	f.result(ScanResult{Address: "F", RSSI: -127, Record: serviceDataRecord(t, open, nil)})
	require.Equal(t, "F", recv(t, rec.discovered).Address)
	recv(t, rec.advs)
}

func TestScanProviderMergesManufacturerData(t *testing.T) {
	f := &fakeScanner{}
	rec := newDiscoveryRecorder()
	p := NewScanProvider(f, rec)
	require.True(t, p.Start())

	adv := sampleAdvertisement()
	manufacturer := []ManufacturerData{{CompanyID: 0x00E0, Data: []byte{0x01, 0x02}}}
	f.result(ScanResult{Address: "G", RSSI: -30, Record: serviceDataRecord(t, adv, manufacturer)})
	recv(t, rec.discovered)
	got := recv(t, rec.advs)
	require.Equal(t, adv.Vendor, got.Vendor)
}

func TestScanProviderFailure(t *testing.T) {
	f := &fakeScanner{}
	rec := newDiscoveryRecorder()
	p := NewScanProvider(f, rec)
	require.True(t, p.Start())

	f.failed(7)
	require.Equal(t, 7, recv(t, rec.failures))
}
