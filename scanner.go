package firacp

// DiscoveryCallback receives scan-side discovery results and failures.
type DiscoveryCallback interface {
	// OnDiscovered reports one peer whose advertisement decoded and
	// passed the RSSI gate.
	OnDiscovered(r ScanResult, a *DiscoveryAdvertisement)

	// OnDiscoveryFailed passes a stack failure code through verbatim.
	OnDiscoveryFailed(code int)
}

// A ScanProvider scans for FiRa Connector Primary advertisers, decodes
// their discovery advertisements and gates them on the RSSI threshold the
// advertiser asked for.
type ScanProvider struct {
	scanner Scanner
	filters []ScanFilter
	mode    ScanMode
	cb      DiscoveryCallback
	started bool
}

// NewScanProvider builds a provider over a stack scanner. Caller filters
// are applied on top of the implicit FiRa service filter.
func NewScanProvider(scanner Scanner, cb DiscoveryCallback, opts ...ScanOption) *ScanProvider {
	p := &ScanProvider{scanner: scanner, mode: ScanModeBalanced, cb: cb}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ScanOption configures a ScanProvider.
type ScanOption func(*ScanProvider)

// WithScanFilters adds caller scan filters.
func WithScanFilters(filters ...ScanFilter) ScanOption {
	return func(p *ScanProvider) { p.filters = append(p.filters, filters...) }
}

// WithScanMode overrides the balanced default.
func WithScanMode(mode ScanMode) ScanOption {
	return func(p *ScanProvider) { p.mode = mode }
}

// Start begins scanning. Returns false if the stack refused the request.
func (p *ScanProvider) Start() bool {
	if p.started {
		return true
	}
	filters := append(append([]ScanFilter(nil), p.filters...), ScanFilter{ServiceUUID: ServiceUUID})
	if err := p.scanner.Scan(filters, p.mode, p.onResult, p.onFailed); err != nil {
		log.WithError(err).Warn("scan request refused")
		return false
	}
	p.started = true
	return true
}

// Stop stops scanning.
func (p *ScanProvider) Stop() bool {
	if !p.started {
		return true
	}
	if err := p.scanner.Stop(); err != nil {
		log.WithError(err).Warn("stop scanning failed")
		return false
	}
	p.started = false
	return true
}

func (p *ScanProvider) onResult(r ScanResult) {
	if r.Record == nil {
		return
	}
	serviceData, ok := r.Record.LookupServiceData(ServiceUUID)
	if !ok {
		return
	}
	adv, err := DecodeDiscoveryAdvertisement(serviceData, r.Record.ManufacturerData)
	if err != nil {
		log.WithError(err).WithField("address", r.Address).Debug("dropping undecodable advertisement")
		return
	}
	if !passesRssiGate(adv, r.RSSI) {
		return
	}
	if p.cb != nil {
		p.cb.OnDiscovered(r, adv)
	}
}

// passesRssiGate applies the advertiser-requested threshold. The −128
// sentinel, or a missing UWB indication, accepts unconditionally.
func passesRssiGate(adv *DiscoveryAdvertisement, rssi int) bool {
	if adv.UwbIndication == nil {
		return true
	}
	threshold := adv.UwbIndication.BluetoothRssiThresholdDbm
	return threshold == NoRssiThreshold || rssi >= int(threshold)
}

func (p *ScanProvider) onFailed(code int) {
	log.WithField("code", code).Warn("scan failed")
	if p.cb != nil {
		p.cb.OnDiscoveryFailed(code)
	}
}
