package firacp

// AdvertiseCallback receives advertise-side discovery failures.
type AdvertiseCallback interface {
	// OnDiscoveryFailed passes a stack failure code through verbatim.
	OnDiscoveryFailed(code int)
}

// An AdvertiseProvider advertises the FiRa Connector Primary service so
// scanning peers can find and connect to this device. The advertising PDU
// carries only the service UUID; the discovery advertisement rides in the
// scan response, with vendor entries rendered as separate
// Manufacturer-Specific Data objects.
type AdvertiseProvider struct {
	advertiser Advertiser
	adv        *DiscoveryAdvertisement
	cb         AdvertiseCallback
	legacy     bool
	started    bool
}

// NewAdvertiseProvider builds a provider over a stack advertiser. adv may
// be nil to advertise bare service presence.
func NewAdvertiseProvider(advertiser Advertiser, adv *DiscoveryAdvertisement, cb AdvertiseCallback, opts ...AdvertiseOption) *AdvertiseProvider {
	p := &AdvertiseProvider{advertiser: advertiser, adv: adv, cb: cb}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AdvertiseOption configures an AdvertiseProvider.
type AdvertiseOption func(*AdvertiseProvider)

// WithLegacyAdvertising forces legacy advertising PDUs.
func WithLegacyAdvertising() AdvertiseOption {
	return func(p *AdvertiseProvider) { p.legacy = true }
}

// Start begins advertising. No device name and no TX power go into the
// AD. Returns false if the set could not be built or the stack refused
// the request; asynchronous stack failures arrive on the callback, with
// success and already-started codes swallowed.
func (p *AdvertiseProvider) Start() bool {
	if p.started {
		return true
	}
	set, err := p.buildSet()
	if err != nil {
		log.WithError(err).Warn("cannot build advertising set")
		return false
	}
	if err := p.advertiser.Advertise(set, p.onStatus); err != nil {
		log.WithError(err).Warn("advertise request refused")
		return false
	}
	p.started = true
	return true
}

// Stop stops the advertising set.
func (p *AdvertiseProvider) Stop() bool {
	if !p.started {
		return true
	}
	if err := p.advertiser.Stop(); err != nil {
		log.WithError(err).Warn("stop advertising failed")
		return false
	}
	p.started = false
	return true
}

func (p *AdvertiseProvider) buildSet() (AdvertisingSet, error) {
	set := AdvertisingSet{
		Connectable: true,
		Legacy:      p.legacy,
		Advertising: AdvPayload{ServiceUUIDs: []UUID{ServiceUUID}},
	}
	set.ScanResponse.ServiceUUIDs = []UUID{ServiceUUID}
	if p.adv == nil {
		return set, nil
	}
	data, err := p.adv.Encode(false)
	if err != nil {
		return AdvertisingSet{}, err
	}
	set.ScanResponse.ServiceData = []ServiceData{{UUID: ServiceUUID, Data: data}}
	for _, v := range p.adv.Vendor {
		set.ScanResponse.ManufacturerData = append(set.ScanResponse.ManufacturerData, ManufacturerData{
			CompanyID: v.VendorID,
			Data:      v.Data,
		})
	}
	return set, nil
}

func (p *AdvertiseProvider) onStatus(s AdvertiseStatus) {
	switch s {
	case AdvertiseSuccess, AdvertiseAlreadyStarted:
		return
	}
	log.WithField("code", int(s)).Warn("advertising failed")
	if p.cb != nil {
		p.cb.OnDiscoveryFailed(int(s))
	}
}
