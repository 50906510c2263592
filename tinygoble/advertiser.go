package tinygoble

import (
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/firacp"
)

// An Advertiser drives one tinygo advertisement. The stack exposes a
// single default advertisement per adapter, so only one Advertiser per
// adapter may be active.
type Advertiser struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
}

// NewAdvertiser builds an advertiser over an enabled adapter.
func NewAdvertiser(adapter *bluetooth.Adapter) *Advertiser {
	return &Advertiser{adapter: adapter}
}

// Advertise configures and starts the advertisement. The stack folds the
// scan response into the advertisement options; failures after start are
// not reported by tinygo, so the status callback only ever sees the
// verdict of the start itself.
func (a *Advertiser) Advertise(set firacp.AdvertisingSet, status func(firacp.AdvertiseStatus)) error {
	opts := bluetooth.AdvertisementOptions{}
	for _, u := range set.Advertising.ServiceUUIDs {
		su, err := toStackUUID(u)
		if err != nil {
			return err
		}
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, su)
	}
	for _, sd := range set.ScanResponse.ServiceData {
		su, err := toStackUUID(sd.UUID)
		if err != nil {
			return err
		}
		opts.ServiceData = append(opts.ServiceData, bluetooth.ServiceDataElement{UUID: su, Data: sd.Data})
	}
	for _, md := range set.ScanResponse.ManufacturerData {
		opts.ManufacturerData = append(opts.ManufacturerData, bluetooth.ManufacturerDataElement{
			CompanyID: md.CompanyID,
			Data:      md.Data,
		})
	}
	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(opts); err != nil {
		return errors.Wrap(err, "configuring advertisement")
	}
	if err := adv.Start(); err != nil {
		if status != nil {
			status(firacp.AdvertiseInternalError)
		}
		return errors.Wrap(err, "starting advertisement")
	}
	a.adv = adv
	if status != nil {
		status(firacp.AdvertiseSuccess)
	}
	return nil
}

// Stop stops the advertisement.
func (a *Advertiser) Stop() error {
	if a.adv == nil {
		return nil
	}
	err := a.adv.Stop()
	a.adv = nil
	return errors.Wrap(err, "stopping advertisement")
}
