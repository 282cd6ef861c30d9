package targeting

import "slices"

// DeviceCategory checks the device class. There is no fail-open here: the
// extractor always classifies a request, defaulting to desktop.
type DeviceCategory struct{}

// Name implements Category.
func (DeviceCategory) Name() string { return "device" }

// Check implements Category.
func (DeviceCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	if len(rules.Devices) == 0 {
		return true, ""
	}
	if !slices.Contains(rules.Devices, req.Device) {
		return false, ReasonDeviceNotAllowed
	}
	return true, ""
}
