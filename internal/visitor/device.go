package visitor

import (
	"regexp"

	"github.com/hostuk/visibility/internal/targeting"
)

// Mobile patterns are checked before tablet ones, so an iPad that advertises
// "Mobile" in its user agent is classified as mobile.
var (
	mobilePattern = regexp.MustCompile(`(?i)mobile|android|iphone|ipod|blackberry|opera mini|iemobile`)
	tabletPattern = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)
)

// ExtractDeviceType classifies a user agent. Anything unmatched, including an
// empty user agent, is a desktop.
func ExtractDeviceType(userAgent string) targeting.DeviceType {
	switch {
	case mobilePattern.MatchString(userAgent):
		return targeting.DeviceMobile
	case tabletPattern.MatchString(userAgent):
		return targeting.DeviceTablet
	default:
		return targeting.DeviceDesktop
	}
}
