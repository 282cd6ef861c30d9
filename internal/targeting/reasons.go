package targeting

// ReasonCode explains why a Decision denied access. It is empty when access is allowed.
type ReasonCode string

const (
	ReasonCountryExcluded    ReasonCode = "country_excluded"
	ReasonCountryNotAllowed  ReasonCode = "country_not_allowed"
	ReasonDeviceNotAllowed   ReasonCode = "device_not_allowed"
	ReasonBrowserNotAllowed  ReasonCode = "browser_not_allowed"
	ReasonOSNotAllowed       ReasonCode = "os_not_allowed"
	ReasonLanguageNotAllowed ReasonCode = "language_not_allowed"
	ReasonScheduleInactive   ReasonCode = "schedule_inactive"

	// Block gates, evaluated before the block's RuleSet.
	ReasonBlockDisabled   ReasonCode = "block_disabled"
	ReasonBlockOutOfRange ReasonCode = "block_out_of_range"
)

// GenericMessage is shown for any reason without a dedicated message.
const GenericMessage = "This content is not available."

var messages = map[ReasonCode]string{
	ReasonCountryExcluded:    "This content is not available in your region.",
	ReasonCountryNotAllowed:  "This content is not available in your region.",
	ReasonDeviceNotAllowed:   "This content is not available on your device.",
	ReasonBrowserNotAllowed:  "This content is not available in your browser.",
	ReasonOSNotAllowed:       "This content is not available on your operating system.",
	ReasonLanguageNotAllowed: "This content is not available in your language.",
}

// Message maps a reason code to the user-facing fallback message.
func Message(code ReasonCode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return GenericMessage
}

// Reasons lists every reason code the engine can produce, in evaluation order.
func Reasons() []ReasonCode {
	return []ReasonCode{
		ReasonBlockDisabled,
		ReasonBlockOutOfRange,
		ReasonCountryExcluded,
		ReasonCountryNotAllowed,
		ReasonDeviceNotAllowed,
		ReasonBrowserNotAllowed,
		ReasonOSNotAllowed,
		ReasonLanguageNotAllowed,
		ReasonScheduleInactive,
	}
}
