package targeting

// BrowserCategory checks the canonical browser name. An undetectable browser passes.
type BrowserCategory struct{}

// Name implements Category.
func (BrowserCategory) Name() string { return "browser" }

// Check implements Category.
func (BrowserCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	if allowedOrUnknown(rules.Browsers, req.Browser) {
		return true, ""
	}
	return false, ReasonBrowserNotAllowed
}

// OSCategory checks the canonical operating system name. An undetectable OS passes.
type OSCategory struct{}

// Name implements Category.
func (OSCategory) Name() string { return "os" }

// Check implements Category.
func (OSCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	if allowedOrUnknown(rules.OperatingSystems, req.OperatingSystem) {
		return true, ""
	}
	return false, ReasonOSNotAllowed
}

func allowedOrUnknown(allowed []string, value string) bool {
	if len(allowed) == 0 || value == "" {
		return true
	}
	return containsFold(allowed, value)
}
