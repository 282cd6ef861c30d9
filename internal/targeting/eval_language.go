package targeting

// LanguageCategory passes when any accepted language is in the allowed set.
// A request without Accept-Language passes. A header that is present but
// names no language matches nothing.
type LanguageCategory struct{}

// Name implements Category.
func (LanguageCategory) Name() string { return "language" }

// Check implements Category.
func (LanguageCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	if len(rules.Languages) == 0 {
		return true, ""
	}
	if len(req.Languages) == 0 && !req.LanguagesPresent {
		return true, ""
	}
	for _, lang := range req.Languages {
		if containsFold(rules.Languages, lang) {
			return true, ""
		}
	}
	return false, ReasonLanguageNotAllowed
}
