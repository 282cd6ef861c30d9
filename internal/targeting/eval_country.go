package targeting

// CountryCategory checks the request country against the exclusion and inclusion lists.
type CountryCategory struct {
	// HonourExclusions enables the exclude_countries list.
	HonourExclusions bool
}

// Name implements Category.
func (c CountryCategory) Name() string { return "country" }

// Check implements Category.
//
// Exclusions run first and only bite when the country is known. An unknown
// country passes an inclusion list: operators who need strict blocking are
// expected to use exclude_countries instead.
func (c CountryCategory) Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode) {
	country := req.Country

	if c.HonourExclusions && len(rules.ExcludeCountries) > 0 && country != "" {
		if containsFold(rules.ExcludeCountries, country) {
			return false, ReasonCountryExcluded
		}
	}

	if len(rules.Countries) == 0 || country == "" {
		return true, ""
	}

	if !containsFold(rules.Countries, country) {
		return false, ReasonCountryNotAllowed
	}
	return true, ""
}
