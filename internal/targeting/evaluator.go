package targeting

import "strings"

// Category is the interface every rule category must implement.
// A category is a pure predicate over the RuleSet and the RequestContext.
type Category interface {
	// Name identifies the category in logs and metrics.
	Name() string

	// Check reports whether the request passes this category.
	// When it does not, the ReasonCode says why.
	// Implementations must not mutate either argument.
	Check(rules *RuleSet, req *RequestContext) (bool, ReasonCode)
}

// containsFold reports whether list holds v, ignoring case.
func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
