package visitor

import (
	"slices"
	"strings"

	"github.com/hostuk/visibility/internal/targeting"
)

// ExtractLanguages returns the primary subtags of an Accept-Language value in
// order of appearance, lower-cased and de-duplicated. Quality weights are
// dropped without reordering. The "*" wildcard names no language and is skipped.
func ExtractLanguages(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}

	var tags []string
	for entry := range strings.SplitSeq(header, ",") {
		tag, _, _ := strings.Cut(entry, ";")
		tags = append(tags, tag)
	}
	return NormaliseLanguages(tags)
}

// NormaliseLanguages reduces language tags to unique primary subtags, keeping
// first-occurrence order. Blank tags and "*" are skipped.
func NormaliseLanguages(tags []string) []string {
	var langs []string
	for _, tag := range tags {
		primary := targeting.PrimarySubtag(tag)
		if primary == "" || primary == "*" || slices.Contains(langs, primary) {
			continue
		}
		langs = append(langs, primary)
	}
	return langs
}

// LanguagesPresent reports whether an Accept-Language value was sent at all.
// A present header that names no language still constrains a language rule.
func LanguagesPresent(header string) bool {
	return strings.TrimSpace(header) != ""
}
