package visitor

import (
	"net/http"
	"time"

	"github.com/hostuk/visibility/internal/targeting"
)

// Extractor builds a targeting.RequestContext from request headers.
// It is safe for concurrent use.
type Extractor struct {
	classifier   Classifier
	location     *time.Location
	now          func() time.Time
	pageHeaders  []string
	blockHeaders []string
}

// NewExtractor creates an Extractor.
//
// Parameters:
//   - classifier: Browser/OS classifier (defaults to UserAgentClassifier).
//   - location: Time zone for wall-clock schedule checks (defaults to UTC).
//   - now: Clock (defaults to time.Now). Tests inject a fixed instant here.
//   - extraCountryHeaders: Appended to both country candidate chains.
func NewExtractor(classifier Classifier, location *time.Location, now func() time.Time, extraCountryHeaders ...string) *Extractor {
	if classifier == nil {
		classifier = UserAgentClassifier{}
	}
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}

	return &Extractor{
		classifier:   classifier,
		location:     location,
		now:          now,
		pageHeaders:  append(PageCountryHeaders(), extraCountryHeaders...),
		blockHeaders: append(BlockCountryHeaders(), extraCountryHeaders...),
	}
}

// Extract reads the facts for one request. The scope selects the country
// header chain: page targeting also trusts Vercel.
func (e *Extractor) Extract(r *http.Request, scope targeting.Scope) targeting.RequestContext {
	return e.ExtractHeaders(r.Header, scope)
}

// ExtractHeaders is Extract over a bare header set.
func (e *Extractor) ExtractHeaders(h http.Header, scope targeting.Scope) targeting.RequestContext {
	candidates := e.blockHeaders
	if scope == targeting.ScopePage {
		candidates = e.pageHeaders
	}

	userAgent := h.Get(HeaderUserAgent)
	acceptLanguage := h.Get(HeaderAcceptLanguage)
	client := e.classifier.Classify(userAgent, ClientHints{
		PlatformVersion: h.Get(HeaderPlatformVersion),
	})

	return targeting.RequestContext{
		Country:          ExtractCountry(h, candidates),
		Device:           ExtractDeviceType(userAgent),
		Browser:          client.Browser,
		OperatingSystem:  client.OperatingSystem,
		Languages:        ExtractLanguages(acceptLanguage),
		LanguagesPresent: LanguagesPresent(acceptLanguage),
		Now:              e.Now(),
	}
}

// Now returns the current instant in the configured time zone.
func (e *Extractor) Now() time.Time {
	return e.now().In(e.location)
}
