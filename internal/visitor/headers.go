// Package visitor turns an inbound HTTP request into the normalized facts the
// targeting engine evaluates: country, device class, browser, operating system,
// accepted languages and the evaluation instant.
package visitor

import (
	"net/http"
	"strings"
)

// Request headers read by the extractor.
const (
	HeaderUserAgent       = "User-Agent"
	HeaderAcceptLanguage  = "Accept-Language"
	HeaderPlatformVersion = "Sec-CH-UA-Platform-Version"
)

// baseCountryHeaders is the CDN geolocation chain shared by both scopes, in priority order.
var baseCountryHeaders = []string{
	"CF-IPCountry",              // Cloudflare
	"X-Country-Code",            // generic reverse proxies
	"CloudFront-Viewer-Country", // AWS CloudFront
	"Fastly-Geo-Country-Code",   // Fastly
}

// unknownCountries are CDN markers for "could not determine" (XX) and Tor exit nodes (T1).
var unknownCountries = map[string]struct{}{
	"XX": {},
	"T1": {},
}

// BlockCountryHeaders returns the candidate chain used for block conditions.
func BlockCountryHeaders() []string {
	return append([]string(nil), baseCountryHeaders...)
}

// PageCountryHeaders returns the candidate chain used for page targeting,
// which additionally consults Vercel.
func PageCountryHeaders() []string {
	return append(BlockCountryHeaders(), "X-Vercel-IP-Country")
}

// ExtractCountry returns the first non-empty candidate header, upper-cased.
// Sentinel values are reported as unknown (""), without falling through to
// later candidates.
func ExtractCountry(h http.Header, candidates []string) string {
	for _, name := range candidates {
		value := strings.ToUpper(strings.TrimSpace(h.Get(name)))
		if value == "" {
			continue
		}
		if _, unknown := unknownCountries[value]; unknown {
			return ""
		}
		return value
	}
	return ""
}
