package visitor

import (
	"strconv"
	"strings"

	"github.com/mssola/useragent"
)

// Canonical browser names.
const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserBrave   = "Brave"
	BrowserSamsung = "Samsung Browser"
)

// Canonical operating system names.
const (
	OSWindows10 = "Windows 10"
	OSWindows11 = "Windows 11"
	OSMacOS     = "macOS"
	OSIOS       = "iOS"
	OSAndroid   = "Android"
	OSLinux     = "Linux"
	OSChromeOS  = "Chrome OS"
)

// ClientHints carries the optional User-Agent Client Hints the classifier understands.
type ClientHints struct {
	// PlatformVersion is Sec-CH-UA-Platform-Version, e.g. "15.0.0".
	PlatformVersion string
}

// Classification is a browser and operating system, each empty when undetectable.
type Classification struct {
	Browser         string
	OperatingSystem string
}

// Classifier maps a user agent to canonical browser and OS names.
// Implementations must be deterministic and safe for concurrent use.
type Classifier interface {
	Classify(userAgent string, hints ClientHints) Classification
}

// browserTokens identify browsers that either hide behind a Chrome or Safari
// user agent or that the parser reports under a different name. First match wins.
var browserTokens = []struct {
	token string
	name  string
}{
	{"samsungbrowser/", BrowserSamsung},
	{"brave", BrowserBrave},
	{"edg/", BrowserEdge},
	{"edge/", BrowserEdge},
	{"edga/", BrowserEdge},
	{"edgios/", BrowserEdge},
	{"opr/", BrowserOpera},
	{"opera", BrowserOpera},
	{"crios/", BrowserChrome},
	{"fxios/", BrowserFirefox},
}

// parserBrowsers maps the parser's names onto the canonical vocabulary.
var parserBrowsers = map[string]string{
	"Chrome":  BrowserChrome,
	"Firefox": BrowserFirefox,
	"Safari":  BrowserSafari,
	"Edge":    BrowserEdge,
	"Opera":   BrowserOpera,
}

// osTokens are checked in order; Chrome OS and Android both advertise Linux.
var osTokens = []struct {
	token string
	name  string
}{
	{"cros ", OSChromeOS},
	{"iphone", OSIOS},
	{"ipad", OSIOS},
	{"ipod", OSIOS},
	{"android", OSAndroid},
	{"windows nt 10.0", OSWindows10},
	{"macintosh", OSMacOS},
	{"mac os x", OSMacOS},
	{"linux", OSLinux},
}

// windows11MajorVersion is the first Sec-CH-UA-Platform-Version major that denotes Windows 11.
const windows11MajorVersion = 13

// UserAgentClassifier is the default Classifier, built on github.com/mssola/useragent.
type UserAgentClassifier struct{}

// Classify implements Classifier.
func (UserAgentClassifier) Classify(userAgent string, hints ClientHints) Classification {
	if strings.TrimSpace(userAgent) == "" {
		return Classification{}
	}

	lower := strings.ToLower(userAgent)
	return Classification{
		Browser:         classifyBrowser(userAgent, lower),
		OperatingSystem: classifyOS(lower, hints),
	}
}

func classifyBrowser(userAgent, lower string) string {
	for _, t := range browserTokens {
		if strings.Contains(lower, t.token) {
			return t.name
		}
	}

	ua := useragent.New(userAgent)
	if ua.Bot() {
		return ""
	}
	name, _ := ua.Browser()
	return parserBrowsers[name]
}

func classifyOS(lower string, hints ClientHints) string {
	for _, t := range osTokens {
		if !strings.Contains(lower, t.token) {
			continue
		}
		if t.name == OSWindows10 && isWindows11(hints.PlatformVersion) {
			return OSWindows11
		}
		return t.name
	}
	return ""
}

// isWindows11 reads the major component of a (possibly quoted) platform version hint.
func isWindows11(platformVersion string) bool {
	v := strings.Trim(strings.TrimSpace(platformVersion), `"`)
	if v == "" {
		return false
	}
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	return err == nil && n >= windows11MajorVersion
}
