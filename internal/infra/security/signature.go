package security

import (
	"net"
	"strings"
)

// SubnetPrefix reduces an address to the granularity used by the hijack
// heuristic: the first three octets for IPv4, the first four groups (/64) for
// IPv6. Subnet-local movement keeps the prefix stable; a network change does
// not. Unparseable input returns the raw string so equal garbage still
// compares equal.
func SubnetPrefix(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return address
	}

	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}

	masked := ip.Mask(net.CIDRMask(64, 128))
	return masked.String()
}

// ClientProfile is the coarse browser-family/OS-family pair extracted from a
// client signature. Patch-level and version changes keep the profile stable;
// family-level changes are treated as suspicious.
type ClientProfile struct {
	BrowserFamily string
	OSFamily      string
}

// ParseClientSignature extracts the coarse client profile from a user-agent
// style signature string.
func ParseClientSignature(signature string) ClientProfile {
	lower := strings.ToLower(strings.TrimSpace(signature))
	if lower == "" {
		return ClientProfile{BrowserFamily: "unknown", OSFamily: "unknown"}
	}

	return ClientProfile{
		BrowserFamily: browserFamily(lower),
		OSFamily:      osFamily(lower),
	}
}

// SameFamily reports whether two signatures resolve to the same coarse
// profile. Empty signatures match anything: absence of a signal is not a
// hijack signal.
func SameFamily(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return true
	}
	return ParseClientSignature(a) == ParseClientSignature(b)
}

func browserFamily(lower string) string {
	switch {
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge"):
		return "edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		return "opera"
	case strings.Contains(lower, "firefox"):
		return "firefox"
	case strings.Contains(lower, "chrome") || strings.Contains(lower, "crios"):
		return "chrome"
	case strings.Contains(lower, "safari"):
		return "safari"
	default:
		return "unknown"
	}
}

func osFamily(lower string) string {
	switch {
	case strings.Contains(lower, "windows"):
		return "windows"
	case strings.Contains(lower, "android"):
		return "android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		return "ios"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		return "macos"
	case strings.Contains(lower, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}
