// Package privacy scrubs data that could identify a user, a recording site
// or the host from messages leaving the process, such as telemetry events.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// Patterns are compiled once; ScrubMessage runs for every reported event
var (
	urlPattern = regexp.MustCompile(`\b(?:https?|ftp)://[^\s"'<>]+`)

	// a latitude,longitude pair as sent with uploads
	coordPattern = regexp.MustCompile(`-?\d{1,3}\.\d{2,}\s*,\s*-?\d{1,3}\.\d{2,}`)

	// absolute paths with at least two segments, e.g. scratch directories
	pathPattern = regexp.MustCompile(`(^|[\s"'=(:])(?:/[^\s/"'():]+){2,}/?`)
)

// ScrubMessage replaces URLs, coordinate pairs and absolute file paths in
// message. URLs become stable hashes so repeated failures against the same
// endpoint can still be grouped.
func ScrubMessage(message string) string {
	if message == "" {
		return ""
	}
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = coordPattern.ReplaceAllString(message, "[LAT],[LON]")
	message = pathPattern.ReplaceAllString(message, "${1}[PATH]")
	return message
}

// AnonymizeURL returns "url-" followed by a hash of the URL structure:
// scheme, host category, port and hashed path segments. Credentials, query
// strings and host names never contribute to the result directly.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	parts := make([]string, 0, 4)
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := u.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizePath(u.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// categorizeHost reduces a host to localhost, private-ip, public-ip or the
// top level domain of a name
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return "localhost"
		case addr.IsPrivate(), addr.IsLinkLocalUnicast(), addr.IsMulticast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}

	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return "domain-" + strings.ToLower(host[i+1:])
	}
	return "unknown-host"
}

// anonymizePath keeps the number of path segments and replaces each one
// with a short hash
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var segments []string
	for segment := range strings.SplitSeq(path, "/") {
		switch {
		case segment == "":
			continue
		case isNumeric(segment):
			segments = append(segments, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			segments = append(segments, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
