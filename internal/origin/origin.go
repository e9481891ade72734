// Package origin implements the browser Origin policy shared by the /ws
// upgrade and the CORS-enabled HTTP endpoints.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Check applies the policy to r's Origin header. Requests without one come
// from non-browser clients and are allowed with an empty normalizedOrigin.
func Check(r *http.Request, allowedOrigins []string) (normalizedOrigin string, ok bool) {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return "", true
	}
	normalizedOrigin, originHost, ok := NormalizeHeader(originHeader)
	if !ok || !IsAllowed(normalizedOrigin, originHost, r.Host, allowedOrigins) {
		return "", false
	}
	return normalizedOrigin, true
}

// NormalizeHeader validates a browser Origin header and returns its canonical
// scheme://host[:port] form along with the host[:port] part. Scheme and host
// are lowercased and default ports dropped. The opaque origin "null" is
// returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether normalizedOrigin may reach a server addressed as
// requestHost.
//
// A non-empty allowedOrigins is an exact allow list of normalized origins,
// where "*" matches anything. An empty list means same host only: the origin's
// host[:port] must equal the request Host, with default ports equivalent.
// Schemes are not compared since TLS is commonly terminated in front of the
// signaling server.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		// Includes "null", which has no host to compare.
		return false
	}
	want, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	return ok && originHost == want
}

// canonicalHost lowercases an authority host[:port], validates the port, and
// drops it when it is the scheme's default. IPv6 literals keep their brackets.
func canonicalHost(rawHost, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(rawHost))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port], stripping IPv6 brackets. The port is not
// validated and is empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if bracketed, isIPv6 := strings.CutPrefix(rawHost, "["); isIPv6 {
		literal, rest, closed := strings.Cut(bracketed, "]")
		if !closed {
			return "", "", false
		}
		if rest == "" {
			return literal, "", true
		}
		p, hasPort := strings.CutPrefix(rest, ":")
		if !hasPort || p == "" {
			return "", "", false
		}
		return literal, p, true
	}

	hostname, port, hasPort := strings.Cut(rawHost, ":")
	switch {
	case hostname == "":
		return "", "", false
	case !hasPort:
		return hostname, "", true
	case port == "" || strings.Contains(port, ":"):
		// Unbracketed IPv6 literals are not valid authorities.
		return "", "", false
	}
	return hostname, port, true
}
