package transport

import (
	"errors"
	"net"
	"strings"
)

var dnsFailureMarkers = []string{
	"unable to resolve host",
	"no address associated with hostname",
	"unknownhost",
}

// isDNSFailure reports whether err is a name resolution failure. Such
// failures wait twice as long before the next reconnect attempt.
func isDNSFailure(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range dnsFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
