package httpx

import (
	"net"
	"strconv"
	"strings"
)

// buildAddress joins the host of the address with the real port of the
// listener, the zone becomes a subdomain.
//
// As example, address host.com:8080 and listener 123.123.123.123:8888 will be
// transformed to host.com:8888.
func buildAddress(address string, zone string, l Listener) string {
	addr, _, err := net.SplitHostPort(address)
	if err != nil {
		addr = address
	}
	if addr == "" {
		addr = "localhost"
	}
	addr = withZonePrefix(addr, zone)

	port := l.GetPort()
	if port > 0 && port != 80 && port != 443 {
		addr += ":" + strconv.Itoa(port)
	}
	return addr
}

func withZonePrefix(host string, zone string) string {
	if zone == "" {
		return host
	}
	return zone + "." + host
}

func extractHost(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return strings.TrimSuffix(addr, ":")
}
