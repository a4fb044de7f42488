package adminapi

import (
	"fmt"
	"net"
	"net/http"

	"github.com/0xReLogic/hellomongo/internal/logging"
)

// IPFilter provides IP-based access control with allow/deny lists
type IPFilter struct {
	allowList []*net.IPNet
	denyList  []*net.IPNet
}

// NewIPFilter creates a new IP filter with the given allow and deny lists
func NewIPFilter(allowList, denyList []string) (*IPFilter, error) {
	allow, err := parseList(allowList)
	if err != nil {
		return nil, fmt.Errorf("allow list: %w", err)
	}
	deny, err := parseList(denyList)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	return &IPFilter{allowList: allow, denyList: deny}, nil
}

func parseList(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		ipNet, err := parseCIDR(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// parseCIDR parses a CIDR notation or single IP address
func parseCIDR(cidr string) (*net.IPNet, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipNet, nil
	}

	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}

	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// IsAllowed checks if the given IP address is allowed. Deny wins over allow;
// an empty allow list admits everything not denied.
func (f *IPFilter) IsAllowed(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, ipNet := range f.denyList {
		if ipNet.Contains(parsedIP) {
			return false
		}
	}

	if len(f.allowList) == 0 {
		return true
	}

	for _, ipNet := range f.allowList {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	return false
}

// Middleware returns an HTTP middleware that filters requests based on IP.
// It reads r.RemoteAddr, so mount it after chi's RealIP to honour proxy headers.
func (f *IPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := remoteIP(r)

		if !f.IsAllowed(clientIP) {
			logger := logging.WithContext(r.Context())
			logger.Warn().
				Str("client_ip", clientIP).
				Str("path", r.URL.Path).
				Msg("IP blocked by filter")

			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("Forbidden: IP address not allowed"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// remoteIP strips the port from r.RemoteAddr. RealIP may already have
// replaced it with a bare address.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
