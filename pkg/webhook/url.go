package webhook

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"time"
)

// deniedCIDRs are the private/loopback/link-local ranges a webhook target
// may never resolve into (§4.5). Enforced twice: at registration, against
// every address the host resolves to, and again at connect time by
// dialControl, since a hostname can repoint between validation and dial.
var deniedCIDRs = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("webhook: invalid CIDR literal %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

func deniedIP(ip net.IP) bool {
	for _, denied := range deniedCIDRs {
		if denied.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateURL enforces the webhook registration-time URL hygiene rule
// (§4.5): https only, except the literal host "localhost" when
// allowLocalhost is set (non-production environments); and the target
// must not live in a denied private/loopback/link-local range — checked
// against the literal IP when the host is one, and against every
// DNS-resolved address otherwise. A host that cannot be resolved is
// rejected outright.
func ValidateURL(ctx context.Context, rawURL string, allowLocalhost bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed webhook URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("webhook URL has no host")
	}

	if host == "localhost" {
		if !allowLocalhost {
			return fmt.Errorf("webhook URL may not target localhost")
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("webhook URL must use http or https (got %q)", parsed.Scheme)
		}
		return nil
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("webhook URL must use https (got %q)", parsed.Scheme)
	}

	if ip := net.ParseIP(host); ip != nil {
		if deniedIP(ip) {
			return fmt.Errorf("webhook URL targets a disallowed private address range: %s", ip)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("webhook host %q does not resolve: %w", host, err)
	}
	for _, addr := range addrs {
		if deniedIP(addr.IP) {
			return fmt.Errorf("webhook host %q resolves to a disallowed private address: %s", host, addr.IP)
		}
	}
	return nil
}

// dialControl is the connect-time backstop behind ValidateURL: it runs on
// the address actually being dialed (post-DNS), so a hostname that
// repoints into a denied range after registration is still refused.
func dialControl(allowLocalhost bool) func(network, address string, _ syscall.RawConn) error {
	return func(_, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("webhook: malformed dial address %q: %w", address, err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("webhook: dial address %q is not an IP", address)
		}
		if allowLocalhost && ip.IsLoopback() {
			return nil
		}
		if deniedIP(ip) {
			return fmt.Errorf("webhook: refusing to dial private address %s", ip)
		}
		return nil
	}
}

// guardedDialer wires dialControl into the dialer the dispatcher's HTTP
// transport uses for every delivery.
func guardedDialer(allowLocalhost bool) *net.Dialer {
	return &net.Dialer{
		Timeout: 10 * time.Second,
		Control: dialControl(allowLocalhost),
	}
}
