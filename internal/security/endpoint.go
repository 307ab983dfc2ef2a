package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// hostnames that must never receive webhook deliveries
var blockedHosts = []string{
	"localhost",
	"metadata.google.internal",
	"metadata.google",
}

// ValidateDeliveryURL checks that a webhook delivery URL is safe to call
// from the server. Private, loopback, link-local, and unspecified
// addresses are rejected so a subscription cannot be used to probe the
// internal network. The literal host and every DNS-resolved address are
// both checked.
func ValidateDeliveryURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("delivery URL is malformed")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("delivery URL scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("delivery URL must have a host")
	}

	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("delivery host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		// IP literal, no resolution step
		return checkDeliveryIP(ip)
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve delivery host %q", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkDeliveryIP(ip); err != nil {
				return fmt.Errorf("delivery host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkDeliveryIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
