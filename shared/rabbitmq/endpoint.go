package rabbitmq

import (
	"net/url"
	"strings"
)

// Managed broker providers that terminate TLS and reject plaintext AMQP.
// Dashboard copy/paste often yields an amqp:// URL for hosts that only
// accept amqps://, so those endpoints are upgraded before dialing.
var tlsOnlyHostSuffixes = []string{
	".cloudamqp.com",
}

// NormalizeEndpoint rewrites a plaintext amqp:// endpoint to amqps:// when
// the host belongs to a managed provider that mandates TLS. All other
// endpoints are returned unchanged. The second return value reports whether
// a rewrite happened.
func NormalizeEndpoint(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}

	if u.Scheme != "amqp" {
		return raw, false
	}

	host := strings.ToLower(u.Hostname())
	for _, suffix := range tlsOnlyHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			u.Scheme = "amqps"
			return u.String(), true
		}
	}

	return raw, false
}
