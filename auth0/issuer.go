package auth0

import "strings"

// IssuerURL derives the issuer identifier for an Auth0 domain, e.g.
// "example.auth0.com" becomes "https://example.auth0.com/". A domain that
// already carries a scheme keeps it.
func IssuerURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "https://") && !strings.HasPrefix(domain, "http://") {
		domain = "https://" + domain
	}
	return strings.TrimSuffix(domain, "/") + "/"
}
