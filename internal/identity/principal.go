package identity

import "strings"

// CanonicalizeEmail lowercases an email address end-to-end. The source
// system applies RFC 5321 local-part-insensitive policy to the whole
// address rather than special-casing providers that are case-sensitive on
// the local part, so "User@Example.COM" and "user@example.com" always
// resolve to the same principal id.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ServiceAccountID formats a service-account principal id. These can never
// collide with an email id because emails always contain "@" and this form
// never does.
func ServiceAccountID(name string) string {
	return "identifier:" + strings.TrimSpace(name)
}

// IsServiceAccount reports whether id was minted by ServiceAccountID.
func IsServiceAccount(id string) bool {
	return strings.HasPrefix(id, "identifier:")
}
