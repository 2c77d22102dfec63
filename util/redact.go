package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// RedactEndpoint hides credentials that providers embed in paths, query
// strings or userinfo. Only scheme and host stay readable, plus a short hash
// so that two different endpoints on the same host can still be told apart.
func RedactEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(endpoint))
	hash := hex.EncodeToString(sum[:])[:12]

	parsedURL, err := url.Parse(endpoint)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "redacted#hash=" + hash
	}
	if parsedURL.User == nil && (parsedURL.Path == "" || parsedURL.Path == "/") && parsedURL.RawQuery == "" {
		return parsedURL.Scheme + "://" + parsedURL.Host
	}
	return parsedURL.Scheme + "://" + parsedURL.Host + "#hash=" + hash
}
