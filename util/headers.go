package util

import (
	"net/http"
	"strings"
)

// ExtractUsefulHeaders keeps the response headers worth attaching to error
// details when a backend misbehaves.
func ExtractUsefulHeaders(r *http.Response) map[string]interface{} {
	result := make(map[string]interface{})
	if r == nil {
		return result
	}
	for k := range r.Header {
		kl := strings.ToLower(k)
		if strings.HasPrefix(kl, "x-") ||
			strings.Contains(kl, "trace") ||
			strings.Contains(kl, "request-id") ||
			strings.Contains(kl, "rate-limit") ||
			kl == "content-type" ||
			kl == "content-length" ||
			kl == "content-encoding" ||
			kl == "server" ||
			kl == "retry-after" {
			result[kl] = r.Header.Get(k)
		}
	}
	return result
}
