package abuse

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// fingerprintHeaders are hashed in this order
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Platform",
}

// Fingerprint derives a device identifier from client supplied headers.
// It is a heuristic: a client that rotates its headers gets a new fingerprint.
// Returns "" when none of the headers are present.
func Fingerprint(headers http.Header) string {
	var b strings.Builder
	seen := false
	for _, name := range fingerprintHeaders {
		value := normalize(headers.Get(name))
		if value != "" {
			seen = true
		}
		b.WriteString(strings.ToLower(name))
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	if !seen {
		return ""
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
