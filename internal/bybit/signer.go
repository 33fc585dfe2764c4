package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// RecvWindowMs is the request validity window sent with every signed call.
// 5 seconds tolerates clock drift and network latency without leaving a
// stale signature usable for long.
const RecvWindowMs = "5000"

// CanonicalQuery joins params into "k1=v1&k2=v2..." with keys sorted
// lexicographically ascending. Sorting here, rather than relying on map
// iteration order, is what makes signatures reproducible across runs.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "sign" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Sign produces the hex-encoded HMAC-SHA256 signature over
// timestamp + apiKey + recvWindow + canonicalQuery. Pure function of its
// inputs; identical inputs always yield byte-identical output.
func Sign(secret, apiKey, timestamp, recvWindow string, params map[string]string) string {
	payload := timestamp + apiKey + recvWindow + CanonicalQuery(params)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
