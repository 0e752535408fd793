package request

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// ComputeETag derives a strong ETag deterministically from a response
// body plus its media type. This deliberately simplifies the real tiled
// project's dask-tokenize-based content hashing (server/etag.py), which
// exists to fingerprint arbitrary Python objects including lazy HDF5
// datasets; since this implementation always has the serialized bytes in
// hand by the time an ETag is needed, a direct hash of (media type, body)
// is sufficient and avoids reaching for a content-addressing library no
// example in the retrieved pack provides.
func ComputeETag(mediaType string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(mediaType))
	h.Write([]byte{0})
	h.Write(body)
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

// CheckConditional inspects the request's If-None-Match header against
// etag and, if it matches, writes a 304 with the same ETag and an Expires
// header, returning true (the caller must write nothing further).
func CheckConditional(w http.ResponseWriter, r *http.Request, etag string, expiresIn time.Duration) bool {
	w.Header().Set("ETag", etag)
	w.Header().Set("Expires", time.Now().Add(expiresIn).UTC().Format(http.TimeFormat))
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}
	for _, candidate := range splitCommaList(header) {
		if candidate == etag {
			return true
		}
	}
	return false
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
