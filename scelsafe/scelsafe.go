// Package scelsafe provides the security primitives shared across the scel
// service: upstream credential validation, upstream URL checks, and bounded
// I/O helpers for reading renderer responses.
package scelsafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MinKeyLen is the minimum acceptable length for the upstream renderer
// API key. 32 bytes = 256 bits of entropy.
const MinKeyLen = 32

// MaxResponseBody is the default cap for upstream response body reads
// (8 MiB — rendered animations are larger than JSON but still bounded).
const MaxResponseBody int64 = 8 << 20

// ErrKeyTooShort is returned when an upstream key does not meet MinKeyLen.
var ErrKeyTooShort = fmt.Errorf("scelsafe: upstream key must be at least %d bytes", MinKeyLen)

// ErrUnsafeScheme is returned when an upstream URL uses a non-HTTP(S)
// scheme.
var ErrUnsafeScheme = errors.New("scelsafe: only http and https schemes are allowed")

// ErrResponseTooLarge is returned when an upstream response exceeds the
// read limit.
var ErrResponseTooLarge = errors.New("scelsafe: response body too large")

// ValidateKey checks that the upstream API key is at least MinKeyLen bytes.
func ValidateKey(key string) error {
	if len(key) < MinKeyLen {
		return ErrKeyTooShort
	}
	return nil
}

// ValidateUpstreamURL checks that rawURL is an absolute http(s) URL with a
// host. The upstream renderer frequently lives on a private network, so no
// private-address filtering is applied here; the URL itself is operator
// configuration, not caller input.
func ValidateUpstreamURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("scelsafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("scelsafe: URL has no host")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns
// ErrResponseTooLarge if the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

// Truncate returns s cut to at most n bytes, for diagnostic bodies in
// error messages.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
