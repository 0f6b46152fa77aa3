// CLAUDE:SUMMARY Gateway error taxonomy: unreachable vs upstream-error vs malformed-payload classes, all distinguishable by the caller.
package gateway

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no upstream renderer URL is set.
// There is no local fallback execution path — its absence is a trust
// property, not a missing feature.
var ErrNotConfigured = errors.New("gateway: upstream renderer not configured")

// ErrUnreachable is the class for network failures and timeouts reaching
// the authoritative renderer. Callers may retry with their own backoff;
// the gateway never retries to avoid amplifying load during an upstream
// incident.
var ErrUnreachable = errors.New("gateway: upstream renderer unreachable")

// ErrMalformedPayload is the class for structural request rejections:
// missing or wrongly-typed fields, undecodable JSON.
var ErrMalformedPayload = errors.New("gateway: malformed payload")

// UpstreamError means the renderer was reachable but returned a failure
// status. Server errors (5xx) are remapped to the bad-gateway class;
// client errors are forwarded close to as-is. The diagnostic body is
// truncated, never unbounded.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gateway: upstream returned %d: %s", e.Status, e.Body)
}

// BadGateway reports whether this error belongs to the bad-gateway class
// (upstream server failure, surfaced as 502).
func (e *UpstreamError) BadGateway() bool { return e.Status >= 500 }

// ErrProtocol means the upstream answered 200 with a shape the gateway
// does not recognize — an undeclared type discriminant or undecodable
// JSON. Treated as an upstream failure, never guessed at.
var ErrProtocol = errors.New("gateway: unrecognized upstream response shape")
