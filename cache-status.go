package forwardproxy

import "strings"

// Cache status vocabulary of RFC 9211 (The Cache-Status HTTP Response Header Field).
// The proxy relays origin responses verbatim, so the status only goes to the log.

type CacheStatusStatus string

const (
	CacheStatusHit CacheStatusStatus = "hit"
	CacheStatusFwd CacheStatusStatus = "fwd"
)

type FwdReason string

const (
	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache could not be consulted.
	FwdReasonBypass FwdReason = "bypass"
)

type CacheStatus struct {
	Status    CacheStatusStatus
	FwdReason FwdReason
	Stored    bool
}

func (cs *CacheStatus) Hit() {
	cs.Status = CacheStatusHit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = CacheStatusFwd
	cs.FwdReason = reason
}

// String formats the status as a Cache-Status list member.
func (cs CacheStatus) String() string {
	parts := []string{"ForwardProxy"}
	switch cs.Status {
	case CacheStatusHit:
		parts = append(parts, "hit")
	case CacheStatusFwd:
		parts = append(parts, "fwd="+string(cs.FwdReason))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	return strings.Join(parts, "; ")
}
