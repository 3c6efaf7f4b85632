package problem

// WS close codes follow RFC 6455 §7.4.1 for the standard range; §7's error
// taxonomy maps only four kinds onto a close code (the rest are pre-upgrade
// HTTP-only outcomes, or in-session closes whose code is mirrored verbatim
// from whichever side initiated them rather than picked from this table).
const (
	WSCloseNormal          = 1000
	WSCloseGoingAway       = 1001
	WSCloseProtocolError   = 1002
	WSCloseUnsupportedData = 1003
	WSClosePolicyViolation = 1008
	WSCloseInternalError   = 1011

	// Gateway-specific, private-use range (RFC 6455 4000-4999).
	WSCloseAuthRequired = 4001
	WSCloseForbidden    = 4003
)

// WSCloseRateLimited is the standard Policy Violation code, not a private
// gateway-specific one — §7's taxonomy table maps RateLimited to 1008.
const WSCloseRateLimited = WSClosePolicyViolation

// WSCloseCodeForKind maps an error Kind to the close code the WS gateway
// pipeline sends when rejecting or terminating a connection for that
// reason (§7's taxonomy table). Kinds the table marks "—" (no WS mapping,
// since they only ever occur pre-upgrade) fall through to InternalError.
func WSCloseCodeForKind(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return WSCloseAuthRequired
	case KindForbidden, KindAccessDenied:
		return WSCloseForbidden
	case KindRateLimited:
		return WSCloseRateLimited
	default:
		return WSCloseInternalError
	}
}
