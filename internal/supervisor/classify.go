package supervisor

import "github.com/scamshield/wa-gateway/internal/domain"

// recoverableReasons drives the reconnect decision. Recoverable closes get a
// delayed reconnect attempt; unrecoverable ones terminate the session, wipe
// stored credentials, and wait for an operator-initiated re-login.
var recoverableReasons = map[domain.DisconnectReason]bool{
	domain.ReasonConnectionLost:      true,
	domain.ReasonServerRestart:       true,
	domain.ReasonStreamReplaced:      true,
	domain.ReasonTimedOut:            true,
	domain.ReasonLoggedOut:           false,
	domain.ReasonBanned:              false,
	domain.ReasonMultideviceMismatch: false,
	domain.ReasonBadSession:          false,
}

// Recoverable reports whether the gateway should reconnect after a close with
// the given reason. Unknown reasons count as transient until proven otherwise.
func Recoverable(reason domain.DisconnectReason) bool {
	recoverable, known := recoverableReasons[reason]
	if !known {
		return true
	}
	return recoverable
}
