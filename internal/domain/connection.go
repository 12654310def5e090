package domain

import "time"

type ConnState string

const (
	ConnDisconnected   ConnState = "disconnected"
	ConnConnecting     ConnState = "connecting"
	ConnChallengeReady ConnState = "challenge_ready"
	ConnConnected      ConnState = "connected"
	ConnError          ConnState = "error"
)

// ConnectionState is the process-wide session status snapshot. Transitions are
// owned exclusively by the connection supervisor; everything else reads copies.
type ConnectionState struct {
	State     ConnState
	Challenge string // valid only while State == ConnChallengeReady
	UpdatedAt time.Time
}

func (s ConnectionState) Connected() bool {
	return s.State == ConnConnected
}

// DisconnectReason is the transport-supplied cause of a session close. The
// supervisor classifies each reason as recoverable (reconnect with backoff)
// or unrecoverable (terminal, credentials wiped).
type DisconnectReason string

const (
	ReasonConnectionLost      DisconnectReason = "connection_lost"
	ReasonServerRestart       DisconnectReason = "server_restart"
	ReasonStreamReplaced      DisconnectReason = "stream_replaced"
	ReasonTimedOut            DisconnectReason = "timed_out"
	ReasonLoggedOut           DisconnectReason = "logged_out"
	ReasonBanned              DisconnectReason = "banned"
	ReasonMultideviceMismatch DisconnectReason = "multidevice_mismatch"
	ReasonBadSession          DisconnectReason = "bad_session"
)
