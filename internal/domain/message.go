package domain

import "time"

type PayloadKind string

const (
	PayloadText        PayloadKind = "text"
	PayloadImage       PayloadKind = "image"
	PayloadVideo       PayloadKind = "video"
	PayloadAudio       PayloadKind = "audio"
	PayloadDocument    PayloadKind = "document"
	PayloadUnsupported PayloadKind = "unsupported"
)

// InboundMessage is one received chat event. It is created by the transport
// session, consumed exactly once by the dispatcher, and never persisted.
type InboundMessage struct {
	MessageID string
	Sender    string
	Kind      PayloadKind
	Text      string
	MediaRef  string
	MimeType  string
	SizeBytes int64
	ArrivedAt time.Time
}

// IsMedia reports whether the payload requires an attachment download
// before it can be submitted for analysis.
func (m InboundMessage) IsMedia() bool {
	switch m.Kind {
	case PayloadImage, PayloadVideo, PayloadAudio, PayloadDocument:
		return true
	default:
		return false
	}
}
