package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scamshield/wa-gateway/internal/domain"
)

const (
	writeTimeout    = 10 * time.Second
	eventBufferSize = 64
)

// wsFrame is the JSON envelope exchanged with the protocol bridge.
type wsFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Blob      string `json:"blob,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	To        string `json:"to,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Data      string `json:"data,omitempty"`
}

type WSDialerConfig struct {
	URL          string
	Token        string
	MediaBaseURL string
	HTTPClient   *http.Client
}

// WSDialer opens WebSocket sessions against the chat protocol bridge.
type WSDialer struct {
	url          string
	token        string
	mediaBaseURL string
	httpClient   *http.Client
}

func NewWSDialer(cfg WSDialerConfig) (*WSDialer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("transport url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &WSDialer{
		url:          cfg.URL,
		token:        cfg.Token,
		mediaBaseURL: strings.TrimSuffix(cfg.MediaBaseURL, "/"),
		httpClient:   cfg.HTTPClient,
	}, nil
}

func (d *WSDialer) Dial(ctx context.Context, credentials []byte) (Session, error) {
	headers := http.Header{}
	if d.token != "" {
		headers.Set("Authorization", "Bearer "+d.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial transport (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial transport: %w", err)
	}

	session := &WSSession{
		conn:         conn,
		events:       make(chan Event, eventBufferSize),
		mediaBaseURL: d.mediaBaseURL,
		token:        d.token,
		httpClient:   d.httpClient,
	}

	hello := wsFrame{Type: "resume"}
	if len(credentials) > 0 {
		hello.Blob = base64.StdEncoding.EncodeToString(credentials)
	}
	if err := session.writeFrame(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send resume frame: %w", err)
	}

	go session.readLoop()
	return session, nil
}

// WSSession is one live bridge connection. The read loop is the only writer
// to the events channel and always delivers a terminal closed event before
// closing it.
type WSSession struct {
	conn         *websocket.Conn
	events       chan Event
	mediaBaseURL string
	token        string
	httpClient   *http.Client

	writeMu sync.Mutex

	closeOnce sync.Once
}

func (s *WSSession) Events() <-chan Event {
	return s.events
}

func (s *WSSession) readLoop() {
	defer close(s.events)

	closedEmitted := false
	for {
		var frame wsFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if !closedEmitted {
				s.events <- Event{Connection: &ConnectionEvent{
					Status: StatusClosed,
					Reason: closeReason(err),
				}}
			}
			return
		}

		switch frame.Type {
		case "connection":
			event := connectionEvent(frame)
			if event == nil {
				continue
			}
			if event.Status == StatusClosed {
				closedEmitted = true
			}
			s.events <- Event{Connection: event}
		case "message":
			s.events <- Event{Message: inboundMessage(frame)}
		case "credentials":
			blob, err := base64.StdEncoding.DecodeString(frame.Blob)
			if err != nil {
				continue
			}
			s.events <- Event{Credentials: blob}
		}
	}
}

func connectionEvent(frame wsFrame) *ConnectionEvent {
	switch frame.Status {
	case "challenge":
		return &ConnectionEvent{Status: StatusChallenge, Challenge: frame.Challenge}
	case "open":
		return &ConnectionEvent{Status: StatusOpen}
	case "closed":
		reason := domain.DisconnectReason(frame.Reason)
		if reason == "" {
			reason = domain.ReasonConnectionLost
		}
		return &ConnectionEvent{Status: StatusClosed, Reason: reason}
	default:
		return nil
	}
}

func inboundMessage(frame wsFrame) *domain.InboundMessage {
	kind := domain.PayloadKind(frame.Kind)
	switch kind {
	case domain.PayloadText, domain.PayloadImage, domain.PayloadVideo,
		domain.PayloadAudio, domain.PayloadDocument:
	default:
		kind = domain.PayloadUnsupported
	}
	return &domain.InboundMessage{
		MessageID: frame.MessageID,
		Sender:    frame.Sender,
		Kind:      kind,
		Text:      frame.Text,
		MediaRef:  frame.MediaID,
		MimeType:  frame.MimeType,
		SizeBytes: frame.SizeBytes,
		ArrivedAt: time.Now().UTC(),
	}
}

// closeReason maps socket-level failures to disconnect reasons. Protocol
// level causes (logout, replacement) arrive as closed frames instead.
func closeReason(err error) domain.DisconnectReason {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseGoingAway, websocket.CloseServiceRestart:
			return domain.ReasonServerRestart
		case websocket.ClosePolicyViolation:
			return domain.ReasonBadSession
		}
	}
	return domain.ReasonConnectionLost
}

func (s *WSSession) writeFrame(frame wsFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *WSSession) SendText(_ context.Context, to, text string) error {
	err := s.writeFrame(wsFrame{
		Type:     "send_text",
		ClientID: uuid.NewString(),
		To:       to,
		Text:     text,
	})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (s *WSSession) SendDocument(_ context.Context, to, filename, mimeType string, data []byte) error {
	err := s.writeFrame(wsFrame{
		Type:     "send_document",
		ClientID: uuid.NewString(),
		To:       to,
		Filename: filename,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

func (s *WSSession) Download(ctx context.Context, mediaRef string) ([]byte, error) {
	if s.mediaBaseURL == "" {
		return nil, errors.New("media base url not configured")
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		s.mediaBaseURL+"/media/"+mediaRef,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create media request: %w", err)
	}
	if s.token != "" {
		request.Header.Set("Authorization", "Bearer "+s.token)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: unexpected status %d", response.StatusCode)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

func (s *WSSession) Logout(_ context.Context) error {
	if err := s.writeFrame(wsFrame{Type: "logout"}); err != nil {
		return fmt.Errorf("send logout: %w", err)
	}
	return nil
}

func (s *WSSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
