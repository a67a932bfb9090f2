package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownEvent is returned for an event name outside the inbound set.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload is returned when the payload does not fit the event.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMalformedFrame is returned when the frame is not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")
)

// DecodeError describes a frame that could not be turned into an Inbound.
// Event is empty when the envelope itself was unreadable.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("decode frame: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type rawFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Decode parses one inbound text frame.
func Decode(raw []byte) (Inbound, error) {
	var frame rawFrame
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&frame); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(ErrMalformedFrame, err.Error())}
	}
	if frame.Event == "" {
		return nil, &DecodeError{Err: errors.Wrap(ErrMalformedFrame, "missing event name")}
	}

	msg, err := decodeData(frame.Event, frame.Data)
	if err != nil {
		return nil, &DecodeError{Event: frame.Event, Err: err}
	}
	return msg, nil
}

func decodeData(event string, data interface{}) (Inbound, error) {
	switch event {
	case EventAuthenticate:
		var m Authenticate
		if err := weakDecode(data, &m); err != nil {
			return nil, err
		}
		m.UserID = strings.TrimSpace(m.UserID)
		if m.UserID == "" {
			return nil, errors.Wrap(ErrInvalidPayload, "userId is required")
		}
		return m, nil

	case EventGetOnlineUsers:
		return GetOnlineUsers{}, nil

	case EventJoinChatSession, EventLeaveChatSession:
		id, err := roomID(data, "chatSessionId")
		if err != nil {
			return nil, err
		}
		if event == EventJoinChatSession {
			return JoinChatSession{ChatSessionID: id}, nil
		}
		return LeaveChatSession{ChatSessionID: id}, nil

	case EventJoinCompanyChat, EventLeaveCompanyChat:
		id, err := roomID(data, "companyId")
		if err != nil {
			return nil, err
		}
		if event == EventJoinCompanyChat {
			return JoinCompanyChat{CompanyID: id}, nil
		}
		return LeaveCompanyChat{CompanyID: id}, nil

	case EventTypingStart, EventTypingStop:
		var m TypingStart
		if err := weakDecode(data, &m); err != nil {
			return nil, err
		}
		m.ChatSessionID = strings.TrimSpace(m.ChatSessionID)
		m.UserID = strings.TrimSpace(m.UserID)
		if m.ChatSessionID == "" {
			return nil, errors.Wrap(ErrInvalidPayload, "chatSessionId is required")
		}
		if event == EventTypingStart {
			return m, nil
		}
		return TypingStop(m), nil
	}
	return nil, ErrUnknownEvent
}

// roomID accepts either a bare id or an object carrying it under key.
func roomID(data interface{}, key string) (string, error) {
	if obj, ok := data.(map[string]interface{}); ok {
		data = obj[key]
	}
	var out string
	if err := weakDecode(data, &out); err != nil {
		return "", errors.Wrapf(err, "%s", key)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", errors.Wrapf(ErrInvalidPayload, "%s is required", key)
	}
	return id, nil
}

func weakDecode(data interface{}, out interface{}) error {
	if data == nil {
		return errors.Wrap(ErrInvalidPayload, "missing data")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "build decoder")
	}
	if err := dec.Decode(data); err != nil {
		return errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return nil
}

// Encode renders an outbound frame. A nil payload omits the data field and a
// json.RawMessage payload is embedded as is.
func Encode(event string, payload interface{}) ([]byte, error) {
	frame := Frame{Event: event}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		frame.Data = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", event)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}
