package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is one decoded frame: the message and its request id. Hooks and
// commands carry an empty id.
type Envelope struct {
	ID      string
	Message Message
}

type wireEnvelope struct {
	Type MessageType     `cbor:"1,keyasint"`
	ID   string          `cbor:"2,keyasint,omitempty"`
	Body cbor.RawMessage `cbor:"3,keyasint"`
}

var (
	modesOnce sync.Once
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	modesErr  error
)

func modes() (cbor.EncMode, cbor.DecMode, error) {
	modesOnce.Do(func() {
		encMode, modesErr = cbor.CoreDetEncOptions().EncMode()
		if modesErr != nil {
			return
		}
		decMode, modesErr = cbor.DecOptions{
			DupMapKey:        cbor.DupMapKeyEnforcedAPF,
			MaxNestedLevels:  16,
			MaxArrayElements: 1 << 16,
			MaxMapPairs:      1 << 16,
		}.DecMode()
	})
	return encMode, decMode, modesErr
}

func marshal(v any) ([]byte, error) {
	enc, _, err := modes()
	if err != nil {
		return nil, err
	}
	return enc.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	_, dec, err := modes()
	if err != nil {
		return err
	}
	return dec.Unmarshal(data, v)
}

// encodePayload serializes an envelope into the CBOR payload of a frame
func encodePayload(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, &EncodeError{Err: errors.New("nil message")}
	}
	t := env.Message.Type()
	body, err := marshal(env.Message)
	if err != nil {
		return nil, &EncodeError{Type: t, Err: err}
	}
	payload, err := marshal(wireEnvelope{Type: t, ID: env.ID, Body: body})
	if err != nil {
		return nil, &EncodeError{Type: t, Err: err}
	}
	return payload, nil
}

// decodePayload parses a frame payload, checking the type against the
// frame's category byte
func decodePayload(category Category, payload []byte) (Envelope, error) {
	var w wireEnvelope
	if err := unmarshal(payload, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if w.Type.Category() != category {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("%s in %s frame", w.Type, category)}
	}
	msg, err := decodeBody(w.Type, w.Body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: w.ID, Message: msg}, nil
}

func decodeBody(t MessageType, body []byte) (Message, error) {
	switch t {
	case TypeSetIntercept:
		return decodeAs[SetIntercept](t, body)
	case TypeAddIntercept:
		return decodeAs[AddIntercept](t, body)
	case TypeRemoveIntercept:
		return decodeAs[RemoveIntercept](t, body)
	case TypeClearIntercept:
		return decodeAs[ClearIntercept](t, body)
	case TypeInsertText:
		return decodeAs[InsertText](t, body)
	case TypeSetBuffer:
		return decodeAs[SetBuffer](t, body)
	case TypeSessionOpened:
		return decodeAs[SessionOpened](t, body)
	case TypeEditBufferChanged:
		return decodeAs[EditBufferChanged](t, body)
	case TypePromptReturned:
		return decodeAs[PromptReturned](t, body)
	case TypePreExec:
		return decodeAs[PreExec](t, body)
	case TypeFocusChanged:
		return decodeAs[FocusChanged](t, body)
	case TypeCursorPosition:
		return decodeAs[CursorPosition](t, body)
	case TypeFileChanged:
		return decodeAs[FileChanged](t, body)
	case TypeInterceptedKey:
		return decodeAs[InterceptedKey](t, body)
	case TypeRunProcess:
		return decodeAs[RunProcess](t, body)
	case TypePtyExec:
		return decodeAs[PtyExec](t, body)
	case TypeListSessions:
		return decodeAs[ListSessions](t, body)
	case TypeSendCommand:
		return decodeAs[SendCommand](t, body)
	case TypeProcessResult:
		return decodeAs[ProcessResult](t, body)
	case TypeSessionList:
		return decodeAs[SessionList](t, body)
	case TypeAck:
		return decodeAs[Ack](t, body)
	case TypeFailure:
		return decodeAs[Failure](t, body)
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message %s", t)}
	}
}

func decodeAs[T Message](t MessageType, body []byte) (Message, error) {
	var m T
	if err := unmarshal(body, &m); err != nil {
		return nil, &DecodeError{Reason: "malformed " + t.String(), Err: err}
	}
	return m, nil
}

type sendCommandWire struct {
	SessionID string          `cbor:"session_id"`
	Type      MessageType     `cbor:"type"`
	Body      cbor.RawMessage `cbor:"body"`
}

// MarshalCBOR nests the command with its own discriminator
func (s SendCommand) MarshalCBOR() ([]byte, error) {
	if s.Command == nil {
		return nil, errors.New("send-command without a command")
	}
	body, err := marshal(s.Command)
	if err != nil {
		return nil, err
	}
	return marshal(sendCommandWire{SessionID: s.SessionID, Type: s.Command.Type(), Body: body})
}

// UnmarshalCBOR decodes the nested command
func (s *SendCommand) UnmarshalCBOR(data []byte) error {
	var w sendCommandWire
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type.Category() != CategoryCommand {
		return fmt.Errorf("send-command carries %s", w.Type)
	}
	msg, err := decodeBody(w.Type, w.Body)
	if err != nil {
		return err
	}
	s.SessionID = w.SessionID
	s.Command = msg.(Command)
	return nil
}
