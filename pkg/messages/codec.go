package messages

import (
	"encoding/json"
	"fmt"
	"strings"

	"mindcast/pkg/domain"
)

// Envelope is the transport wrapper. Message holds the inner business message
// as a JSON string, so every message is encoded twice.
type Envelope struct {
	MessageID string `json:"MessageId,omitempty"`
	Message   string `json:"Message"`
}

// Encode serialises msg as a JSON object with its "type" discriminator.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", domain.ErrMalformedMessage)
	}
	if u, ok := msg.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	typeField, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeField
	return json.Marshal(fields)
}

// Decode parses an inner business message into its variant.
// Unrecognised types decode to Unknown without error.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	typ := strings.TrimSpace(head.Type)
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	switch typ {
	case TypeFileCreated:
		return decodeAs[FileCreated](typ, data)
	case TypeFileUpdated:
		return decodeAs[FileUpdated](typ, data)
	case TypeFileDeleted:
		return decodeAs[FileDeleted](typ, data)
	case TypeFeedCreated:
		return decodeAs[FeedCreated](typ, data)
	case TypeEpisodeCreated:
		return decodeAs[EpisodeCreated](typ, data)
	case TypeEpisodeUpdated:
		return decodeAs[EpisodeUpdated](typ, data)
	case TypeEpisodeDeleted:
		return decodeAs[EpisodeDeleted](typ, data)
	case TypeEpisodeReady:
		return decodeAs[EpisodeReady](typ, data)
	case TypeEpisodeTranscribed:
		return decodeAs[EpisodeTranscribed](typ, data)
	case TypeConversionStarted:
		return decodeAs[ConversionStarted](typ, data)
	case TypeConversionFinished:
		return decodeAs[ConversionFinished](typ, data)
	case TypeConversionFailed:
		return decodeAs[ConversionFailed](typ, data)
	case TypeAssistantFileCreated:
		return decodeAs[AssistantFileCreated](typ, data)
	case TypeAssistantFileError:
		return decodeAs[AssistantFileError](typ, data)
	case TypeSubscriptionCreated:
		return decodeAs[SubscriptionCreated](typ, data)
	case TypeSubscriptionDeleted:
		return decodeAs[SubscriptionDeleted](typ, data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: typ, Raw: raw}, nil
	}
}

func decodeAs[T Message](typ string, data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedMessage, typ, err)
	}
	return msg, nil
}

// Wrap encodes msg and places it inside a transport envelope.
func Wrap(msg Message, messageID string) ([]byte, error) {
	inner, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{MessageID: messageID, Message: string(inner)})
}

// Unwrap decodes the transport envelope and then the inner message.
func Unwrap(body []byte) (Message, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, env, fmt.Errorf("%w: envelope: %v", domain.ErrMalformedMessage, err)
	}
	if strings.TrimSpace(env.Message) == "" {
		return nil, env, fmt.Errorf("%w: empty envelope", domain.ErrMalformedMessage)
	}
	msg, err := Decode([]byte(env.Message))
	if err != nil {
		return nil, env, err
	}
	return msg, env, nil
}
