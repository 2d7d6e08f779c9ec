package messages

import (
	"encoding/json"
	"errors"
	"testing"

	"mindcast/pkg/domain"
)

func TestUnwrapDecodesBothLayers(t *testing.T) {
	inner := `{"type":"document.conversion.finished","job_id":"J1","txt_key":"t"}`
	body, err := json.Marshal(map[string]string{"Message": inner})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg, _, err := Unwrap(body)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	got, ok := msg.(ConversionFinished)
	if !ok {
		t.Fatalf("decoded %T, want ConversionFinished", msg)
	}
	if got.JobID != "J1" || got.TxtKey != "t" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWrapProducesStringInnerMessage(t *testing.T) {
	body, err := Wrap(AssistantFileError{FileID: "F1", Error: "boom"}, "m-1")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	var env struct {
		MessageID string `json:"MessageId"`
		Message   string `json:"Message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.MessageID != "m-1" {
		t.Fatalf("message id = %q", env.MessageID)
	}
	var inner map[string]string
	if err := json.Unmarshal([]byte(env.Message), &inner); err != nil {
		t.Fatalf("inner message is not a JSON object string: %v", err)
	}
	if inner["type"] != TypeAssistantFileError || inner["file_id"] != "F1" || inner["error"] != "boom" {
		t.Fatalf("unexpected inner message: %+v", inner)
	}

	msg, _, err := Unwrap(body)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got := msg.(AssistantFileError); got.FileID != "F1" || got.Error != "boom" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"podcast.v2.imported","episode_count":3}`))
	if err != nil {
		t.Fatalf("unknown type should decode, got %v", err)
	}
	u, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("decoded %T, want Unknown", msg)
	}
	if u.MessageType() != "podcast.v2.imported" {
		t.Fatalf("type = %q", u.MessageType())
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"job_id":"J1"}`,
		"bad field":    `{"type":"document.conversion.started","job_id":42}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(data)); !errors.Is(err, domain.ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
	if _, _, err := Unwrap([]byte(`{"Message":""}`)); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for empty envelope, got %v", err)
	}
}

func TestDecodeFileCreatedKeepsNilPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"file.created"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.(FileCreated).File != nil {
		t.Fatalf("expected nil file payload")
	}
}
