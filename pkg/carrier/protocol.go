// Package carrier speaks the telephony provider's media-stream wire format
// and its REST call-control API. The media stream is a websocket of JSON
// envelopes carrying base64 mulaw audio; call control is form-encoded REST
// with basic auth.
package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Tracks on a media stream. The orchestrator only processes inbound audio;
// outbound frames on the wire are our own playback echoed back by some
// carriers.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaFormat is the audio shape announced in the start event.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Connected is the carrier's first envelope after the socket opens.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Start announces the stream identity. StreamSID may be absent on malformed
// streams; the orchestrator decides what to do about that, not the decoder.
type Start struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Detail    StartPayload `json:"start"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CallSID          string            `json:"callSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat,omitempty"`
}

// Media carries one audio frame. Audio holds the decoded payload.
type Media struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Detail    MediaPayload `json:"media"`
	Audio     []byte       `json:"-"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Inbound reports whether the frame belongs to the caller's track. An empty
// track counts as inbound; some carriers omit it.
func (m Media) Inbound() bool {
	return m.Detail.Track == "" || m.Detail.Track == TrackInbound
}

// Stop ends the stream.
type Stop struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Detail    StopPayload `json:"stop"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

// Mark is the carrier's acknowledgment that playback reached a named point.
type Mark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Detail    MarkPayload `json:"mark"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// Decode parses one media-stream envelope into its typed message. Malformed
// envelopes return a *DecodeError and no message.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if msg.StreamSID == "" {
			msg.StreamSID = msg.Detail.StreamSID
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Detail.Payload) == "" {
			return nil, badRequest("media.payload is required", "payload")
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Detail.Payload)
		if err != nil {
			return nil, badRequest("media.payload is not valid base64", "payload")
		}
		msg.Audio = audio
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		if strings.TrimSpace(msg.Detail.Name) == "" {
			return nil, badRequest("mark.name is required", "name")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported event type", "event")
	}
}

// EncodeMedia builds an outbound media envelope for one mulaw frame.
func EncodeMedia(streamSID string, frame []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(frame),
			"track":   TrackOutbound,
		},
	})
}

// EncodeMark builds a mark envelope used to learn when playback finished.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]string{"name": name},
	})
}

// EncodeClear builds a clear envelope that flushes buffered outbound audio.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	})
}
