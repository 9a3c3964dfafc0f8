package engine

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/pkg/jsonmessage"
)

// legacyBuiltPrefix is printed by the classic builder when a build finishes.
// Engines that predate aux messages only report the image ID this way.
const legacyBuiltPrefix = "Successfully built "

// auxMessage covers the aux payloads of both build and push streams
type auxMessage struct {
	ID     string `json:"ID"`
	Tag    string `json:"Tag"`
	Digest string `json:"Digest"`
}

// JSONStream decodes a Docker JSON message stream into events
type JSONStream struct {
	body    io.ReadCloser
	decoder *json.Decoder

	mu     sync.Mutex
	closed bool
}

// NewJSONStream wraps an engine response body
func NewJSONStream(body io.ReadCloser) *JSONStream {
	return &JSONStream{
		body:    body,
		decoder: json.NewDecoder(body),
	}
}

// Next decodes the next message. It returns io.EOF when the body is exhausted
// and io.ErrUnexpectedEOF if the engine hung up mid-message.
func (s *JSONStream) Next() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Event{}, ErrStreamClosed
	}

	var msg jsonmessage.JSONMessage
	if err := s.decoder.Decode(&msg); err != nil {
		return Event{}, err
	}

	return eventFromMessage(&msg), nil
}

// Close releases the response body
func (s *JSONStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func eventFromMessage(msg *jsonmessage.JSONMessage) Event {
	event := Event{
		Stream: msg.Stream,
		Status: msg.Status,
		ID:     msg.ID,
	}

	if msg.Progress != nil {
		event.Progress = msg.Progress.String()
	}

	if msg.Error != nil {
		event.Error = msg.Error.Message
		if event.Error == "" {
			event.Error = "engine reported an error"
		}
	}

	if msg.Aux != nil {
		var aux auxMessage
		if err := json.Unmarshal(*msg.Aux, &aux); err == nil {
			event.ImageID = aux.ID
			event.Digest = aux.Digest
		}
	}

	if event.ImageID == "" {
		if line := strings.TrimSpace(msg.Stream); strings.HasPrefix(line, legacyBuiltPrefix) {
			event.ImageID = strings.TrimSpace(strings.TrimPrefix(line, legacyBuiltPrefix))
		}
	}

	return event
}
