package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgerrors "relay/pkg/errors"
	"relay/pkg/models"
)

// envelope is the direct dispatch message shape.
type envelope struct {
	MessageID    string                 `json:"messageId"`
	PipelineName string                 `json:"pipelineName,omitempty"`
	Source       string                 `json:"source,omitempty"`
	EventType    string                 `json:"eventType,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// gridEvent is the Event-Grid style blob notification shape; a payload
// may carry several in one array.
type gridEvent struct {
	ID        string   `json:"id"`
	EventType string   `json:"eventType"`
	Subject   string   `json:"subject"`
	Data      gridData `json:"data"`
}

type gridData struct {
	URL string `json:"url"`
}

// Decode parses a raw payload into inbound events. Malformed payloads
// fail with a ValidationError and are dead-lettered, never retried.
func Decode(raw []byte) ([]models.InboundEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "empty payload")
	}

	if trimmed[0] == '[' {
		return decodeGridEvents(trimmed)
	}

	return decodeEnvelope(trimmed)
}

func decodeEnvelope(raw []byte) ([]models.InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "payload is not valid JSON")
	}

	if env.MessageID == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "payload lacks messageId")
	}

	return []models.InboundEvent{{
		ID:               env.MessageID,
		ExplicitPipeline: env.PipelineName,
		Source:           env.Source,
		EventType:        env.EventType,
		Parameters:       env.Parameters,
		ReceivedAt:       time.Now(),
	}}, nil
}

func decodeGridEvents(raw []byte) ([]models.InboundEvent, error) {
	var gridEvents []gridEvent
	if err := json.Unmarshal(raw, &gridEvents); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "event array is not valid JSON")
	}

	if len(gridEvents) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "event array is empty")
	}

	events := make([]models.InboundEvent, 0, len(gridEvents))
	for i, ge := range gridEvents {
		if ge.ID == "" {
			return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("event %d lacks id", i))
		}

		params := map[string]interface{}{}
		if ge.Data.URL != "" {
			params["url"] = ge.Data.URL
		}
		if ge.Subject != "" {
			params["subject"] = ge.Subject
		}

		events = append(events, models.InboundEvent{
			ID:         ge.ID,
			Source:     blobSource(ge.Data.URL, ge.Subject),
			EventType:  ge.EventType,
			Parameters: params,
			ReceivedAt: time.Now(),
		})
	}

	return events, nil
}

// blobSource normalizes a blob notification into the "blob:<path>" form
// prefix routing rules match against. The path is container-relative:
// ".../container/raw/foo.json" becomes "blob:raw/foo.json".
func blobSource(blobURL, subject string) string {
	if blobURL != "" {
		if u, err := url.Parse(blobURL); err == nil {
			path := strings.TrimPrefix(u.Path, "/")
			if _, rest, found := strings.Cut(path, "/"); found {
				return "blob:" + rest
			}
			if path != "" {
				return "blob:" + path
			}
		}
	}

	if subject != "" {
		if _, rest, found := strings.Cut(subject, "/blobs/"); found {
			return "blob:" + rest
		}
		return "blob:" + strings.TrimPrefix(subject, "/")
	}

	return ""
}
