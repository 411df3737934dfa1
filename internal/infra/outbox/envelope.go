package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appoutbox "campusmarket/internal/app/outbox"
)

const (
	envelopeVersion = ".v1"
	contentType     = "application/cloudevents+json"
)

var ErrBadEnvelope = errors.New("outbox: malformed envelope")

// Envelope is the CloudEvents 1.0 structured form put on the wire.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TraceParent     string          `json:"traceparent,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// EncodeEnvelope wraps rec. The envelope id is the record id so consumers can deduplicate
// redeliveries.
func EncodeEnvelope(rec appoutbox.EventRecord, source string) ([]byte, map[string]string, error) {
	if !json.Valid(rec.Payload) {
		return nil, nil, fmt.Errorf("%w: %s payload is not json", ErrBadEnvelope, rec.Name)
	}
	evt := Envelope{
		SpecVersion:     "1.0",
		ID:              rec.ID,
		Type:            rec.Name + envelopeVersion,
		Source:          source,
		Subject:         rec.Aggregate,
		Time:            rec.OccurredAt.UTC(),
		DataContentType: "application/json",
		TraceParent:     rec.Headers["traceparent"],
		Data:            json.RawMessage(rec.Payload),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{"content-type": contentType}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// DecodeEnvelope turns a broker payload back into the record it was built from.
func DecodeEnvelope(payload []byte) (appoutbox.EventRecord, error) {
	var evt Envelope
	if err := json.Unmarshal(payload, &evt); err != nil {
		return appoutbox.EventRecord{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if evt.ID == "" || evt.Type == "" || len(evt.Data) == 0 {
		return appoutbox.EventRecord{}, ErrBadEnvelope
	}
	headers := map[string]string{}
	if evt.TraceParent != "" {
		headers["traceparent"] = evt.TraceParent
	}
	return appoutbox.EventRecord{
		ID:         evt.ID,
		Name:       strings.TrimSuffix(evt.Type, envelopeVersion),
		Payload:    []byte(evt.Data),
		OccurredAt: evt.Time,
		Aggregate:  evt.Subject,
		Headers:    headers,
	}, nil
}
