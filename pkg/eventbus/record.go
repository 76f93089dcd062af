package eventbus

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const DefaultTopic = "chatwidget.events"

type RecordKind string

const (
	RecordMessage  RecordKind = "message"
	RecordFragment RecordKind = "fragment"
	RecordState    RecordKind = "state"
	RecordNotice   RecordKind = "notice"
)

// Record is one widget event mirrored to the bus.
type Record struct {
	Kind    RecordKind `json:"kind"`
	ConvID  string     `json:"conv_id,omitempty"`
	ID      string     `json:"id,omitempty"`
	Role    string     `json:"role,omitempty"`
	Content string     `json:"content,omitempty"`
	State   string     `json:"state,omitempty"`
	At      time.Time  `json:"at"`
}

func (r Record) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "eventbus: encode record")
	}
	return b, nil
}

func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, errors.Wrap(err, "eventbus: decode record")
	}
	return r, nil
}
