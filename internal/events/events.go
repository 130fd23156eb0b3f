package events

import (
	"encoding/json"
	"time"
)

const (
	TypePing           = "ping"
	TypeScrapeStarted  = "scrape_started"
	TypeScrapeFinished = "scrape_finished"
	TypeListingsNew    = "listings_new"
	TypeListingsSeen   = "listings_seen"
	TypeSchedulerState = "scheduler_state"
	TypeConfigChanged  = "config_changed"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent encodes one envelope. Data that fails to marshal is dropped.
func MakeEvent(reqID, typ string, v int, data any) string {
	return makeEventAt(time.Now(), reqID, typ, v, data)
}

func makeEventAt(at time.Time, reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        at.UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}
