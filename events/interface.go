package events

import (
	"net/http"
	"time"
)

// Event is the wire format pushed to every connected subscriber.
type Event struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"ts"`
}

type Interface interface {
	Handler() http.Handler
	Publish(eventType, text string)
	Close() error
}
