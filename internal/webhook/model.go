package webhook

import (
	"fmt"
	"slices"
)

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// Webhook is a notification endpoint. An empty Events list subscribes to
// every event type.
type Webhook struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

// Validate checks the type and URL.
func (w Webhook) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("webhook %q: url is required", w.Name)
	}
	switch w.Type {
	case "", TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
		return nil
	}
	return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
}

// Wants reports whether the webhook subscribes to eventType.
func (w Webhook) Wants(eventType string) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, eventType)
}
