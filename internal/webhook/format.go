package webhook

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/InfiniteLoopAlchemist/wardarr/internal/event"
)

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return formatDiscord(e)
	case TypeSlack:
		return formatSlack(e)
	case TypeGotify:
		return formatGotify(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

// Embed colors per outcome.
const (
	colorInfo    = 3447003  // blue
	colorSuccess = 3066993  // green
	colorFailure = 15158332 // red
)

func formatDiscord(e event.Event) ([]byte, string) {
	color := colorInfo
	switch e.Type {
	case event.FileVerified:
		color = colorSuccess
	case event.FileFailed, event.ScanFailed:
		color = colorFailure
	}
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       fmt.Sprintf("wardarr: %s", e.Type),
				"description": describe(e),
				"color":       color,
				"timestamp":   e.Timestamp.Format("2006-01-02T15:04:05Z"),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*wardarr: %s*\n%s", e.Type, describe(e)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatGotify(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"title":   fmt.Sprintf("wardarr: %s", e.Type),
		"message": describe(e),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

// describe renders a one-line human summary of an event.
func describe(e event.Event) string {
	d := e.Data
	switch e.Type {
	case event.ScanStarted:
		return "Scan started"
	case event.ScanCompleted:
		return fmt.Sprintf("Scan finished: %v of %v files processed, %v errors",
			d["processed_files"], d["total_files"], d["errors"])
	case event.ScanFailed:
		return fmt.Sprintf("Scan failed: %v", d["error"])
	case event.FileVerified:
		return fmt.Sprintf("Verified %s as %v (score %.2f)", base(d["file_path"]), d["episode"], d["match_score"])
	case event.FileFailed:
		return fmt.Sprintf("Could not verify %s: %v", base(d["file_path"]), d["error"])
	}
	if d == nil {
		return string(e.Type)
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func base(v any) string {
	s, _ := v.(string)
	if s == "" {
		return "file"
	}
	return filepath.Base(s)
}
