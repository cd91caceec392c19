package alarms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier pushes alarm summaries to an ntfy.sh-style HTTP topic,
// adapted directly from the teacher's notifications.Send.
type Notifier struct {
	Topic  string
	client *http.Client
}

func NewNotifier(topic string) *Notifier {
	return &Notifier{Topic: topic, client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *Notifier) Send(title, message string) error {
	if n.Topic == "" {
		return fmt.Errorf("alarms: notifier topic not configured")
	}

	url := fmt.Sprintf("https://ntfy.sh/%s", n.Topic)
	payload := map[string]any{
		"topic":   n.Topic,
		"title":   title,
		"message": message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create alarm notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alarm notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}
	return nil
}
