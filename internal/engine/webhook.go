package engine

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/osiriscare/recon/internal/events"
)

// alertWebhook forwards alert events to an external HTTP endpoint.
// Fire-and-forget: delivery failures are logged, never retried, and never
// block the emitter.
type alertWebhook struct {
	url    string
	apiKey string
	client *http.Client
}

func newAlertWebhook(url, apiKey string) *alertWebhook {
	return &alertWebhook{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Subscribe attaches the webhook to the bus's alert events.
func (w *alertWebhook) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		if name != events.Alert {
			return
		}
		w.deliver(payload)
	})
}

func (w *alertWebhook) deliver(payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[alerts] Marshal alert: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[alerts] Build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("[alerts] POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		log.Printf("[alerts] POST returned %d", resp.StatusCode)
	}
}
