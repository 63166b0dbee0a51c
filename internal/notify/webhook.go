package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"autoprint/internal/db"
)

// WebhookPayload is the body POSTed to a registered endpoint.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type WebhookConfig struct {
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	webhook *db.Webhook
	payload *WebhookPayload
}

// WebhookSender delivers staff and broadcast events to registered HTTP
// endpoints. Delivery is best effort: one attempt per endpoint, and
// tasks are dropped when the queue is full.
type WebhookSender struct {
	httpClient  *http.Client
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewWebhookSender(config WebhookConfig) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	return &WebhookSender{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Send queues the event for every enabled webhook subscribed to it.
func (s *WebhookSender) Send(event string, data interface{}) {
	webhooks, err := db.Webhooks.ListForEvent(context.Background(), event)
	if err != nil {
		log.Printf("[webhook] failed to get webhooks for event %s: %v", event, err)
		return
	}

	for _, webhook := range webhooks {
		task := &webhookTask{
			webhook: webhook,
			payload: &WebhookPayload{
				Event:     event,
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			log.Printf("[webhook] queue full, dropping webhook %d for event %s", webhook.ID, event)
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendRequest(task.webhook, task.payload); err != nil {
				log.Printf("[webhook worker %d] failed to send webhook %d for event %s: %v",
					id, task.webhook.ID, task.payload.Event, err)
			}
		}
	}
}

func (s *WebhookSender) sendRequest(webhook *db.Webhook, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if webhook.Secret != "" {
		payload.Signature = signPayload(dataBytes, webhook.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", webhook.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
