package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"carlink-backend/internal/store"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Event is one trigger firing on one vehicle.
type Event struct {
	VIN     string
	Trigger string
	Tokens  map[string]string
}

// WorkerPool fans trigger events out to the push subscriptions. Dispatch
// never blocks the polling loop: when the queue is full the event is
// dropped with a log line.
type WorkerPool struct {
	size    int
	jobs    chan Event
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st store.Store, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, 16*size),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.deliver(ctx, ev)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// Notify implements the device-facing sink. Non-blocking.
func (wp *WorkerPool) Notify(vin, trigger string, tokens map[string]string) {
	select {
	case wp.jobs <- Event{VIN: vin, Trigger: trigger, Tokens: tokens}:
	default:
		log.Printf("Notification queue full, dropping %s for %s", trigger, vin)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

// deliver fetches the matching subscriptions and sends the rendered
// message to each of them.
func (wp *WorkerPool) deliver(ctx context.Context, ev Event) {
	subs, err := wp.store.Subscriptions(ctx, ev.VIN)
	if err != nil {
		log.Printf("Error fetching subscriptions for %s: %v", ev.VIN, err)
		return
	}

	payload, err := renderPayload(ev)
	if err != nil {
		log.Printf("Error rendering %s payload: %v", ev.Trigger, err)
		return
	}

	sent := 0
	for _, sub := range subs {
		if !store.WantsTrigger(sub, ev.Trigger) {
			continue
		}
		wp.send(ctx, sub.Endpoint, sub.P256DH, sub.Auth, payload)
		sent++
	}
	if sent > 0 {
		log.Printf("Sent %d notifications for %s/%s", sent, ev.VIN, ev.Trigger)
	}
}

// renderPayload builds the JSON push body from the trigger and its tokens.
func renderPayload(ev Event) ([]byte, error) {
	name := ev.Tokens["name"]
	if name == "" {
		name = ev.VIN
	}

	var title, body string
	switch ev.Trigger {
	case "has_moved":
		title = fmt.Sprintf("%s started moving", name)
		body = "The car left its last known position."
	case "has_parked":
		title = fmt.Sprintf("%s parked", name)
		if addr := ev.Tokens["address"]; addr != "" {
			body = addr
		} else {
			body = "The car was parked and locked."
		}
	case "status_update":
		title = fmt.Sprintf("%s status updated", name)
		body = "Fresh data arrived from the car."
	case "alarm_battery":
		title = fmt.Sprintf("%s battery is low", name)
		body = "The 12V battery dropped below the alarm level."
	case "alarm_battery.EV":
		title = fmt.Sprintf("%s charge is low", name)
		body = "The drive battery dropped below the alarm level."
	case "alarm_tire_pressure":
		title = fmt.Sprintf("%s tire pressure warning", name)
		body = "A tire pressure lamp is on."
	default:
		title = name
		body = ev.Trigger
	}

	msg := map[string]string{"title": title, "body": body}
	if m := ev.Tokens["map"]; m != "" {
		msg["url"] = m
	}
	return json.Marshal(msg)
}

// send pushes one payload, pruning the subscription when the push service
// reports it gone.
func (wp *WorkerPool) send(ctx context.Context, endpoint, p256dh, auth string, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: p256dh,
			Auth:   auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", endpoint)
		if err := wp.store.DeleteSubscription(ctx, endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", endpoint, err)
		}
	}
}

// SetSender replaces the sender, for tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}
