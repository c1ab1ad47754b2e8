// Package notify carries notification intents from the scheduler to the
// channels that deliver them: logs, a Redis stream, a signed webhook and MQTT
// door displays.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind names the event a message reports.
type Kind string

const (
	BookingRequested  Kind = "booking_requested"
	BookingConfirmed  Kind = "booking_confirmed"
	BookingApproved   Kind = "booking_approved"
	BookingDenied     Kind = "booking_denied"
	BookingCancelled  Kind = "booking_cancelled"
	BookingBumped     Kind = "booking_bumped"
	EmergencyInserted Kind = "emergency_inserted"
	RoomStatusChanged Kind = "room_status_changed"
)

// Audience selects recipients. Delivery channels resolve it to people.
type Audience struct {
	Everyone    bool     `json:"everyone,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Users       []string `json:"users,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// IsEmpty reports whether the audience addresses nobody.
func (a Audience) IsEmpty() bool {
	return !a.Everyone && len(a.Roles) == 0 && len(a.Users) == 0 && len(a.Departments) == 0
}

// Message is one notification intent.
type Message struct {
	Kind     Kind              `json:"kind"`
	Audience Audience          `json:"audience"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	At       time.Time         `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Nop discards every message.
var Nop Notifier = NotifierFunc(func(context.Context, Message) error { return nil })

// Dispatcher renders a message from its kind's template and hands it to every
// sink. Every sink is attempted; their errors are joined.
type Dispatcher struct {
	templates *TemplateEngine
	sinks     []Notifier
}

func NewDispatcher(templates *TemplateEngine, sinks ...Notifier) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{templates: templates, sinks: sinks}
}

// Add registers another sink.
func (d *Dispatcher) Add(sink Notifier) {
	d.sinks = append(d.sinks, sink)
}

// ErrNoAudience is returned for a message that addresses nobody.
var ErrNoAudience = errors.New("notification has no audience")

func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	if msg.Audience.IsEmpty() {
		return fmt.Errorf("%s: %w", msg.Kind, ErrNoAudience)
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	if msg.Subject == "" && msg.Body == "" {
		subject, body, err := d.templates.Render(string(msg.Kind), msg.Data)
		if err != nil {
			return fmt.Errorf("render %s: %w", msg.Kind, err)
		}
		msg.Subject, msg.Body = subject, body
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
