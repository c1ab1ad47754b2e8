package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Template is the subject and body text for one message kind. Placeholders
// take the form {{key}}.
type Template struct {
	Kind    Kind
	Subject string
	Body    string
}

// TemplateEngine holds one template per kind.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Kind]Template)}
	for _, t := range builtIn {
		e.templates[t.Kind] = t
	}
	return e
}

var builtIn = []Template{
	{
		Kind:    BookingRequested,
		Subject: "New OR request from {{department}}",
		Body:    "{{department}} requested {{room}} on {{date}} {{start}}-{{end}} for {{procedure}} ({{surgeon}}).",
	},
	{
		Kind:    BookingConfirmed,
		Subject: "OR request received",
		Body:    "Your request for {{procedure}} on {{date}} {{start}}-{{end}} is pending approval.",
	},
	{
		Kind:    BookingApproved,
		Subject: "OR booking approved",
		Body:    "{{procedure}} on {{date}} {{start}}-{{end}} in {{room}} was approved.",
	},
	{
		Kind:    BookingDenied,
		Subject: "OR booking denied",
		Body:    "{{procedure}} on {{date}} {{start}}-{{end}} was denied: {{reason}}",
	},
	{
		Kind:    BookingCancelled,
		Subject: "OR booking cancelled",
		Body:    "{{procedure}} on {{date}} {{start}}-{{end}} in {{room}} was cancelled. {{reason}}",
	},
	{
		Kind:    BookingBumped,
		Subject: "OR booking displaced by an emergency",
		Body:    "{{procedure}} on {{date}} {{start}}-{{end}} was displaced by an emergency case and needs rescheduling. {{reason}}",
	},
	{
		Kind:    EmergencyInserted,
		Subject: "Emergency case in {{room}}",
		Body:    "Emergency {{procedure}} inserted in {{room}} on {{date}} {{start}}-{{end}}: {{reason}}. {{bumped_count}} booking(s) displaced.",
	},
	{
		Kind:    RoomStatusChanged,
		Subject: "{{room}} is now {{state}}",
		Body:    "{{room}} changed from {{previous_state}} to {{state}}. {{procedure}}",
	},
}

// Register adds or replaces the template for t.Kind.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = t
}

// Render fills the template for kind from data. Placeholders without data
// are replaced by the empty string.
func (e *TemplateEngine) Render(kind string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[Kind(kind)]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}
	return fill(t.Subject, data), fill(t.Body, data), nil
}

func fill(text string, data map[string]string) string {
	var b strings.Builder
	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(text[open:], "}}")
		if end < 0 {
			break
		}
		b.WriteString(text[:open])
		b.WriteString(data[text[open+2:open+end]])
		text = text[open+end+2:]
	}
	b.WriteString(text)
	return strings.TrimSpace(b.String())
}
