package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	SignatureHeader = "X-Orsched-Signature"
	EventHeader     = "X-Orsched-Event"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value.
func VerifySignature(payload []byte, secret, header string) bool {
	expected := "sha256=" + Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}

// WebhookSink POSTs each message as JSON to a fixed URL.
type WebhookSink struct {
	client *resty.Client
	url    string
	secret string
}

func NewWebhookSink(url, secret string) *WebhookSink {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookSink{client: client, url: url, secret: secret}
}

func (s *WebhookSink) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req := s.client.R().
		SetContext(ctx).
		SetHeader(EventHeader, string(msg.Kind)).
		SetBody(payload)
	if s.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+Sign(payload, s.secret))
	}

	resp, err := req.Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
