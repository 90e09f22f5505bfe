package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/env"
)

// PushSink posts notifications to the push delivery service.
type PushSink struct {
	EndpointURL string
	Token       string
	HTTPClient  *http.Client
}

func NewPushSinkFromEnv() *PushSink {
	endpoint := strings.TrimSpace(env.GetEnv("PUSH_ENDPOINT_URL", ""))
	if endpoint == "" {
		return nil
	}
	return &PushSink{
		EndpointURL: endpoint,
		Token:       strings.TrimSpace(env.GetEnv("PUSH_API_TOKEN", "")),
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *PushSink) Name() string { return "push" }

func (p *PushSink) Send(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.EndpointURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("push endpoint returned status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
