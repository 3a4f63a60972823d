// Package notify предоставляет клиент шлюза доставки сообщений пользователям.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом уведомлений.
// Доставка best-effort: вызывающая сторона шлёт уведомления только после
// коммита транзакции и не откатывает её при сбое доставки.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type pushRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// NewClient создаёт HTTP-клиент шлюза уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// Push отправляет пользователю текстовое сообщение через шлюз.
func (c *Client) Push(ctx context.Context, userID int64, text string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(pushRequest{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
