// Package platform is the outbound edge of the engine: REST calls to the
// messaging platform's graph API, and AI completion calls for smart
// replies. Every call carries a bounded timeout, and an idempotency token
// derived from the job's dedup key so a retried job can not double-send.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Messenger is the outbound messaging surface the action executor
// dispatches through.
type Messenger interface {
	SendDM(ctx context.Context, token, recipientID, text, idemKey string) (string, error)
	ReplyComment(ctx context.Context, token, commentID, text, idemKey string) (string, error)
	SendCarousel(ctx context.Context, token, recipientID string, elements []automation.CarouselElement, idemKey string) (string, error)
	PublishPost(ctx context.Context, token, pageID, caption, mediaURL string) (string, error)
	LogExternal(ctx context.Context, name string, payload any) error
}

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

// NewHTTPClient generates an HTTP client with general-purpose defaults
// around timeouts and retries: connection errors, 5xx (except 501), and
// 429 with Retry-After are retried internally before the error taxonomy
// ever sees them.
func NewHTTPClient(logger *slog.Logger) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{logger})
	client := retryClient.StandardClient()
	client.Timeout = 15 * time.Second
	return client
}

// Client talks to the platform's messaging REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// platform-wide send budget; per-page limits are the platform's problem
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "platform-client")
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: NewHTTPClient(logger),
		Limiter:    rate.NewLimiter(rate.Limit(25), 25),
		Logger:     logger,
	}
}

type apiResponse struct {
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, op, path, token, idemKey string, body any) (string, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return "", err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", &PermanentError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return "", &PermanentError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", classify(op, 0, err)
	}
	defer resp.Body.Close()

	if cerr := classify(op, resp.StatusCode, nil); cerr != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", cerr
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// the send already happened; a garbled response body is not a
		// reason to retry and double-send
		c.Logger.Warn("undecodable platform response", "op", op, "err", err)
		return "", nil
	}
	if out.MessageID != "" {
		return out.MessageID, nil
	}
	return out.ID, nil
}

type messageBody struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message any `json:"message"`
}

func (c *Client) SendDM(ctx context.Context, token, recipientID, text, idemKey string) (string, error) {
	var body messageBody
	body.Recipient.ID = recipientID
	body.Message = map[string]string{"text": text}
	return c.post(ctx, "send_dm", "/me/messages", token, idemKey, body)
}

func (c *Client) ReplyComment(ctx context.Context, token, commentID, text, idemKey string) (string, error) {
	body := map[string]string{"message": text}
	return c.post(ctx, "reply_comment", fmt.Sprintf("/%s/replies", commentID), token, idemKey, body)
}

func (c *Client) SendCarousel(ctx context.Context, token, recipientID string, elements []automation.CarouselElement, idemKey string) (string, error) {
	type button struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	}
	type element struct {
		Title    string   `json:"title"`
		Subtitle string   `json:"subtitle,omitempty"`
		ImageURL string   `json:"image_url,omitempty"`
		Buttons  []button `json:"buttons,omitempty"`
	}

	els := make([]element, 0, len(elements))
	for _, e := range elements {
		el := element{Title: e.Title, Subtitle: e.Subtitle, ImageURL: e.ImageURL}
		if e.Payload != "" {
			el.Buttons = []button{{Type: "postback", Title: e.Title, Payload: e.Payload}}
		}
		els = append(els, el)
	}

	var body messageBody
	body.Recipient.ID = recipientID
	body.Message = map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "generic",
				"elements":      els,
			},
		},
	}
	return c.post(ctx, "send_carousel", "/me/messages", token, idemKey, body)
}

func (c *Client) PublishPost(ctx context.Context, token, pageID, caption, mediaURL string) (string, error) {
	body := map[string]string{
		"caption":   caption,
		"image_url": mediaURL,
	}
	return c.post(ctx, "publish_post", fmt.Sprintf("/%s/media_publish", pageID), token, "", body)
}

// LogExternal writes one event to an external log sink. Best-effort
// semantics are the caller's call; failures here classify like any other
// outbound error.
func (c *Client) LogExternal(ctx context.Context, name string, payload any) error {
	_, err := c.post(ctx, "log_external", fmt.Sprintf("/logs/%s", name), "", "", payload)
	return err
}
