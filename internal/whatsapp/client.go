// Package whatsapp talks to the WhatsApp Cloud API: outbound text
// messages, media downloads and inbound webhook parsing.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/buscai/backend/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxMediaBytes = 16 << 20

var ErrNotConfigured = errors.New("whatsapp client is not configured")

// InboundMessage is one user message extracted from a webhook delivery.
type InboundMessage struct {
	ID        string
	From      string
	Name      string
	Type      string
	Text      string
	MediaID   string
	MimeType  string
	Timestamp time.Time
}

type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

func NewClient(cfg config.WhatsAppConfig) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c.accessToken != "" && c.phoneNumberID != ""
}

// SendText sends a plain text message to a WhatsApp number.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if !c.Enabled() {
		log.Printf("[WHATSAPP] Client disabled, dropping message to %s", to)
		return ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	resp, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	log.Printf("[WHATSAPP] Message %s sent to %s", gjson.GetBytes(resp, "messages.0.id").String(), to)
	return nil
}

// DownloadMedia resolves a media id to its URL and fetches the bytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if !c.Enabled() {
		return nil, "", ErrNotConfigured
	}

	meta, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, mediaID), nil)
	if err != nil {
		return nil, "", err
	}
	mediaURL := gjson.GetBytes(meta, "url").String()
	if mediaURL == "" {
		return nil, "", fmt.Errorf("media %s has no url", mediaID)
	}

	data, err := c.do(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	return data, gjson.GetBytes(meta, "mime_type").String(), nil
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("whatsapp api %s %d: %s", method, resp.StatusCode, msg)
	}
	return data, nil
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// ParseWebhook extracts the user messages of a webhook delivery. Status
// callbacks carry no messages and yield nothing.
func ParseWebhook(body []byte) []InboundMessage {
	var out []InboundMessage

	gjson.GetBytes(body, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			names := make(map[string]string)
			value.Get("contacts").ForEach(func(_, contact gjson.Result) bool {
				names[contact.Get("wa_id").String()] = contact.Get("profile.name").String()
				return true
			})

			value.Get("messages").ForEach(func(_, m gjson.Result) bool {
				msg := InboundMessage{
					ID:   m.Get("id").String(),
					From: m.Get("from").String(),
					Type: m.Get("type").String(),
				}
				msg.Name = names[msg.From]
				if ts, err := strconv.ParseInt(m.Get("timestamp").String(), 10, 64); err == nil {
					msg.Timestamp = time.Unix(ts, 0)
				}

				switch msg.Type {
				case "text":
					msg.Text = m.Get("text.body").String()
				case "audio":
					msg.MediaID = m.Get("audio.id").String()
					msg.MimeType = m.Get("audio.mime_type").String()
				case "interactive":
					msg.Text = m.Get("interactive.button_reply.title").String()
					if msg.Text == "" {
						msg.Text = m.Get("interactive.list_reply.title").String()
					}
				}
				out = append(out, msg)
				return true
			})
			return true
		})
		return true
	})
	return out
}
