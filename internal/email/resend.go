package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultResendBaseURL = "https://api.resend.com"

type ResendConfig struct {
	APIKey      string
	BaseURL     string
	SenderEmail string
	SenderName  string
	Timeout     time.Duration
}

// ResendProvider sends mail through the Resend HTTP API.
type ResendProvider struct {
	log        *zap.SugaredLogger
	cfg        ResendConfig
	httpClient *http.Client
}

func NewResendProvider(log *zap.SugaredLogger, cfg ResendConfig) (*ResendProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("resend: missing RESEND_API_KEY")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, fmt.Errorf("resend: missing SENDER_EMAIL")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultResendBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &ResendProvider{
		log:        log.With("component", "resend"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// --- Resend wire types ---

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendSendRequest struct {
	From    string      `json:"from"`
	To      []string    `json:"to"`
	Subject string      `json:"subject"`
	HTML    string      `json:"html,omitempty"`
	Text    string      `json:"text,omitempty"`
	ReplyTo string      `json:"reply_to,omitempty"`
	Tags    []resendTag `json:"tags,omitempty"`
}

type resendSendResponse struct {
	ID string `json:"id"`
}

type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) SendResult {
	wire := resendSendRequest{
		From:    p.from(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	for name, value := range msg.Tags {
		wire.Tags = append(wire.Tags, resendTag{Name: name, Value: value})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return SendResult{Success: false, ErrorMessage: fmt.Sprintf("resend: encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return SendResult{Success: false, ErrorMessage: fmt.Sprintf("resend: build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.Warnw("send failed", "to", msg.To, "err", err)
		return SendResult{Success: false, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr resendErrorResponse
		errMsg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			errMsg = apiErr.Message
		}
		p.log.Warnw("send rejected", "to", msg.To, "status", resp.StatusCode, "err", errMsg)
		return SendResult{Success: false, ErrorMessage: fmt.Sprintf("resend http %d: %s", resp.StatusCode, errMsg)}
	}

	var out resendSendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SendResult{Success: false, ErrorMessage: fmt.Sprintf("resend: decode response: %v", err)}
	}

	return SendResult{Success: true, ProviderMessageID: out.ID}
}

func (p *ResendProvider) SendBatch(ctx context.Context, msgs []Message) []SendResult {
	return sendSequential(ctx, p, msgs)
}

func (p *ResendProvider) from() string {
	if strings.TrimSpace(p.cfg.SenderName) == "" {
		return p.cfg.SenderEmail
	}
	return fmt.Sprintf("%s <%s>", p.cfg.SenderName, p.cfg.SenderEmail)
}
