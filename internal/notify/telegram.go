// Package notify sends trade alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

const defaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token   string
	ChatID  string
	BaseURL string
	Timeout time.Duration
	Retries int
}

type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

var _ interfaces.Notifier = (*Telegram)(nil)

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewTelegram(cfg Config) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram: token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.Retries)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
	})

	return &Telegram{client: client, token: cfg.Token, chatID: cfg.ChatID}, nil
}

func (t *Telegram) NotifyClose(ctx context.Context, o types.Order) error {
	return t.send(ctx, FormatClose(o))
}

func (t *Telegram) NotifyRejection(ctx context.Context, intent types.OrderIntent, reason string) error {
	return t.send(ctx, FormatRejection(intent, reason))
}

func (t *Telegram) send(ctx context.Context, text string) error {
	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(sendMessage{ChatID: t.chatID, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

// FormatClose renders a closed order as a short alert.
func FormatClose(o types.Order) string {
	sign := "+"
	if o.RealizedPnL < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s %s %s closed (%s)\nentry %.5f exit %.5f size %.2f\nPnL %s%.2f held %s",
		o.StrategyID, strings.ToUpper(o.Direction.String()), o.Symbol, o.CloseReason,
		o.EntryPrice, o.ExitPrice, o.Size,
		sign, o.RealizedPnL, o.ClosedAt.Sub(o.OpenedAt).Round(time.Second))
}

func FormatRejection(intent types.OrderIntent, reason string) string {
	return fmt.Sprintf("%s %s %s rejected: %s",
		intent.StrategyID, strings.ToUpper(intent.Direction.String()), intent.Symbol, reason)
}
