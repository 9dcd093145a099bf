package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"irs-keeper/internal/irs"
)

// Kind separates liquidation alerts from enforcement alerts.
type Kind string

const (
	KindLiquidation Kind = "liquidation"
	KindEnforcement Kind = "enforcement"
)

// PositionAlert is a position that qualified for liquidation.
type PositionAlert struct {
	Position             irs.Position
	Margin               *big.Int
	LiquidationThreshold *big.Int
}

// EnforcementAlert is a rate oracle whose buffer could not be enforced.
type EnforcementAlert struct {
	Name   string
	Oracle string
	Kind   string
	Err    string
}

// Notification carries one round's alert context.
type Notification struct {
	Kind          Kind
	Network       string
	Round         time.Time
	Positions     []PositionAlert
	Failures      []EnforcementAlert
	BatchPath     string
	AdditionalMsg string
}

// Key identifies the alert's subject for de-duplication.
func (n Notification) Key() string {
	parts := []string{string(n.Kind), n.Network}
	for _, p := range n.Positions {
		parts = append(parts, p.Position.String())
	}
	for _, f := range n.Failures {
		parts = append(parts, f.Oracle+":"+f.Kind)
	}
	return strings.Join(parts, "|")
}

// Notifier defines alert delivery.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("network", note.Network).
		Int("positions", len(note.Positions)).
		Int("failures", len(note.Failures)).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindEnforcement:
		builder.WriteString(fmt.Sprintf("[IRS keeper] buffer enforcement failed on %s\n", note.Network))
	default:
		builder.WriteString(fmt.Sprintf("[IRS keeper] %d liquidatable positions on %s\n", len(note.Positions), note.Network))
	}
	if !note.Round.IsZero() {
		builder.WriteString(fmt.Sprintf("Round: %s UTC\n", note.Round.UTC().Format(time.RFC3339)))
	}
	for _, p := range note.Positions {
		builder.WriteString(fmt.Sprintf("- %s margin %s <= liquidation %s\n",
			p.Position, irs.FormatWad(p.Margin), irs.FormatWad(p.LiquidationThreshold)))
	}
	for _, f := range note.Failures {
		builder.WriteString(fmt.Sprintf("- %s (%s) %s: %s\n", f.Name, f.Oracle, f.Kind, f.Err))
	}
	if note.BatchPath != "" {
		builder.WriteString(fmt.Sprintf("Batch: %s\n", note.BatchPath))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
