package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/storage"
)

// FiringEvent 封装一次待推送的规则触发。Built per evaluation pass and handed
// to the dispatcher; never persisted.
type FiringEvent struct {
	RuleID          int64
	Kind            storage.RuleKind
	Threshold       decimal.Decimal
	WindowHours     *int
	AssetSymbol     string
	AssetName       string
	TriggeringPrice decimal.Decimal
	FiredAt         time.Time
	Email           string
	Phone           string
	Channels        []string
}

// Notifier 定义单通道告警输送接口。
type Notifier interface {
	// Channel names the delivery channel this notifier serves.
	Channel() string
	Notify(ctx context.Context, event FiringEvent) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Channel implements Notifier.
func (n *TelegramNotifier) Channel() string { return "telegram" }

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event FiringEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("rule_id", event.RuleID).
		Str("asset", event.AssetSymbol).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(event FiringEvent) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Alert] %s\n", event.AssetName))
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", event.FiredAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Condition: %s\n", describeCondition(event)))
	builder.WriteString(fmt.Sprintf("Price: %s\n", event.TriggeringPrice.StringFixed(6)))
	return builder.String()
}

func describeCondition(event FiringEvent) string {
	switch event.Kind {
	case storage.KindPriceAbove:
		return fmt.Sprintf("%s above %s", event.AssetSymbol, event.Threshold.String())
	case storage.KindPriceBelow:
		return fmt.Sprintf("%s below %s", event.AssetSymbol, event.Threshold.String())
	case storage.KindPctIncrease:
		return fmt.Sprintf("%s up %s%% over %s", event.AssetSymbol, event.Threshold.String(), windowLabel(event.WindowHours))
	case storage.KindPctDecrease:
		return fmt.Sprintf("%s down %s%% over %s", event.AssetSymbol, event.Threshold.String(), windowLabel(event.WindowHours))
	default:
		return string(event.Kind)
	}
}

func windowLabel(hours *int) string {
	if hours == nil {
		return "?"
	}
	return fmt.Sprintf("%dh", *hours)
}

var _ Notifier = (*TelegramNotifier)(nil)
