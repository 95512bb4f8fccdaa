package decision

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/indicators"
	"trade_pilot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const systemPrompt = `You are an experienced, slightly aggressive Bitcoin futures trader.
You read daily and hourly OHLCV with indicators, the Fear & Greed Index and your own recent trades.
Only one position per instrument may be open. You may open only when flat and close only the side that is open.

Respond with a JSON object:
{
  "action": "open_long" | "open_short" | "close_long" | "close_short" | "hold",
  "confidence": number between 0 and 1,
  "reason": "short explanation"
}`

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// LLM OpenAI-совместимый /chat/completions с response_format=json_object.
type LLM struct {
	client *resty.Client
	cfg    LLMConfig
}

func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetAuthToken(cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	return &LLM{client: client, cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// llmAnswer принимает и confidence (0..1), и percentage (1..100).
type llmAnswer struct {
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence"`
	Percentage *float64 `json:"percentage"`
	Reason     string   `json:"reason"`
}

func (l *LLM) Decide(ctx context.Context, in Context) (models.Decision, error) {
	content, err := l.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(in)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return models.Decision{}, err
	}
	return ParseAnswer(content)
}

// Complete свободный ответ (для рефлексии).
func (l *LLM) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return l.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	})
}

func (l *LLM) complete(ctx context.Context, req chatRequest) (string, error) {
	req.Model = l.cfg.Model
	req.Temperature = l.cfg.Temperature

	var out chatResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", exchange.Transient(fmt.Errorf("llm request: %w", err))
	}
	if resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500 {
		return "", exchange.Transient(fmt.Errorf("llm http %d: %s", resp.StatusCode(), resp.String()))
	}
	if resp.IsError() {
		return "", fmt.Errorf("llm http %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: llm returned no choices", ErrInvalidDecision)
	}
	return out.Choices[0].Message.Content, nil
}

// ParseAnswer JSON ответа модели -> Decision.
func ParseAnswer(content string) (models.Decision, error) {
	var a llmAnswer
	if err := sonic.UnmarshalString(strings.TrimSpace(content), &a); err != nil {
		return models.Decision{}, fmt.Errorf("%w: %v; raw=%q", ErrInvalidDecision, err, content)
	}

	action, ok := models.ParseAction(a.Action)
	if !ok {
		return models.Decision{}, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, a.Action)
	}

	var conf float64
	switch {
	case a.Confidence != nil:
		conf = *a.Confidence
	case a.Percentage != nil:
		conf = *a.Percentage / 100
	case action == models.ActionHold:
		conf = 0
	default:
		return models.Decision{}, fmt.Errorf("%w: %s without confidence", ErrInvalidDecision, action)
	}

	d := models.Decision{Action: action, Confidence: conf, Rationale: a.Reason}
	if err := Validate(d); err != nil {
		return models.Decision{}, err
	}
	return d, nil
}

func userPrompt(in Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Instrument: %s\n", in.InstID)
	fmt.Fprintf(&b, "Available USDT balance: %s\n", in.Balance.StringFixed(2))
	fmt.Fprintf(&b, "Price: %s\n", in.Price.String())
	if in.Position.IsFlat() {
		b.WriteString("Current position: none\n")
	} else {
		ret := 0.0
		if in.Position.EntryPrice.IsPositive() {
			r, _ := in.Price.Sub(in.Position.EntryPrice).Div(in.Position.EntryPrice).Mul(in.Position.Sign()).Float64()
			ret = r * 100
		}
		fmt.Fprintf(&b, "Current position: %s, return %.2f%%, unrealized PnL %s USDT\n",
			in.Position, ret, in.Position.UnrealizedPnL(in.Price).StringFixed(2))
	}
	if in.FearGreed != nil {
		fmt.Fprintf(&b, "Fear and Greed Index: %d (%s)\n", in.FearGreed.Value, in.FearGreed.Classification)
	}
	if in.Reflection != "" {
		fmt.Fprintf(&b, "\nReflection on recent trades:\n%s\n", in.Reflection)
	}
	if len(in.Recent) > 0 {
		b.WriteString("\nRecent trades (newest first): time,action,confidence,outcome,realized_pnl\n")
		for _, r := range in.Recent {
			pnl := ""
			if r.RealizedPnL.Valid {
				pnl = r.RealizedPnL.Decimal.StringFixed(2)
			}
			fmt.Fprintf(&b, "%s,%s,%.2f,%s,%s\n",
				r.CycleAt.UTC().Format(time.RFC3339), r.Decision.Action, r.Decision.Confidence, r.Outcome, pnl)
		}
	}

	for _, s := range in.Series {
		fmt.Fprintf(&b, "\n%s OHLCV with indicators (%d rows):\n", s.Bar, len(s.Rows))
		writeCSV(&b, s)
	}
	b.WriteString("\nDecide the action and your confidence.")
	return b.String()
}

// writeCSV NaN пишем пустым полем.
func writeCSV(b *strings.Builder, s models.Series) {
	b.WriteString("ts,open,high,low,close,volume")
	for _, k := range indicators.Keys {
		b.WriteString("," + k)
	}
	b.WriteByte('\n')

	num := func(v float64) string {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	for _, r := range s.Rows {
		b.WriteString(r.Timestamp.UTC().Format(time.RFC3339))
		for _, v := range []float64{r.Open, r.High, r.Low, r.Close, r.Volume} {
			b.WriteString("," + num(v))
		}
		for _, k := range indicators.Keys {
			b.WriteString("," + num(indicators.Value(r, k)))
		}
		b.WriteByte('\n')
	}
}
