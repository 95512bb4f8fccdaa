package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const defaultBaseURL = "https://www.okx.com"

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	// Simulated демо-торговля OKX (заголовок x-simulated-trading)
	Simulated bool
	// TdMode cross / isolated
	TdMode  string
	Timeout time.Duration
}

// QuoteSource кэш лучших цен из вебсокета. Если пусто или протухло: идём в REST.
type QuoteSource interface {
	Quote(instID string) (exchange.Quote, bool)
}

type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool
	tdMode    string

	mu     sync.RWMutex
	insts  map[string]models.Instrument
	quotes QuoteSource
}

var (
	_ exchange.Exchange       = (*Client)(nil)
	_ exchange.LeverageSetter = (*Client)(nil)
)

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		passph:    cfg.Passphrase,
		simulated: cfg.Simulated,
		tdMode:    strings.ToLower(cfg.TdMode),
		insts:     make(map[string]models.Instrument),
	}
}

// WithQuotes подключить кэш цен из вебсокета.
func (c *Client) WithQuotes(q QuoteSource) *Client {
	c.quotes = q
	return c
}

func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.apiSecret != "" && c.passph != ""
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do один запрос к REST API. private: подписываем. out: куда разобрать data.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, private bool, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s marshal", path)
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "%s new request", path)
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s do", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Transient(errors.Wrapf(err, "%s read body", path))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return exchange.Transient(errors.Errorf("%s http %d: %s", path, resp.StatusCode, string(data)))
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.Wrapf(exchange.ErrAuth, "%s http 401: %s", path, string(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return errors.Errorf("%s http %d: %s", path, resp.StatusCode, string(data))
		}
		return errors.Wrapf(err, "%s decode; body=%s", path, string(data))
	}

	if env.Code != "0" {
		code, msg := env.Code, env.Msg
		// у торговых эндпоинтов детали в data[0].sCode
		var rows []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if len(env.Data) > 0 && sonic.Unmarshal(env.Data, &rows) == nil && len(rows) > 0 && rows[0].SCode != "" && rows[0].SCode != "0" {
			code, msg = rows[0].SCode, rows[0].SMsg
		}
		return newAPIError(path, code, msg)
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return errors.Wrapf(err, "%s decode data", path)
	}
	return nil
}

// APIError ответ OKX с ненулевым кодом. Unwrap отдаёт класс ошибки из exchange.
type APIError struct {
	Path string
	Code string
	Msg  string
	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx %s: code=%s msg=%s", e.Path, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return e.kind }

func newAPIError(path, code, msg string) *APIError {
	return &APIError{Path: path, Code: code, Msg: msg, kind: classify(code)}
}

func classify(code string) error {
	switch code {
	case "50001", "50004", "50011", "50013", "50026", "50061":
		return exchange.ErrTransient
	case "51016":
		return exchange.ErrDuplicateClientID
	case "51603":
		return exchange.ErrOrderNotFound
	case "50100", "50101", "50102", "50103", "50104", "50105", "50111", "50113", "50114":
		return exchange.ErrAuth
	}
	if strings.HasPrefix(code, "51") || strings.HasPrefix(code, "54") {
		return exchange.ErrRejected
	}
	return nil
}

func apiCode(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
