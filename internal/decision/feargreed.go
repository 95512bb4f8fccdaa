package decision

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Index индекс страха и жадности alternative.me.
type Index struct {
	Value          int       `json:"value"`
	Classification string    `json:"value_classification"`
	At             time.Time `json:"at"`
}

// FearGreed клиент alternative.me /fng/. Ошибка не фатальна для цикла.
type FearGreed struct {
	client *resty.Client
}

func NewFearGreed(baseURL string) *FearGreed {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(10 * time.Second)
	return &FearGreed{client: client}
}

type fngResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (f *FearGreed) Fetch(ctx context.Context) (*Index, error) {
	var out fngResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		SetResult(&out).
		Get("/fng/")
	if err != nil {
		return nil, fmt.Errorf("fear&greed request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fear&greed http %d", resp.StatusCode())
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("fear&greed: empty data")
	}

	row := out.Data[0]
	v, err := strconv.Atoi(row.Value)
	if err != nil {
		return nil, fmt.Errorf("fear&greed value %q: %w", row.Value, err)
	}
	idx := &Index{Value: v, Classification: row.Classification}
	if ts, err := strconv.ParseInt(row.Timestamp, 10, 64); err == nil {
		idx.At = time.Unix(ts, 0).UTC()
	}
	return idx, nil
}
