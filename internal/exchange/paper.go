package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trade_pilot/internal/models"
	"trade_pilot/internal/tracker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperConfig параметры симуляции.
type PaperConfig struct {
	Balance    decimal.Decimal
	Leverage   int
	Instrument models.Instrument // дефолт, если нет фида
}

// Paper симулированная биржа: ордера/позиции/баланс в памяти.
// Цены и свечи берёт из feed (обычно публичный OKX), либо из SetQuote.
type Paper struct {
	mu sync.Mutex

	feed MarketData
	cfg  PaperConfig
	now  func() time.Time

	balance   decimal.Decimal
	positions map[string]models.Position
	quotes    map[string]Quote
	orders    map[string]*models.Order
	byClient  map[string]string
}

var _ Exchange = (*Paper)(nil)

func NewPaper(feed MarketData, cfg PaperConfig) *Paper {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Paper{
		feed:      feed,
		cfg:       cfg,
		now:       time.Now,
		balance:   cfg.Balance,
		positions: make(map[string]models.Position),
		quotes:    make(map[string]Quote),
		orders:    make(map[string]*models.Order),
		byClient:  make(map[string]string),
	}
}

// SetQuote выставить цену вручную (без фида).
func (p *Paper) SetQuote(instID string, bid, ask decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[instID] = Quote{Bid: bid, Ask: ask, At: p.now()}
}

func (p *Paper) GetCandles(ctx context.Context, instID, bar string, limit int) ([]models.Candle, error) {
	if p.feed == nil {
		return nil, fmt.Errorf("paper: no candle feed")
	}
	return p.feed.GetCandles(ctx, instID, bar, limit)
}

func (p *Paper) GetPosition(_ context.Context, instID string) (models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[instID]
	if !ok {
		return models.FlatPosition(), nil
	}
	return pos, nil
}

func (p *Paper) GetBalance(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) BestQuote(ctx context.Context, instID string) (Quote, error) {
	if err := p.refreshQuote(ctx, instID); err != nil {
		return Quote{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[instID]
	if !ok {
		return Quote{}, fmt.Errorf("paper: no quote for %s", instID)
	}
	return q, nil
}

func (p *Paper) Instrument(ctx context.Context, instID string) (models.Instrument, error) {
	if p.feed != nil {
		return p.feed.Instrument(ctx, instID)
	}
	inst := p.cfg.Instrument
	inst.InstID = instID
	return inst, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, o models.Order) (models.Order, error) {
	if o.Type == models.OrderMarket || o.Type == models.OrderLimit {
		if err := p.refreshQuote(ctx, o.InstID); err != nil {
			return models.Order{}, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if o.ClientID != "" {
		if _, dup := p.byClient[o.ClientID]; dup {
			return models.Order{}, fmt.Errorf("%w: %s", ErrDuplicateClientID, o.ClientID)
		}
	}
	if !o.Quantity.IsPositive() {
		return models.Order{}, Rejected("quantity must be positive")
	}

	now := p.now()
	o.ID = uuid.NewString()
	o.Status = models.StatusPending
	o.FilledQty = decimal.Zero
	o.AvgFillPrice = decimal.Zero
	o.CreatedAt = now
	o.UpdatedAt = now

	if reason := p.validateLocked(o); reason != "" {
		o.Status = models.StatusRejected
		o.Reason = reason
	} else {
		p.matchLocked(&o)
	}

	stored := o
	p.orders[o.ID] = &stored
	if o.ClientID != "" {
		p.byClient[o.ClientID] = o.ID
	}
	return o, nil
}

func (p *Paper) GetOrder(ctx context.Context, instID, orderID string) (models.Order, error) {
	_ = p.refreshQuote(ctx, instID)

	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !o.Status.Terminal() {
		p.matchLocked(o)
	}
	return *o, nil
}

func (p *Paper) CancelOrder(_ context.Context, _, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status.Terminal() {
		return nil
	}
	o.Status = models.StatusCanceled
	o.UpdatedAt = p.now()
	return nil
}

func (p *Paper) FindOrder(_ context.Context, _, clientID string) (models.Order, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byClient[clientID]
	if !ok {
		return models.Order{}, false, nil
	}
	return *p.orders[id], true, nil
}

func (p *Paper) refreshQuote(ctx context.Context, instID string) error {
	if p.feed == nil {
		return nil
	}
	q, err := p.feed.BestQuote(ctx, instID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.quotes[instID] = q
	p.mu.Unlock()
	return nil
}

// validateLocked reduceOnly и маржа. Пустая строка: ок.
func (p *Paper) validateLocked(o models.Order) string {
	pos := p.positions[o.InstID]
	if o.ReduceOnly {
		if pos.IsFlat() {
			return "reduce-only order with no position"
		}
		if (pos.Side == models.SideLong) == (o.Side == models.OrderBuy) {
			return "reduce-only order would increase position"
		}
		if o.Quantity.GreaterThan(pos.Size) {
			return "reduce-only quantity exceeds position"
		}
		return ""
	}

	q, ok := p.quotes[o.InstID]
	if !ok {
		return "no market price"
	}
	px := o.Price
	if o.Type == models.OrderMarket || !px.IsPositive() {
		px = q.Ask
	}
	maxNotional := p.balance.Mul(decimal.NewFromInt(int64(p.cfg.Leverage)))
	if o.Quantity.Mul(px).GreaterThan(maxNotional) {
		return "insufficient margin"
	}
	return ""
}

// matchLocked лимит исполняется целиком, если цена дошла; маркет: сразу.
func (p *Paper) matchLocked(o *models.Order) {
	q, ok := p.quotes[o.InstID]
	if !ok {
		return
	}

	var px decimal.Decimal
	switch {
	case o.Type == models.OrderMarket && o.Side == models.OrderBuy:
		px = q.Ask
	case o.Type == models.OrderMarket:
		px = q.Bid
	case o.Side == models.OrderBuy && q.Ask.IsPositive() && q.Ask.LessThanOrEqual(o.Price):
		px = q.Ask
	case o.Side == models.OrderSell && q.Bid.IsPositive() && q.Bid.GreaterThanOrEqual(o.Price):
		px = q.Bid
	default:
		return
	}
	if !px.IsPositive() {
		return
	}

	qty := o.Remaining()
	f := models.Fill{OrderID: o.ID, ClientID: o.ClientID, Side: o.Side, Quantity: qty, Price: px, At: p.now()}
	next, pnl, err := tracker.ApplyFill(p.positions[o.InstID], f)
	if err != nil {
		return
	}
	p.positions[o.InstID] = next
	p.balance = p.balance.Add(pnl)

	filled := o.FilledQty.Add(qty)
	o.AvgFillPrice = o.FilledQty.Mul(o.AvgFillPrice).Add(qty.Mul(px)).Div(filled)
	o.FilledQty = filled
	o.Status = models.StatusFilled
	o.UpdatedAt = f.At
}
