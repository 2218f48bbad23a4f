// Package binance adapts Binance USD-M futures in hedge mode to the
// broker contracts.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "binance")

type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	QuoteAsset string // balance asset, "USDT" by default
}

// Client talks to the futures REST and websocket APIs.
type Client struct {
	api   *futures.Client
	quote string

	mu   sync.Mutex
	meta map[string]market.InstrumentMeta

	keepalive time.Duration
}

var _ broker.Exchange = (*Client)(nil)
var _ broker.PositionStream = (*Client)(nil)
var _ broker.MarketData = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Testnet {
		// The go-binance endpoint switch is package global.
		futures.UseTestnet = true
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	return &Client{
		api:       gobinance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		quote:     quote,
		meta:      make(map[string]market.InstrumentMeta),
		keepalive: 30 * time.Minute,
	}
}

func (c *Client) FetchOpenPositions(ctx context.Context) ([]market.Position, error) {
	res, err := c.api.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", translate(err, broker.ErrTransient))
	}
	return toPositions(res)
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]market.Order, error) {
	res, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, translate(err, broker.ErrTransient))
	}
	out := make([]market.Order, 0, len(res))
	for _, o := range res {
		mo, err := fromOrder(o)
		if err != nil {
			return nil, fmt.Errorf("open orders %s: %w: %v", symbol, broker.ErrAmbiguousState, err)
		}
		out = append(out, mo)
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, id, symbol string) error {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: order id %q", broker.ErrInvalidRequest, id)
	}
	_, err = c.api.NewCancelOrderService().Symbol(symbol).OrderID(oid).Do(ctx)
	if err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, id, translate(err, broker.ErrTransient))
	}
	return nil
}

func (c *Client) CreateOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	if err := req.Validate(); err != nil {
		return market.Order{}, fmt.Errorf("%w: %v", broker.ErrInvalidRequest, err)
	}
	meta, err := c.instrument(ctx, req.Symbol)
	if err != nil {
		return market.Order{}, err
	}
	p, err := buildOrder(req, meta)
	if err != nil {
		return market.Order{}, err
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(p.side).
		PositionSide(p.positionSide).
		Type(p.orderType).
		Quantity(p.quantity).
		NewClientOrderID(p.clientID)
	if p.price != "" {
		svc = svc.Price(p.price).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if p.stopPrice != "" {
		svc = svc.StopPrice(p.stopPrice).WorkingType(futures.WorkingTypeContractPrice)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return market.Order{}, fmt.Errorf("create %s %s: %w", req.Purpose, req.Symbol, translate(err, broker.ErrRejected))
	}

	log.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"order_id": res.OrderID,
		"type":     p.orderType,
		"side":     p.side,
		"leg":      p.positionSide,
		"qty":      p.quantity,
	}).Info("order placed")

	return market.Order{
		ID:           strconv.FormatInt(res.OrderID, 10),
		Symbol:       req.Symbol,
		Type:         req.Type,
		Side:         req.Side,
		PositionSide: req.PositionSide,
		Amount:       meta.RoundQty(req.Amount),
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Direction:    req.Direction,
		ReduceOnly:   req.ReduceOnly,
		Purpose:      req.Purpose,
		Created:      time.UnixMilli(res.UpdateTime),
	}, nil
}

func (c *Client) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	books, err := c.api.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Tick{}, fmt.Errorf("book ticker %s: %w", symbol, translate(err, broker.ErrTransient))
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Tick{}, fmt.Errorf("price %s: %w", symbol, translate(err, broker.ErrTransient))
	}
	return toTick(symbol, books, prices, time.Now())
}

func (c *Client) GetAvailableBalance(ctx context.Context) (float64, error) {
	res, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", translate(err, broker.ErrTransient))
	}
	for _, b := range res {
		if b.Asset != c.quote {
			continue
		}
		v, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			return 0, fmt.Errorf("balance: %w: %v", broker.ErrAmbiguousState, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("balance: %w: no %s asset", broker.ErrAmbiguousState, c.quote)
}

func (c *Client) CheckSufficientBalance(ctx context.Context, amountUSD float64) (bool, error) {
	avail, err := c.GetAvailableBalance(ctx)
	if err != nil {
		return false, err
	}
	return avail >= amountUSD, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("leverage %s: %w", symbol, translate(err, broker.ErrTransient))
	}
	return nil
}

// instrument loads and caches precision filters for symbol.
func (c *Client) instrument(ctx context.Context, symbol string) (market.InstrumentMeta, error) {
	c.mu.Lock()
	m, ok := c.meta[symbol]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return market.InstrumentMeta{}, fmt.Errorf("exchange info: %w", translate(err, broker.ErrTransient))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		c.meta[s.Symbol] = toInstrument(s.Symbol, s.BaseAsset, s.QuoteAsset, s.Filters)
	}
	m, ok = c.meta[symbol]
	if !ok {
		return market.InstrumentMeta{}, fmt.Errorf("%w: unknown symbol %s", broker.ErrInvalidRequest, symbol)
	}
	return m, nil
}
