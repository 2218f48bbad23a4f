package binance

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/internal/id"
	"github.com/rustyeddy/flipper/market"
	"github.com/shopspring/decimal"
)

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

func sideType(s market.Side) futures.SideType {
	if s == market.Buy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func positionSideType(p market.PositionSide) futures.PositionSideType {
	if p == market.Short {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

// toPositions keeps non-zero legs. A row that does not parse makes the
// whole answer ambiguous rather than silently shorter.
func toPositions(res []*futures.PositionRisk) ([]market.Position, error) {
	var out []market.Position
	for _, r := range res {
		amt, err := parseFloat("positionAmt", r.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", broker.ErrAmbiguousState, err)
		}
		if amt == 0 {
			continue
		}
		entry, err := parseFloat("entryPrice", r.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", broker.ErrAmbiguousState, err)
		}
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)

		side, err := market.ParsePositionSide(r.PositionSide)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", broker.ErrAmbiguousState, err)
		}
		if side == market.None {
			side = market.Long
			if amt < 0 {
				side = market.Short
			}
		}
		out = append(out, market.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Contracts:     math.Abs(amt),
			EntryPrice:    entry,
			UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

// conditional order types by which way they trigger for each side.
// STOP buys fire on a rise and sells on a fall; TAKE_PROFIT the reverse.
func conditionalType(side market.Side, dir market.TriggerDirection, limit bool) futures.OrderType {
	stop := (side == market.Buy) == (dir == market.TriggerRising)
	switch {
	case stop && limit:
		return futures.OrderTypeStop
	case stop:
		return futures.OrderTypeStopMarket
	case limit:
		return futures.OrderTypeTakeProfit
	}
	return futures.OrderTypeTakeProfitMarket
}

type orderParams struct {
	side         futures.SideType
	positionSide futures.PositionSideType
	orderType    futures.OrderType
	quantity     string
	price        string
	stopPrice    string
	clientID     string
}

var purposeTags = map[market.Purpose]string{
	market.PurposeEntry:      "en",
	market.PurposeTakeProfit: "tp",
	market.PurposeFlip:       "fl",
	market.PurposeStopLoss:   "sl",
	market.PurposeClose:      "cl",
}

func purposeFromClientID(cid string) market.Purpose {
	tag, _, ok := strings.Cut(cid, "-")
	if !ok {
		return ""
	}
	for p, t := range purposeTags {
		if t == tag {
			return p
		}
	}
	return ""
}

// buildOrder renders a request into exchange parameters. In hedge mode the
// position side already makes closing orders reduce-only and Binance
// rejects an explicit reduceOnly flag, so it is never sent.
func buildOrder(req market.OrderRequest, meta market.InstrumentMeta) (orderParams, error) {
	ref := req.Price
	if ref == 0 {
		ref = req.TriggerPrice
	}
	if ref > 0 {
		if err := meta.CheckQty(req.Amount, ref); err != nil {
			return orderParams{}, fmt.Errorf("%w: %v", broker.ErrRejected, err)
		}
	}

	p := orderParams{
		side:         sideType(req.Side),
		positionSide: positionSideType(req.PositionSide),
		quantity:     decimal.NewFromFloat(meta.RoundQty(req.Amount)).String(),
		clientID:     id.Tagged(purposeTags[req.Purpose]),
	}
	if req.Purpose == "" {
		p.clientID = id.Tagged("x")
	}

	switch req.Type {
	case market.OrderMarket:
		p.orderType = futures.OrderTypeMarket
	case market.OrderLimit:
		p.orderType = futures.OrderTypeLimit
		p.price = decimal.NewFromFloat(meta.RoundPrice(req.Price)).String()
	case market.OrderConditional:
		p.orderType = conditionalType(req.Side, req.Direction, req.Price > 0)
		p.stopPrice = decimal.NewFromFloat(meta.RoundPrice(req.TriggerPrice)).String()
		if req.Price > 0 {
			p.price = decimal.NewFromFloat(meta.RoundPrice(req.Price)).String()
		}
	default:
		return orderParams{}, fmt.Errorf("%w: order type %q", broker.ErrInvalidRequest, req.Type)
	}
	return p, nil
}

func fromOrder(o *futures.Order) (market.Order, error) {
	side, err := market.ParseSide(string(o.Side))
	if err != nil {
		return market.Order{}, err
	}
	leg, err := market.ParsePositionSide(string(o.PositionSide))
	if err != nil {
		return market.Order{}, err
	}
	qty, err := parseFloat("origQty", o.OrigQuantity)
	if err != nil {
		return market.Order{}, err
	}
	price, _ := strconv.ParseFloat(o.Price, 64)
	stop, _ := strconv.ParseFloat(o.StopPrice, 64)

	mo := market.Order{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Symbol:       o.Symbol,
		Side:         side,
		PositionSide: leg,
		Amount:       qty,
		Price:        price,
		TriggerPrice: stop,
		ReduceOnly:   o.ReduceOnly || (leg != market.None && side == leg.CloseSide()),
		Purpose:      purposeFromClientID(o.ClientOrderID),
		Created:      time.UnixMilli(o.Time),
	}

	switch o.Type {
	case futures.OrderTypeMarket:
		mo.Type = market.OrderMarket
	case futures.OrderTypeLimit:
		mo.Type = market.OrderLimit
	case futures.OrderTypeStop, futures.OrderTypeStopMarket:
		mo.Type = market.OrderConditional
		mo.Direction = market.TriggerFalling
		if side == market.Buy {
			mo.Direction = market.TriggerRising
		}
	case futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		mo.Type = market.OrderConditional
		mo.Direction = market.TriggerRising
		if side == market.Buy {
			mo.Direction = market.TriggerFalling
		}
	default:
		mo.Type = market.OrderType(strings.ToLower(string(o.Type)))
	}
	if mo.Type == market.OrderConditional && (o.Type == futures.OrderTypeStopMarket || o.Type == futures.OrderTypeTakeProfitMarket) {
		mo.Price = 0
	}
	return mo, nil
}

func toFill(t *futures.AccountTrade) (market.Fill, error) {
	side, err := market.ParseSide(string(t.Side))
	if err != nil {
		return market.Fill{}, err
	}
	qty, err := parseFloat("qty", t.Quantity)
	if err != nil {
		return market.Fill{}, err
	}
	px, err := parseFloat("price", t.Price)
	if err != nil {
		return market.Fill{}, err
	}
	fee, _ := strconv.ParseFloat(t.Commission, 64)
	return market.Fill{
		ID:      strconv.FormatInt(t.ID, 10),
		OrderID: strconv.FormatInt(t.OrderID, 10),
		Symbol:  t.Symbol,
		Time:    time.UnixMilli(t.Time),
		Side:    side,
		Amount:  qty,
		Price:   px,
		Fee:     fee,
	}, nil
}

func toTick(symbol string, books []*futures.BookTicker, prices []*futures.SymbolPrice, now time.Time) (market.Tick, error) {
	t := market.Tick{Symbol: symbol, Time: now}
	for _, b := range books {
		if b.Symbol != symbol {
			continue
		}
		var err error
		if t.Bid, err = parseFloat("bidPrice", b.BidPrice); err != nil {
			return market.Tick{}, fmt.Errorf("%w: %v", broker.ErrTransient, err)
		}
		if t.Ask, err = parseFloat("askPrice", b.AskPrice); err != nil {
			return market.Tick{}, fmt.Errorf("%w: %v", broker.ErrTransient, err)
		}
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			t.Last, _ = strconv.ParseFloat(p.Price, 64)
		}
	}
	if t.Price() <= 0 {
		return market.Tick{}, fmt.Errorf("%w: no price for %s", broker.ErrTransient, symbol)
	}
	return t, nil
}

func toInstrument(symbol, base, quote string, filters []map[string]interface{}) market.InstrumentMeta {
	m := market.InstrumentMeta{Symbol: symbol, BaseAsset: base, QuoteAsset: quote}
	dec := func(f map[string]interface{}, key string) decimal.Decimal {
		s, _ := f[key].(string)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	for _, f := range filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			m.TickSize = dec(f, "tickSize")
		case "LOT_SIZE":
			m.StepSize = dec(f, "stepSize")
			m.MinQty = dec(f, "minQty")
		case "MIN_NOTIONAL":
			m.MinNotional = dec(f, "notional")
		}
	}
	return m
}

// Binance error codes the adapter distinguishes.
const (
	codeDisconnected     = -1001
	codeTooManyRequests  = -1003
	codeTimeout          = -1007
	codeServerBusy       = -1008
	codeUnknownOrder     = -2011
	codeNoSuchOrder      = -2013
	codeBalanceShort     = -2018
	codeMarginShort      = -2019
	codeWouldTrigger     = -2021
	codeReduceOnlyReject = -2022
	codeBadPrecision     = -1111
	codeMinNotional      = -4164
	codeParamRangeLow    = -1100
	codeParamRangeHigh   = -1130
)

// translate maps an API error onto the broker error kinds. fallback is
// used for codes with no specific meaning on this call.
func translate(err error, fallback error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", broker.ErrTransient, err)
	}
	code := int(apiErr.Code)
	switch {
	case code == codeDisconnected, code == codeTooManyRequests, code == codeTimeout, code == codeServerBusy:
		return fmt.Errorf("%w: %v", broker.ErrTransient, apiErr)
	case code == codeUnknownOrder, code == codeNoSuchOrder:
		return fmt.Errorf("%w: %v", broker.ErrOrderNotFound, apiErr)
	case code == codeBalanceShort, code == codeMarginShort:
		return fmt.Errorf("%w: %v", broker.ErrInsufficientFunds, apiErr)
	case code == codeWouldTrigger, code == codeReduceOnlyReject, code == codeMinNotional:
		return fmt.Errorf("%w: %v", broker.ErrRejected, apiErr)
	case code == codeBadPrecision, code <= codeParamRangeLow && code >= codeParamRangeHigh:
		return fmt.Errorf("%w: %v", broker.ErrInvalidRequest, apiErr)
	}
	return fmt.Errorf("%w: %v", fallback, apiErr)
}
