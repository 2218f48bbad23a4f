package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rustyeddy/flipper/broker"
	"github.com/rustyeddy/flipper/market"
)

const tradePageLimit = 1000

// tradePager fetches one page of account trades. fromID of 0 means start
// from since instead.
type tradePager func(ctx context.Context, symbol string, since time.Time, fromID int64) ([]*futures.AccountTrade, error)

func (c *Client) tradePage(ctx context.Context, symbol string, since time.Time, fromID int64) ([]*futures.AccountTrade, error) {
	svc := c.api.NewListAccountTradeService().Symbol(symbol).Limit(tradePageLimit)
	if fromID > 0 {
		svc = svc.FromID(fromID)
	} else {
		svc = svc.StartTime(since.UnixMilli())
	}
	return svc.Do(ctx)
}

// FetchAllFills pages forward from since by trade id until a short page.
func (c *Client) FetchAllFills(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error) {
	return collectFills(ctx, c.tradePage, symbol, since)
}

func collectFills(ctx context.Context, page tradePager, symbol string, since time.Time) ([]market.Fill, error) {
	var out []market.Fill
	var fromID int64
	for {
		trades, err := page(ctx, symbol, since, fromID)
		if err != nil {
			return nil, fmt.Errorf("account trades %s: %w", symbol, translate(err, broker.ErrTransient))
		}
		for _, t := range trades {
			f, err := toFill(t)
			if err != nil {
				return nil, fmt.Errorf("account trades %s: %w: %v", symbol, broker.ErrAmbiguousState, err)
			}
			if f.Symbol == symbol && !f.Time.Before(since) {
				out = append(out, f)
			}
			if t.ID >= fromID {
				fromID = t.ID + 1
			}
		}
		if len(trades) < tradePageLimit {
			break
		}
	}
	return market.DedupFills(market.SortFills(out)), nil
}
