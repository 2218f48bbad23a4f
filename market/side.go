package market

import "fmt"

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other order side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts the spellings exchanges use ("buy", "BUY", "Buy").
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "Buy":
		return Buy, nil
	case "sell", "SELL", "Sell":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// PositionSide is the leg a position or order belongs to in hedge mode.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
	None  PositionSide = "none"
)

// Opposite returns the other leg. None stays None.
func (p PositionSide) Opposite() PositionSide {
	switch p {
	case Long:
		return Short
	case Short:
		return Long
	}
	return None
}

// OpenSide is the order side that grows this leg.
func (p PositionSide) OpenSide() Side {
	if p == Short {
		return Sell
	}
	return Buy
}

// CloseSide is the order side that reduces this leg.
func (p PositionSide) CloseSide() Side {
	return p.OpenSide().Opposite()
}

// Sign is +1 for long, -1 for short and 0 for none.
func (p PositionSide) Sign() float64 {
	switch p {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

func (p PositionSide) Valid() bool {
	return p == Long || p == Short
}

// ParsePositionSide accepts "long"/"LONG"/"Long" and the short variants.
func ParsePositionSide(s string) (PositionSide, error) {
	switch s {
	case "long", "LONG", "Long":
		return Long, nil
	case "short", "SHORT", "Short":
		return Short, nil
	case "", "none", "NONE", "BOTH":
		return None, nil
	}
	return None, fmt.Errorf("unknown position side %q", s)
}
