package risk

import (
	"fmt"
)

type Action string

const (
	ActionFlip Action = "flip"
	ActionStop Action = "stop"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision says what protects the adverse side of the current leg.
type Decision struct {
	Action     Action
	SizeUSD    float64
	MarginUSD  float64
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Action = ActionStop
	d.SizeUSD = 0
}

func (d Decision) Flip() bool {
	return d.Action == ActionFlip
}

func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// Decide chooses between flipping into a larger opposite leg and a
// reduce-only stop. balanceOK is asked about the margin the flip would
// need; its error is returned as is so a failed balance lookup is never
// read as a stop.
func (e *Engine) Decide(flipCount int, currentSizeUSD float64, balanceOK func(float64) (bool, error)) (Decision, error) {
	d := Decision{Action: ActionFlip}

	next := e.NextPositionSize(flipCount, currentSizeUSD)
	if next <= 0 {
		d.add("MAX_FLIPS", fmt.Sprintf("flip %d reached max %d", flipCount, e.cfg.MaxFlips))
		return d, nil
	}
	d.SizeUSD = next
	d.MarginUSD = e.Margin(next)

	if balanceOK == nil {
		return d, nil
	}
	ok, err := balanceOK(d.MarginUSD)
	if err != nil {
		return Decision{}, fmt.Errorf("balance check: %w", err)
	}
	if !ok {
		d.add("INSUFFICIENT_BALANCE",
			fmt.Sprintf("margin %.2f for flip size %.2f not available", d.MarginUSD, next))
	}
	return d, nil
}

// Stop builds a stop decision with a single violation, for callers that
// must stop out without consulting the sizing rules.
func Stop(code, msg string) Decision {
	d := Decision{}
	d.add(code, msg)
	return d
}
