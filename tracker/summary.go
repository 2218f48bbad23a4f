package tracker

import (
	"fmt"
	"strings"
	"time"
)

// Summary renders a state for humans.
func Summary(symbol string, st State, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", symbol)
	if !st.InPosition {
		fmt.Fprintf(&b, "  position:      flat\n")
	} else {
		fmt.Fprintf(&b, "  position:      %s %.6f @ %.6f\n", st.Side, st.NetQuantity, st.AverageEntry)
		fmt.Fprintf(&b, "  notional:      %.2f\n", st.Notional())
	}
	fmt.Fprintf(&b, "  flip depth:    %d\n", st.FlipDepth)
	fmt.Fprintf(&b, "  realized pnl:  %.4f (leg) %.4f (cycle)\n", st.RealizedPnL, st.CycleRealizedPnL)
	fmt.Fprintf(&b, "  fees:          %.4f\n", st.CycleFees)
	fmt.Fprintf(&b, "  fills:         %d (cycle starts at %d)\n", st.TotalFills, st.CycleStartIndex)
	if st.CycleComplete {
		fmt.Fprintf(&b, "  last cycle:    complete\n")
	}
	if !st.LastFill.IsZero() {
		fmt.Fprintf(&b, "  last fill:     %s (%s ago)\n",
			st.LastFill.UTC().Format(time.RFC3339), now.Sub(st.LastFill).Round(time.Second))
	}
	return b.String()
}
