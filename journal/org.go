package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatCycleOrg renders a cycle and its events as an Org-mode block. The
// structured facts go in a PROPERTIES drawer; events become a timeline list
// under Execution, and Review is left for the reader to fill in.
func FormatCycleOrg(c CycleRecord, events []EventRecord) string {
	heading := fmt.Sprintf("** Cycle: %s %s (%s)", c.Symbol, strings.ToUpper(string(c.Direction)), shortID(c.CycleID))
	open := c.OpenTime.UTC().Format(time.RFC3339)
	closed := "open"
	if c.Closed() {
		closed = c.CloseTime.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", c.CycleID))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", c.Symbol))
	b.WriteString(fmt.Sprintf(":DIRECTION: %s\n", c.Direction))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.5f\n", c.EntryPrice))
	b.WriteString(fmt.Sprintf(":INITIAL_SIZE: %.2f\n", c.InitialSize))
	b.WriteString(fmt.Sprintf(":FLIPS: %d\n", c.Flips))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", open))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", closed))
	b.WriteString(fmt.Sprintf(":REALIZED_PNL: %.2f\n", c.RealizedPnL))
	b.WriteString(fmt.Sprintf(":FEES: %.2f\n", c.Fees))
	b.WriteString(fmt.Sprintf(":CLOSE_REASON: %s\n", c.CloseReason))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Execution\n")
	if len(events) == 0 {
		b.WriteString("- \n")
	}
	for _, e := range events {
		b.WriteString(formatEventOrg(e))
	}
	b.WriteString("\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

func formatEventOrg(e EventRecord) string {
	line := fmt.Sprintf("- [%s] %s", e.Time.UTC().Format("2006-01-02 15:04:05"), e.Kind)
	if e.Side != "" {
		line += " " + string(e.Side)
	}
	if e.SizeUSD > 0 {
		line += fmt.Sprintf(" $%.2f", e.SizeUSD)
	}
	if e.Price > 0 {
		line += fmt.Sprintf(" @ %.5f", e.Price)
	}
	line += fmt.Sprintf(" flip=%d", e.FlipCount)
	if e.Detail != "" {
		line += " :: " + e.Detail
	}
	return line + "\n"
}

// FormatCyclesOrg renders multiple cycles separated by blank lines, without
// their events.
func FormatCyclesOrg(cycles []CycleRecord) string {
	var b strings.Builder
	for i, c := range cycles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatCycleOrg(c, nil))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
