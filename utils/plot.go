package utils

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ASCIIPlot draws a crude vertical bar chart of values, scaled so the
// largest value fills the chart. Values <= 0 draw no bar.
func ASCIIPlot(values []float64, height int) string {
	if len(values) == 0 {
		return "no data to plot\n"
	}
	if height <= 0 {
		height = 10
	}
	top := floats.Max(values)
	if top <= 0 || !IsFinite(top) {
		top = 1
	}

	var b strings.Builder
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		for _, v := range values {
			if v/top >= threshold {
				b.WriteString("█")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("─", len(values)))
	b.WriteByte('\n')
	// tick every 5 points
	for i := range values {
		if i%5 == 0 {
			b.WriteString(strconv.Itoa(i % 10))
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte('\n')
	return b.String()
}
