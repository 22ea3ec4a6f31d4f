package fixcodec

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTicks truncates a wire decimal price (e.g. "150.50") to an integer
// tick count by discarding the fractional part entirely — one tick is one
// whole unit, matching the original FIXEngine's static_cast<int>(price). It
// is the wire-to-core boundary conversion called out in the spec: the core
// never sees decimals.
func ParseTicks(decimal string) (int64, error) {
	neg := false
	s := decimal
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, _, _ := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fixcodec: bad price %q: %w", decimal, err)
	}
	if neg {
		w = -w
	}
	return w, nil
}

// FormatTicks is the inverse of ParseTicks, used when building AvgPx/Price
// fields for outbound execution reports. One tick formats as one whole unit
// with ".00" fractional digits, since the core never carries a fractional
// component past the wire boundary.
func FormatTicks(ticks int64) string {
	return fmt.Sprintf("%d.00", ticks)
}
