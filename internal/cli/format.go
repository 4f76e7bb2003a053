// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNumber adds thin separators to an integer.
// e.g., 1234567 -> "1 234 567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(' ')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatTalk formats an average talk duration as m:ss.
func FormatTalk(secs int64) string {
	if secs <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// FormatDuration formats seconds on the line as h:mm.
// e.g., 3725 -> "1:02", 59 -> "0:00"
func FormatDuration(secs int64) string {
	if secs <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", secs/3600, (secs%3600)/60)
}

// FormatPercent formats a value that is already a percentage.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// FormatMoney formats whole currency units.
func FormatMoney(n int64) string {
	return FormatNumber(n) + " ₽"
}
