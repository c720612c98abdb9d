package app

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET", "HEAD":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiBlue + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return ansiMagenta + method + ansiReset
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	switch {
	case code >= 500:
		return ansiRed + s + ansiReset
	case code >= 400:
		return ansiYellow + s + ansiReset
	case code >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	case "2xx":
		return ansiGreen + class + ansiReset
	default:
		return class
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 250:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success", "ok":
		return ansiGreen + result + ansiReset
	case "client_error", "redirect":
		return ansiYellow + result + ansiReset
	case "server_error", "fail", "error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
}

// stripANSI removes SGR escape sequences so width math sees what a reader sees.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if esc := ansiSeqLen(s[i:]); esc > 0 {
			i += esc
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// ansiSeqLen returns the byte length of the SGR sequence at the start of s,
// or 0 when s does not start with one.
func ansiSeqLen(s string) int {
	if !strings.HasPrefix(s, "\x1b[") {
		return 0
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		if c == 'm' {
			return i + 1
		}
		if (c < '0' || c > '9') && c != ';' {
			return 0
		}
	}
	return 0
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// truncateVisual cuts s down to max visible runes, preserving embedded escape
// sequences and ending with an ellipsis when anything was dropped.
func truncateVisual(s string, max int) string {
	if max <= 1 {
		return "…"
	}
	if visualLen(s) <= max {
		return s
	}

	var b strings.Builder
	visible := 0
	colored := false
	for i := 0; i < len(s) && visible < max-1; {
		if esc := ansiSeqLen(s[i:]); esc > 0 {
			b.WriteString(s[i : i+esc])
			i += esc
			colored = true
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
		visible++
	}
	b.WriteString("…")
	if colored {
		b.WriteString(ansiReset)
	}
	return b.String()
}

// wrapSegments joins segments with sep, starting a continuation line
// (prefixed with contPrefix) whenever the next segment would push the visible
// width past max. Lines that still overflow are truncated with an ellipsis.
func wrapSegments(segments []string, sep string, max int, contPrefix string) []string {
	if max <= 0 {
		max = prettyDefaultWidth
	}

	var lines []string
	line := ""
	width := 0
	sepWidth := visualLen(sep)
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		segWidth := visualLen(seg)
		switch {
		case line == "":
			line = seg
			width = segWidth
		case width+sepWidth+segWidth > max:
			lines = append(lines, truncateVisual(line, max))
			line = contPrefix + seg
			width = visualLen(contPrefix) + segWidth
		default:
			line += sep + seg
			width += sepWidth + segWidth
		}
	}
	if line != "" {
		lines = append(lines, truncateVisual(line, max))
	}
	return lines
}
