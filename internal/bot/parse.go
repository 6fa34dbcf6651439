package bot

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidInterval is returned when an interval string has no positive
// hour or minute tokens.
var ErrInvalidInterval = errors.New("invalid interval")

var intervalToken = regexp.MustCompile(`(\d+)([hm])`)

// ParseInterval parses strings such as "2h 30m", "40m" or "1h" into seconds.
// Tokens may appear in any order; anything else is ignored. Totals too large
// for an int saturate at math.MaxInt.
func ParseInterval(s string) (int, error) {
	total := 0
	for _, m := range intervalToken.FindAllStringSubmatch(strings.ToLower(s), -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = math.MaxInt
		}
		unit := 60
		if m[2] == "h" {
			unit = 3600
		}
		if n > (math.MaxInt-total)/unit {
			total = math.MaxInt
			continue
		}
		total += n * unit
	}
	if total <= 0 {
		return 0, ErrInvalidInterval
	}
	return total, nil
}

// ParseCommand splits "/cmd@bot rest of text" into "cmd" and "rest of text".
// ok is false when text is not a command.
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = text[1:]
	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		end = len(text)
	}
	cmd, args = text[:end], strings.TrimSpace(text[end:])
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), args, cmd != ""
}

// IsChannelRef reports whether text looks like a channel to bind:
// an @username or a -100 prefixed chat id.
func IsChannelRef(text string) bool {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "@") {
		return len(text) > 1 && !strings.ContainsFunc(text, unicode.IsSpace)
	}
	if strings.HasPrefix(text, "-100") {
		_, err := strconv.ParseInt(text, 10, 64)
		return err == nil
	}
	return false
}

// ParseUsername returns the first argument without a leading "@".
func ParseUsername(args string) (string, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", false
	}
	name := strings.TrimPrefix(fields[0], "@")
	return name, name != ""
}
