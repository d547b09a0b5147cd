package transcribe

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var timeRE = regexp.MustCompile(`^(\d+):(\d{1,2}):(\d{1,2})(,(\d{1,3}))?$`)

func secondsToMs(sec float64) int64 {
	if sec <= 0 {
		return 0
	}
	return int64(math.Round(sec * 1000))
}

func splitMs(ts int64) (h, m, s, ms int64) {
	sMs := int64(1000)
	mMs := 60 * sMs
	hMs := 60 * mMs

	h = ts / hMs
	m = (ts - (h * hMs)) / mMs
	s = ((ts - (h * hMs)) - m*mMs) / sMs
	ms = ((ts - (h * hMs)) - m*mMs) - s*sMs

	return h, m, s, ms
}

// vttTS converts ts seconds in the 00:00:00.000 format.
func vttTS(sec float64, withMs bool) string {
	ts := secondsToMs(sec)

	if withMs {
		h, m, s, ms := splitMs(ts)
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
	}

	// Rounding to the closest second can carry over into minutes and hours.
	h, m, s, _ := splitMs(int64(math.Round(float64(ts)/1000)) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatSRTTime converts seconds into the HH:MM:SS,mmm subtitle format.
// Non-positive values map to 00:00:00,000.
func FormatSRTTime(sec float64) string {
	h, m, s, ms := splitMs(secondsToMs(sec))
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ParseTime parses a timestamp in the H:MM:SS[,mmm] format (a dot is
// accepted in place of the comma) into seconds. Fractional digits are read
// as the leading digits of the milliseconds, so "0:00:01,5" is 1.5 seconds.
// An empty string parses as zero.
func ParseTime(str string) (float64, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, nil
	}

	matches := timeRE.FindStringSubmatch(strings.ReplaceAll(str, ".", ","))
	if matches == nil {
		return 0, fmt.Errorf("invalid time format: %q", str)
	}

	var parts [3]int64
	for i := range parts {
		v, err := strconv.ParseInt(matches[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time format: %q: %w", str, err)
		}
		parts[i] = v
	}

	var ms int64
	if matches[5] != "" {
		v, err := strconv.ParseInt(matches[5]+strings.Repeat("0", 3-len(matches[5])), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time format: %q: %w", str, err)
		}
		ms = v
	}

	return float64(parts[0]*3600+parts[1]*60+parts[2]) + float64(ms)/1000, nil
}
