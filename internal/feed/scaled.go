package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"main/internal/schema"
)

func nowNano() int64 {
	return time.Now().UTC().UnixNano()
}

// parseScaled converts a decimal string into a scaled integer with the given
// number of fractional digits. Extra precision is truncated.
func parseScaled(s string, scale schema.Scale) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	n := int(scale)
	if len(fracPart) > n {
		fracPart = fracPart[:n]
	}
	for len(fracPart) < n {
		fracPart += "0"
	}
	v, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if neg {
		v = -v
	}
	return v, nil
}
