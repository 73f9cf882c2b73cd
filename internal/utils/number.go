package utils

import (
	"math"
	"regexp"
	"strconv"

	"askgpt-backend/pkg/logger"
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// ParseNumber parses a non-negative decimal integer. Anything else yields NaN.
func ParseNumber(s string) float64 {
	if !digitsOnly.MatchString(s) {
		logger.Debugf("输入的 %q 不是有效的数字", s)
		return math.NaN()
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return n
}
