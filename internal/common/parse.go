package common

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUint64orHex parses a decimal number or a 0x-prefixed hex quantity,
// as block numbers appear in configuration and provider messages.
func ParseUint64orHex(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	digits, base := s, 10
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		digits, base = s[2:], 16
	}

	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return n, nil
}

const bytesInMB = 1024 * 1024

func MBToBytes(mb uint64) uint64 {
	return mb * bytesInMB
}

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

// ToLowerWithTrim normalizes level and component names.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
