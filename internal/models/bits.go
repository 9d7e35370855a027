package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// GetBit returns bit i of payload, counting from the LSB of byte 0.
// Indices outside the buffer read as false.
func GetBit(payload []byte, i int) bool {
	if i < 0 || i >= len(payload)*8 {
		return false
	}
	return payload[i/8]>>(uint(i)%8)&1 == 1
}

// SetBit writes bit i of payload. Indices outside the buffer are ignored.
func SetBit(payload []byte, i int, v bool) {
	if i < 0 || i >= len(payload)*8 {
		return
	}
	mask := byte(1) << (uint(i) % 8)
	if v {
		payload[i/8] |= mask
	} else {
		payload[i/8] &^= mask
	}
}

// HexString encodes bytes as upper-case hex without separators
func HexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex decodes s into dst. Input shorter than dst leaves the remaining
// bytes zero; input longer than dst is truncated. It returns the number of
// decoded bytes.
func ParseHex(s string, dst []byte) (int, error) {
	s = strings.TrimSpace(s)
	if len(s)%2 != 0 {
		return 0, fmt.Errorf("odd hex length %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid hex: %w", err)
	}
	for i := range dst {
		dst[i] = 0
	}
	return copy(dst, raw), nil
}
