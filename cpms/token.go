package cpms

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// OrderingToken is the opaque change token CPMS issues per mutation. It is
// used both as the optimistic-concurrency check on updates and to correlate
// local ledger rows with CPMS change-log entries. CPMS renders the same
// token with inconsistent hex casing, so tokens are held as raw bytes and
// compared byte-exactly, never as display strings.
type OrderingToken []byte

// ParseOrderingToken decodes the wire representation (hex, optionally
// "0x"-prefixed, any casing) into token bytes.
func ParseOrderingToken(s string) (OrderingToken, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if trimmed == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.ToLower(trimmed))
	if err != nil {
		return nil, fmt.Errorf("invalid ordering token %q: %w", s, err)
	}
	return OrderingToken(raw), nil
}

func (t OrderingToken) Equal(other OrderingToken) bool {
	return bytes.Equal(t, other)
}

func (t OrderingToken) IsZero() bool {
	return len(t) == 0
}

func (t OrderingToken) String() string {
	if len(t) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(t)
}

func (t OrderingToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *OrderingToken) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrderingToken(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
