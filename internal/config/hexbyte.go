package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HexByte is a byte that decodes from either a JSON number or a string in
// any base strconv accepts ("0x30", "48"). IR code tables are usually
// copied out of hex dumps, so the string form is the common one.
type HexByte uint8

func (b *HexByte) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
		if err != nil {
			return fmt.Errorf("invalid byte value %q: %w", s, err)
		}
		*b = HexByte(v)
		return nil
	}

	var v uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid byte value %s: %w", string(data), err)
	}
	*b = HexByte(v)
	return nil
}

func (b HexByte) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%02X", uint8(b)))
}
