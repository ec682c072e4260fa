// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"encoding/hex"
	"fmt"
)

// HexFlag holds bytes given in hex and implements the flags.Marshaler and
// flags.Unmarshaler interfaces so it can be used as a config struct field.
type HexFlag []byte

// MarshalFlag satisfies the flags.Marshaler interface.
func (h HexFlag) MarshalFlag() (string, error) {
	return hex.EncodeToString(h), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (h *HexFlag) UnmarshalFlag(value string) error {
	b, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("invalid hex value: %w", err)
	}
	*h = b
	return nil
}
