// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package access

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned for symbols that are not on the keypad.
var ErrUnknownKey = errors.New("access: unknown key")

// Key is one keypad symbol: '0'-'9', 'A'-'D', '*' or '#'.
type Key byte

// KeypadLayout is the 4x4 matrix as printed on the keypad, row by row.
var KeypadLayout = [4][4]Key{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

// IsDigit reports whether k is one of '0'-'9'.
func (k Key) IsDigit() bool {
	return k >= '0' && k <= '9'
}

func (k Key) String() string {
	return string(rune(k))
}

// ParseKey converts a character to a Key. Letters are accepted in either case.
func ParseKey(r rune) (Key, error) {
	switch {
	case r >= '0' && r <= '9', r >= 'A' && r <= 'D', r == '*', r == '#':
		return Key(r), nil
	case r >= 'a' && r <= 'd':
		return Key(r - 'a' + 'A'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, r)
}

// Keymap assigns the non-digit keys to controller commands.
type Keymap struct {
	Confirm    Key
	Cancel     Key
	Menu       Key
	ChangeCode Key
	Lock       Key
}

// DefaultKeymap is the layout used by the stock firmware.
var DefaultKeymap = Keymap{
	Confirm:    '#',
	Cancel:     'D',
	Menu:       '*',
	ChangeCode: 'A',
	Lock:       'B',
}

// Validate checks that every command has a distinct non-digit key.
func (m Keymap) Validate() error {
	seen := make(map[Key]string, 5)
	for _, c := range []struct {
		name string
		key  Key
	}{
		{"confirm", m.Confirm},
		{"cancel", m.Cancel},
		{"menu", m.Menu},
		{"change-code", m.ChangeCode},
		{"lock", m.Lock},
	} {
		if _, err := ParseKey(rune(c.key)); err != nil {
			return fmt.Errorf("keymap %s: %w", c.name, err)
		}
		if c.key.IsDigit() {
			return fmt.Errorf("keymap %s: digit %s cannot be a command key", c.name, c.key)
		}
		if other, ok := seen[c.key]; ok {
			return fmt.Errorf("keymap %s: key %s already used by %s", c.name, c.key, other)
		}
		seen[c.key] = c.name
	}
	return nil
}
