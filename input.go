package loom

import (
	"strings"
	"unicode/utf8"
)

// Event is anything a backend can hand to the tick loop: key presses and
// terminal resizes.
type Event interface {
	isEvent()
}

// KeyEvent is one decoded key press.
type KeyEvent struct {
	Key  Key
	Rune rune // set when Key == KeyRune
	Mods Mod
}

func (KeyEvent) isEvent() {}

// ResizeEvent reports new terminal dimensions.
type ResizeEvent struct {
	Width, Height int
}

func (ResizeEvent) isEvent() {}

// Key identifies a key that is not a printable rune.
type Key uint8

const (
	KeyRune Key = iota
	KeyEnter
	KeyTab
	KeyBackspace
	KeyEsc
	KeyUp
	KeyDown
	KeyRight
	KeyLeft
	KeyHome
	KeyEnd
	KeyPgUp
	KeyPgDn
	KeyInsert
	KeyDelete
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
)

var keyNames = map[Key]string{
	KeyEnter:     "enter",
	KeyTab:       "tab",
	KeyBackspace: "backspace",
	KeyEsc:       "esc",
	KeyUp:        "up",
	KeyDown:      "down",
	KeyRight:     "right",
	KeyLeft:      "left",
	KeyHome:      "home",
	KeyEnd:       "end",
	KeyPgUp:      "pgup",
	KeyPgDn:      "pgdn",
	KeyInsert:    "insert",
	KeyDelete:    "delete",
	KeyF1:        "f1",
	KeyF2:        "f2",
	KeyF3:        "f3",
	KeyF4:        "f4",
	KeyF5:        "f5",
	KeyF6:        "f6",
	KeyF7:        "f7",
	KeyF8:        "f8",
	KeyF9:        "f9",
	KeyF10:       "f10",
	KeyF11:       "f11",
	KeyF12:       "f12",
}

// Mod is a modifier bitmask.
type Mod uint8

const (
	ModCtrl Mod = 1 << iota
	ModAlt
	ModShift
)

// String renders the event in binding notation: "q", "ctrl+c", "alt+enter".
func (e KeyEvent) String() string {
	var b strings.Builder
	if e.Mods&ModCtrl != 0 {
		b.WriteString("ctrl+")
	}
	if e.Mods&ModAlt != 0 {
		b.WriteString("alt+")
	}
	if e.Mods&ModShift != 0 {
		b.WriteString("shift+")
	}
	if e.Key == KeyRune {
		if e.Rune == ' ' {
			b.WriteString("space")
		} else {
			b.WriteRune(e.Rune)
		}
	} else {
		b.WriteString(keyNames[e.Key])
	}
	return b.String()
}

// decodeKeys turns raw terminal input into key events. It consumes as much
// of data as it can and returns the unconsumed tail, which the caller
// prepends to the next read: escape sequences can straddle read boundaries.
func decodeKeys(data []byte) ([]KeyEvent, []byte) {
	var events []KeyEvent
	for len(data) > 0 {
		ev, n := decodeOne(data)
		if n == 0 {
			break // partial sequence, wait for more bytes
		}
		data = data[n:]
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, data
}

// decodeOne decodes the first event in data. It returns n == 0 when data
// starts an incomplete escape sequence, and a nil event for sequences we
// recognise but do not surface (such as bracketed paste markers).
func decodeOne(data []byte) (*KeyEvent, int) {
	c := data[0]
	switch {
	case c == 0x1b:
		return decodeEscape(data)
	case c == '\r' || c == '\n':
		return &KeyEvent{Key: KeyEnter}, 1
	case c == '\t':
		return &KeyEvent{Key: KeyTab}, 1
	case c == 0x7f || c == 0x08:
		return &KeyEvent{Key: KeyBackspace}, 1
	case c == 0x00:
		return &KeyEvent{Key: KeyRune, Rune: ' ', Mods: ModCtrl}, 1
	case c < 0x20:
		// Ctrl+letter arrives as the letter minus 0x60.
		return &KeyEvent{Key: KeyRune, Rune: rune(c + 0x60), Mods: ModCtrl}, 1
	}
	r, size := utf8.DecodeRune(data)
	if r == utf8.RuneError && size == 1 && !utf8.FullRune(data) {
		return nil, 0 // rune split across reads
	}
	return &KeyEvent{Key: KeyRune, Rune: r}, size
}

func decodeEscape(data []byte) (*KeyEvent, int) {
	if len(data) == 1 {
		// A lone ESC is reported as the key itself. Terminals deliver
		// escape sequences in a single read, so the ambiguity is rare.
		return &KeyEvent{Key: KeyEsc}, 1
	}
	switch data[1] {
	case '[':
		return decodeCSI(data)
	case 'O':
		if len(data) < 3 {
			return nil, 0
		}
		if k, ok := ss3Keys[data[2]]; ok {
			return &KeyEvent{Key: k}, 3
		}
		return &KeyEvent{Key: KeyEsc}, 1
	case 0x1b:
		return &KeyEvent{Key: KeyEsc}, 1
	}
	// ESC prefix = alt modifier on whatever follows.
	ev, n := decodeOne(data[1:])
	if n == 0 {
		return nil, 0
	}
	if ev != nil {
		ev.Mods |= ModAlt
	}
	return ev, n + 1
}

var csiKeys = map[byte]Key{
	'A': KeyUp,
	'B': KeyDown,
	'C': KeyRight,
	'D': KeyLeft,
	'H': KeyHome,
	'F': KeyEnd,
	'Z': KeyTab, // shift+tab
}

var ss3Keys = map[byte]Key{
	'A': KeyUp,
	'B': KeyDown,
	'C': KeyRight,
	'D': KeyLeft,
	'H': KeyHome,
	'F': KeyEnd,
	'P': KeyF1,
	'Q': KeyF2,
	'R': KeyF3,
	'S': KeyF4,
}

var tildeKeys = map[int]Key{
	1:  KeyHome,
	2:  KeyInsert,
	3:  KeyDelete,
	4:  KeyEnd,
	5:  KeyPgUp,
	6:  KeyPgDn,
	11: KeyF1,
	12: KeyF2,
	13: KeyF3,
	14: KeyF4,
	15: KeyF5,
	17: KeyF6,
	18: KeyF7,
	19: KeyF8,
	20: KeyF9,
	21: KeyF10,
	23: KeyF11,
	24: KeyF12,
}

// decodeCSI parses ESC [ params final. Parameters are semicolon-separated
// integers; the second carries xterm modifiers as (bitmask + 1) with
// 1=shift, 2=alt, 4=ctrl.
func decodeCSI(data []byte) (*KeyEvent, int) {
	i := 2
	for ; i < len(data); i++ {
		if data[i] >= 0x40 && data[i] <= 0x7e {
			break
		}
	}
	if i == len(data) {
		return nil, 0 // incomplete
	}
	final := data[i]
	params := parseCSIParams(data[2:i])
	n := i + 1

	mods := Mod(0)
	if len(params) >= 2 && params[1] > 0 {
		m := params[1] - 1
		if m&1 != 0 {
			mods |= ModShift
		}
		if m&2 != 0 {
			mods |= ModAlt
		}
		if m&4 != 0 {
			mods |= ModCtrl
		}
	}

	switch final {
	case '~':
		if len(params) == 0 {
			return nil, n
		}
		if k, ok := tildeKeys[params[0]]; ok {
			return &KeyEvent{Key: k, Mods: mods}, n
		}
		// 200~ and 201~ bracket a paste; pass the content through as runes.
		return nil, n
	default:
		if k, ok := csiKeys[final]; ok {
			if final == 'Z' {
				mods |= ModShift
			}
			return &KeyEvent{Key: k, Mods: mods}, n
		}
	}
	return nil, n // recognised CSI we do not map; swallow it
}

func parseCSIParams(b []byte) []int {
	if len(b) == 0 {
		return nil
	}
	var params []int
	cur, has := 0, false
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
			cur = cur*10 + int(c-'0')
			has = true
		case c == ';':
			params = append(params, cur)
			cur, has = 0, false
		}
	}
	if has {
		params = append(params, cur)
	}
	return params
}
