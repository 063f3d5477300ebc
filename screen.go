package loom

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"
)

// Screen is the terminal backend: raw mode with the alternate buffer,
// double-buffered diff flushes, and decoded input events. It implements
// Backend.
type Screen struct {
	front  *Buffer // what the terminal currently shows
	writer io.Writer
	input  *os.File
	fd     int

	width  int
	height int

	origTermios *unix.Termios
	inRawMode   bool

	events  chan Event
	sigChan chan os.Signal
	done    chan struct{}

	lastStyle Style
	buf       bytes.Buffer // reusable output assembly

	mu sync.Mutex
}

// NewScreen creates a screen writing to w, or os.Stdout when w is nil.
// Input is read from os.Stdin.
func NewScreen(w io.Writer) (*Screen, error) {
	if w == nil {
		w = os.Stdout
	}
	fd := int(os.Stdout.Fd())
	width, height, err := terminalSize(fd)
	if err != nil {
		width, height = 80, 24
	}
	return &Screen{
		front:     NewBuffer(width, height),
		writer:    w,
		input:     os.Stdin,
		fd:        fd,
		width:     width,
		height:    height,
		events:    make(chan Event, 16),
		sigChan:   make(chan os.Signal, 1),
		done:      make(chan struct{}),
		lastStyle: DefaultStyle(),
	}, nil
}

func terminalSize(fd int) (int, int, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Col), int(ws.Row), nil
}

// Size returns the current terminal dimensions.
func (s *Screen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Events returns the multiplexed input stream: key presses and resizes.
func (s *Screen) Events() <-chan Event {
	return s.events
}

// Start puts the terminal into raw mode, switches to the alternate screen
// and begins reading input.
func (s *Screen) Start() error {
	if s.inRawMode {
		return nil
	}

	termios, err := unix.IoctlGetTermios(s.fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	s.origTermios = termios

	raw := *termios
	// Input flags: disable break, CR to NL, parity, strip, flow control
	raw.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	// Output flags: disable post processing
	raw.Oflag &^= unix.OPOST
	// Control flags: set 8 bit chars
	raw.Cflag |= unix.CS8
	// Local flags: disable echo, canonical mode, signals, extended input
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(s.fd, ioctlSetTermios, &raw); err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	s.inRawMode = true

	signal.Notify(s.sigChan, syscall.SIGWINCH)
	go s.handleSignals()
	go s.readInput()

	s.writeString("\x1b[?1049h") // Enter alternate screen
	s.writeString("\x1b[2J")     // Clear so the front buffer matches
	s.writeString("\x1b[H")
	s.writeString("\x1b[?25l") // Hide cursor
	return nil
}

// Stop restores the terminal. The input goroutine stays blocked on its
// final read until the process exits or stdin closes.
func (s *Screen) Stop() error {
	if !s.inRawMode {
		return nil
	}
	close(s.done)
	signal.Stop(s.sigChan)

	s.writeString("\x1b[?25h")   // Show cursor
	s.writeString("\x1b[?1049l") // Exit alternate screen

	if s.origTermios != nil {
		if err := unix.IoctlSetTermios(s.fd, ioctlSetTermios, s.origTermios); err != nil {
			return fmt.Errorf("restore termios: %w", err)
		}
	}
	s.inRawMode = false
	return nil
}

func (s *Screen) writeString(str string) {
	io.WriteString(s.writer, str)
}

// handleSignals resizes the front buffer on SIGWINCH and forwards the new
// size to the event stream.
func (s *Screen) handleSignals() {
	for {
		select {
		case <-s.done:
			return
		case <-s.sigChan:
		}
		width, height, err := terminalSize(s.fd)
		if err != nil {
			continue
		}
		s.mu.Lock()
		changed := width != s.width || height != s.height
		if changed {
			s.width = width
			s.height = height
			s.front.Resize(width, height)
			s.front.Clear()
			s.writeString("\x1b[2J")
		}
		s.mu.Unlock()
		if changed {
			select {
			case s.events <- ResizeEvent{Width: width, Height: height}:
			case <-s.done:
				return
			}
		}
	}
}

// readInput decodes stdin into key events. Escape sequences that straddle
// reads are carried over to the next one.
func (s *Screen) readInput() {
	var pending []byte
	chunk := make([]byte, 256)
	for {
		n, err := s.input.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			var evs []KeyEvent
			evs, pending = decodeKeys(pending)
			for _, ev := range evs {
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

// Flush writes frame to the terminal, emitting only cells that differ from
// the previous flush. Cursor moves and style changes are elided for
// consecutive runs.
func (s *Screen) Flush(frame *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fw, fh := frame.Size()
	if w, h := s.front.Size(); w != fw || h != fh {
		s.front.Resize(fw, fh)
		s.front.Clear()
		s.buf.Reset()
		s.buf.WriteString("\x1b[2J")
		s.writer.Write(s.buf.Bytes())
	}

	s.buf.Reset()
	cursorX, cursorY := -1, -1
	changed := false

	for y := 0; y < fh; y++ {
		for x := 0; x < fw; x++ {
			cell := frame.Get(x, y)
			if cell == s.front.Get(x, y) {
				continue
			}
			// Continuation cells of wide runes are never written directly.
			if cell.Rune == 0 {
				s.front.Set(x, y, cell)
				continue
			}
			changed = true
			if cursorX != x || cursorY != y {
				s.buf.WriteString("\x1b[")
				writeInt(&s.buf, y+1)
				s.buf.WriteByte(';')
				writeInt(&s.buf, x+1)
				s.buf.WriteByte('H')
			}
			s.writeCell(cell)
			s.front.Set(x, y, cell)
			rw := runewidth.RuneWidth(cell.Rune)
			if rw == 0 {
				rw = 1
			}
			cursorX, cursorY = x+rw, y
		}
	}

	if changed {
		s.buf.WriteString("\x1b[0m")
		s.lastStyle = DefaultStyle()
	}
	if s.buf.Len() == 0 {
		return nil
	}
	_, err := s.writer.Write(s.buf.Bytes())
	return err
}

// writeInt writes a decimal without allocating.
func writeInt(buf *bytes.Buffer, n int) {
	if n == 0 {
		buf.WriteByte('0')
		return
	}
	var scratch [10]byte
	i := len(scratch)
	for n > 0 {
		i--
		scratch[i] = byte('0' + n%10)
		n /= 10
	}
	buf.Write(scratch[i:])
}

func (s *Screen) writeCell(cell Cell) {
	if !cell.Style.Equal(s.lastStyle) {
		s.writeStyle(cell.Style)
		s.lastStyle = cell.Style
	}
	s.buf.WriteRune(cell.Rune)
}

func (s *Screen) writeStyle(style Style) {
	s.buf.WriteString("\x1b[0")
	if style.Attr.Has(AttrBold) {
		s.buf.WriteString(";1")
	}
	if style.Attr.Has(AttrDim) {
		s.buf.WriteString(";2")
	}
	if style.Attr.Has(AttrItalic) {
		s.buf.WriteString(";3")
	}
	if style.Attr.Has(AttrUnderline) {
		s.buf.WriteString(";4")
	}
	if style.Attr.Has(AttrBlink) {
		s.buf.WriteString(";5")
	}
	if style.Attr.Has(AttrInverse) {
		s.buf.WriteString(";7")
	}
	if style.Attr.Has(AttrStrikethrough) {
		s.buf.WriteString(";9")
	}
	s.writeColor(style.FG, true)
	s.writeColor(style.BG, false)
	s.buf.WriteByte('m')
}

func (s *Screen) writeColor(c Color, fg bool) {
	switch c.Mode {
	case ColorDefault:
		if fg {
			s.buf.WriteString(";39")
		} else {
			s.buf.WriteString(";49")
		}
	case Color16:
		base := 40
		if fg {
			base = 30
		}
		idx := int(c.Index)
		if idx >= 8 {
			base += 60 // bright variants live at 90+/100+
			idx -= 8
		}
		s.buf.WriteByte(';')
		writeInt(&s.buf, base+idx)
	case Color256:
		if fg {
			s.buf.WriteString(";38;5;")
		} else {
			s.buf.WriteString(";48;5;")
		}
		writeInt(&s.buf, int(c.Index))
	case ColorRGB:
		if fg {
			s.buf.WriteString(";38;2;")
		} else {
			s.buf.WriteString(";48;2;")
		}
		writeInt(&s.buf, int(c.R))
		s.buf.WriteByte(';')
		writeInt(&s.buf, int(c.G))
		s.buf.WriteByte(';')
		writeInt(&s.buf, int(c.B))
	}
}
