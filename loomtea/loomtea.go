// Package loomtea hosts a loom template tree inside a Bubble Tea program.
// The program's update loop stands in for loom's own tick loop: it owns the
// tree, so hooks and state application keep their single-goroutine model.
package loomtea

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kungfusheep/loom"
)

// Deliver is a tea.Msg that routes a message to a component mailbox. Send
// it with Program.Send from any goroutine.
type Deliver struct {
	To  loom.ComponentID
	Msg any
}

type tickMsg time.Time

// Model adapts a loom.Tree to tea.Model.
type Model struct {
	tree     *loom.Tree
	frame    *loom.Buffer
	interval time.Duration
	onEvent  func(loom.ComponentEvent) tea.Cmd
}

// Option configures a Model.
type Option func(*Model)

// WithFPS caps the tick rate. The default is 30.
func WithFPS(fps int) Option {
	return func(m *Model) {
		if fps > 0 {
			m.interval = time.Second / time.Duration(fps)
		}
	}
}

// WithOnEvent handles publications that reach the top of the component
// tree. The returned command is run by the program.
func WithOnEvent(fn func(loom.ComponentEvent) tea.Cmd) Option {
	return func(m *Model) { m.onEvent = fn }
}

// New builds a model hosting tmpl with reg's components and functions.
func New(tmpl *loom.Template, reg *loom.Registry, opts ...Option) (Model, error) {
	tree, err := loom.NewTree(tmpl, reg)
	if err != nil {
		return Model{}, err
	}
	m := Model{tree: tree, interval: time.Second / 30}
	for _, opt := range opts {
		opt(&m)
	}
	return m, nil
}

// Tree exposes the hosted tree for state access. Mutate it only from
// Update, or through the store's queued writes.
func (m Model) Tree() *loom.Tree {
	return m.tree
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.frame = loom.NewBuffer(msg.Width, msg.Height)
		m.tree.Invalidate()
		m.render()

	case tea.KeyMsg:
		for _, ev := range keyEvents(msg) {
			m.tree.DispatchKey(ev)
		}
		m.render()

	case Deliver:
		m.tree.Deliver(msg.To, msg.Msg)

	case tickMsg:
		m.tree.DispatchTick(time.Time(msg))
		m.tree.DispatchMessages(m.interval / 2)
		m.render()
		return m, tea.Batch(append(m.hostCmds(), m.tick())...)
	}
	return m, tea.Batch(m.hostCmds()...)
}

// render runs a pass into the frame when work is pending. View only reads
// the frame, keeping evaluation inside Update.
func (m Model) render() {
	if m.frame == nil || !m.tree.NeedsPass() {
		return
	}
	m.tree.Execute(m.frame)
}

func (m Model) hostCmds() []tea.Cmd {
	events := m.tree.HostEvents()
	if m.onEvent == nil {
		return nil
	}
	var cmds []tea.Cmd
	for _, ev := range events {
		if cmd := m.onEvent(ev); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func (m Model) View() string {
	if m.frame == nil {
		return ""
	}
	return m.frame.String()
}

var teaKeys = map[tea.KeyType]loom.Key{
	tea.KeyEnter:     loom.KeyEnter,
	tea.KeyTab:       loom.KeyTab,
	tea.KeyBackspace: loom.KeyBackspace,
	tea.KeyEsc:       loom.KeyEsc,
	tea.KeyUp:        loom.KeyUp,
	tea.KeyDown:      loom.KeyDown,
	tea.KeyRight:     loom.KeyRight,
	tea.KeyLeft:      loom.KeyLeft,
	tea.KeyHome:      loom.KeyHome,
	tea.KeyEnd:       loom.KeyEnd,
	tea.KeyPgUp:      loom.KeyPgUp,
	tea.KeyPgDown:    loom.KeyPgDn,
	tea.KeyInsert:    loom.KeyInsert,
	tea.KeyDelete:    loom.KeyDelete,
	tea.KeyF1:        loom.KeyF1,
	tea.KeyF2:        loom.KeyF2,
	tea.KeyF3:        loom.KeyF3,
	tea.KeyF4:        loom.KeyF4,
	tea.KeyF5:        loom.KeyF5,
	tea.KeyF6:        loom.KeyF6,
	tea.KeyF7:        loom.KeyF7,
	tea.KeyF8:        loom.KeyF8,
	tea.KeyF9:        loom.KeyF9,
	tea.KeyF10:       loom.KeyF10,
	tea.KeyF11:       loom.KeyF11,
	tea.KeyF12:       loom.KeyF12,
}

// keyEvents translates a Bubble Tea key message. Pasted text arrives as one
// message with many runes, hence the slice.
func keyEvents(msg tea.KeyMsg) []loom.KeyEvent {
	var mods loom.Mod
	if msg.Alt {
		mods |= loom.ModAlt
	}

	if k, ok := teaKeys[msg.Type]; ok {
		return []loom.KeyEvent{{Key: k, Mods: mods}}
	}

	switch {
	case msg.Type == tea.KeySpace:
		return []loom.KeyEvent{{Key: loom.KeyRune, Rune: ' ', Mods: mods}}
	case msg.Type == tea.KeyShiftTab:
		return []loom.KeyEvent{{Key: loom.KeyTab, Mods: mods | loom.ModShift}}
	case msg.Type >= tea.KeyCtrlA && msg.Type <= tea.KeyCtrlZ:
		r := rune('a' + msg.Type - tea.KeyCtrlA)
		return []loom.KeyEvent{{Key: loom.KeyRune, Rune: r, Mods: mods | loom.ModCtrl}}
	case msg.Type == tea.KeyRunes:
		evs := make([]loom.KeyEvent, 0, len(msg.Runes))
		for _, r := range msg.Runes {
			evs = append(evs, loom.KeyEvent{Key: loom.KeyRune, Rune: r, Mods: mods})
		}
		return evs
	}
	return nil
}
