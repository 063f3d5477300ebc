package loomtea

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kungfusheep/loom"
)

func newModel(t *testing.T, src string, reg *loom.Registry, opts ...Option) Model {
	t.Helper()
	tmpl, err := loom.CompileTemplate("test", src, reg)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m, err := New(tmpl, reg, opts...)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return m
}

func sized(t *testing.T, m Model, w, h int) Model {
	t.Helper()
	tm, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return tm.(Model)
}

func firstLine(view string) string {
	line, _, _ := strings.Cut(view, "\n")
	return strings.TrimRight(line, " ")
}

type keyLog struct {
	log *[]string
}

func (k *keyLog) OnKey(_ *loom.Ctx, ev loom.KeyEvent) {
	*k.log = append(*k.log, ev.String())
}

type tickLog struct {
	dts *[]time.Duration
}

func (p *tickLog) OnTick(_ *loom.Ctx, dt time.Duration) {
	*p.dts = append(*p.dts, dt)
}

type mailLog struct {
	ids *[]loom.ComponentID
	log *[]string
}

func (m *mailLog) OnMount(ctx *loom.Ctx) {
	*m.ids = append(*m.ids, ctx.ID)
}

func (m *mailLog) OnMessage(_ *loom.Ctx, msg any) {
	*m.log = append(*m.log, fmt.Sprint(msg))
}

type pubOnMount struct {
	name string
}

func (p *pubOnMount) OnMount(ctx *loom.Ctx) {
	ctx.Publish(p.name, "v")
}

func TestModelRendersAfterResize(t *testing.T) {
	m := newModel(t, `text greeting`, nil)
	if m.View() != "" {
		t.Errorf("view before sizing: %q", m.View())
	}

	m.Tree().State().Set("greeting", "hi")
	m = sized(t, m, 20, 4)
	if got := firstLine(m.View()); got != "hi" {
		t.Errorf("got %q", got)
	}

	// queued writes render on the next tick
	m.Tree().State().Set("greeting", "again")
	tm, _ := m.Update(tickMsg(time.Now()))
	m = tm.(Model)
	if got := firstLine(m.View()); got != "again" {
		t.Errorf("after tick: got %q", got)
	}
}

func TestModelDispatchesKeys(t *testing.T) {
	var log []string
	reg := loom.NewRegistry()
	err := reg.RegisterComponent("pane", `text "pane"`, func() loom.Component {
		return &keyLog{log: &log}
	})
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, `@pane`, reg)
	m = sized(t, m, 20, 4)

	msgs := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("ab")},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyUp},
		{Type: tea.KeyShiftTab},
		{Type: tea.KeySpace},
		{Type: tea.KeyRunes, Runes: []rune("z"), Alt: true},
	}
	for _, msg := range msgs {
		tm, _ := m.Update(msg)
		m = tm.(Model)
	}

	want := []string{"a", "b", "ctrl+c", "up", "shift+tab", "space", "alt+z"}
	if len(log) != len(want) {
		t.Fatalf("log: %v", log)
	}
	for i, w := range want {
		if log[i] != w {
			t.Errorf("log[%d]: got %q, want %q", i, log[i], w)
		}
	}
}

func TestModelTicksComponents(t *testing.T) {
	var dts []time.Duration
	reg := loom.NewRegistry()
	err := reg.RegisterComponent("clock", `text "t"`, func() loom.Component {
		return &tickLog{dts: &dts}
	})
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, `@clock`, reg)
	m = sized(t, m, 10, 2)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tm, cmd := m.Update(tickMsg(base))
	m = tm.(Model)
	if cmd == nil {
		t.Error("tick should schedule the next one")
	}
	m.Update(tickMsg(base.Add(100 * time.Millisecond)))

	if len(dts) != 2 || dts[0] != 0 || dts[1] != 100*time.Millisecond {
		t.Errorf("dts: %v", dts)
	}
}

func TestModelDeliver(t *testing.T) {
	var ids []loom.ComponentID
	var log []string
	reg := loom.NewRegistry()
	err := reg.RegisterComponent("sink", `text "s"`, func() loom.Component {
		return &mailLog{ids: &ids, log: &log}
	})
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, `@sink`, reg)
	m = sized(t, m, 10, 2)
	if len(ids) != 1 {
		t.Fatalf("mounted %d", len(ids))
	}

	tm, _ := m.Update(Deliver{To: ids[0], Msg: "ping"})
	m = tm.(Model)
	m.Update(tickMsg(time.Now()))

	if len(log) != 1 || log[0] != "ping" {
		t.Errorf("log: %v", log)
	}
}

func TestModelHostEvents(t *testing.T) {
	var events []string
	reg := loom.NewRegistry()
	err := reg.RegisterComponent("announcer", `text "a"`, func() loom.Component {
		return &pubOnMount{name: "done"}
	})
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, `@announcer`, reg, WithOnEvent(func(ev loom.ComponentEvent) tea.Cmd {
		events = append(events, ev.Name)
		return tea.Quit
	}))

	_, cmd := m.Update(tea.WindowSizeMsg{Width: 10, Height: 2})
	if len(events) != 1 || events[0] != "done" {
		t.Fatalf("events: %v", events)
	}
	if cmd == nil {
		t.Error("handler command should propagate")
	}
}

func TestKeyEventTranslation(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want []loom.KeyEvent
	}{
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, []loom.KeyEvent{{Key: loom.KeyEnter}}},
		{"alt enter", tea.KeyMsg{Type: tea.KeyEnter, Alt: true}, []loom.KeyEvent{{Key: loom.KeyEnter, Mods: loom.ModAlt}}},
		{"f5", tea.KeyMsg{Type: tea.KeyF5}, []loom.KeyEvent{{Key: loom.KeyF5}}},
		{"ctrl a", tea.KeyMsg{Type: tea.KeyCtrlA}, []loom.KeyEvent{{Key: loom.KeyRune, Rune: 'a', Mods: loom.ModCtrl}}},
		{"space", tea.KeyMsg{Type: tea.KeySpace}, []loom.KeyEvent{{Key: loom.KeyRune, Rune: ' '}}},
		{"shift tab", tea.KeyMsg{Type: tea.KeyShiftTab}, []loom.KeyEvent{{Key: loom.KeyTab, Mods: loom.ModShift}}},
		{"paste runs", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi")}, []loom.KeyEvent{
			{Key: loom.KeyRune, Rune: 'h'},
			{Key: loom.KeyRune, Rune: 'i'},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keyEvents(tt.msg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
