package loom

import (
	"strings"
	"testing"
)

// TestRenderGoldenFrame drives the whole pipeline - compile, evaluate, lay
// out, paint - and checks the exact frame: two expand panes split 1:4, each
// holding a border, the right one wrapping its text.
func TestRenderGoldenFrame(t *testing.T) {
	_, buf := render(t, `
hstack [width: 40, height: 10]
    expand [factor: 1]
        border
            vstack
                text "one"
                text "two"
                text "three"
    expand [factor: 4]
        border
            expand
                text "This isn't where I parked my car!"
`, 40, 10)

	blank := "│" + strings.Repeat(" ", 30) + "│"
	want := []string{
		"┌─────┐ ┌" + strings.Repeat("─", 30) + "┐",
		"│one  │ │This isn't where I parked my  │",
		"│two  │ │car!" + strings.Repeat(" ", 26) + "│",
		"│three│ " + blank,
		"└─────┘ " + blank,
		strings.Repeat(" ", 8) + blank,
		strings.Repeat(" ", 8) + blank,
		strings.Repeat(" ", 8) + blank,
		strings.Repeat(" ", 8) + blank,
		strings.Repeat(" ", 8) + "└" + strings.Repeat("─", 30) + "┘",
	}
	for y, line := range want {
		if got := buf.GetLine(y); got != line {
			t.Errorf("line %d:\n got %q\nwant %q", y, got, line)
		}
	}
}

func TestRenderStyleReachesCells(t *testing.T) {
	_, buf := render(t, `
text [foreground: "red", bold: true] "x"
`, 5, 1)

	cell := buf.Get(0, 0)
	if cell.Rune != 'x' {
		t.Fatalf("expected 'x', got %q", cell.Rune)
	}
	if !cell.Style.FG.Equal(Red) {
		t.Errorf("foreground: got %+v, want red", cell.Style.FG)
	}
	if !cell.Style.Attr.Has(AttrBold) {
		t.Error("bold attribute not set")
	}
}

func TestRenderBackgroundFillsRegion(t *testing.T) {
	_, buf := render(t, `
container [width: 4, height: 2, background: "blue"]
`, 6, 3)

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if got := buf.Get(x, y).Style.BG; !got.Equal(Blue) {
				t.Fatalf("cell (%d,%d) background: got %+v, want blue", x, y, got)
			}
		}
	}
	if got := buf.Get(4, 0).Style.BG; got.Equal(Blue) {
		t.Error("background bled outside the region")
	}
}

func TestRenderSpansInheritTextStyle(t *testing.T) {
	_, buf := render(t, `
text [bold: true]
    span "a"
    span [italic: true] "b"
`, 5, 1)

	a := buf.Get(0, 0)
	if a.Rune != 'a' || !a.Style.Attr.Has(AttrBold) {
		t.Errorf("first span: got %q attrs %v, want bold 'a'", a.Rune, a.Style.Attr)
	}
	b := buf.Get(1, 0)
	if b.Rune != 'b' {
		t.Fatalf("expected 'b', got %q", b.Rune)
	}
	if !b.Style.Attr.Has(AttrBold) || !b.Style.Attr.Has(AttrItalic) {
		t.Errorf("span style should layer on the text style, got attrs %v", b.Style.Attr)
	}
}

func TestRenderHexColor(t *testing.T) {
	_, buf := render(t, `
text [foreground: #ff0000] "x"
`, 5, 1)

	got := buf.Get(0, 0).Style.FG
	want := RGB(255, 0, 0)
	if !got.Equal(want) {
		t.Errorf("foreground: got %+v, want %+v", got, want)
	}
}
