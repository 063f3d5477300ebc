package loom

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func lineText(ln textLine) string {
	var b strings.Builder
	for _, run := range ln.runs {
		b.WriteString(run.text)
	}
	return b.String()
}

func wrapStrings(s string, maxW int, mode wrapMode) []string {
	lines := wrapRuns([]styledRun{{text: s, style: DefaultStyle()}}, maxW, mode)
	out := make([]string, len(lines))
	for i, ln := range lines {
		out[i] = lineText(ln)
	}
	return out
}

func TestWrapWord(t *testing.T) {
	tests := []struct {
		name string
		in   string
		maxW int
		want []string
	}{
		{
			name: "fits on one line",
			in:   "hello world",
			maxW: 20,
			want: []string{"hello world"},
		},
		{
			name: "wraps at word boundary",
			in:   "This isn't where I parked my car!",
			maxW: 30,
			want: []string{"This isn't where I parked my", "car!"},
		},
		{
			name: "oversized word hard-breaks",
			in:   "abcdefghij",
			maxW: 4,
			want: []string{"abcd", "efgh", "ij"},
		},
		{
			name: "oversized word after a fitting one",
			in:   "ok abcdefghij",
			maxW: 4,
			want: []string{"ok", "abcd", "efgh", "ij"},
		},
		{
			name: "explicit newlines",
			in:   "a\nb",
			maxW: 10,
			want: []string{"a", "b"},
		},
		{
			name: "blank line preserved",
			in:   "a\n\nb",
			maxW: 10,
			want: []string{"a", "", "b"},
		},
		{
			name: "trailing spaces trimmed",
			in:   "hi   ",
			maxW: 10,
			want: []string{"hi"},
		},
		{
			name: "wide runes wrap by cell width",
			in:   "日本語",
			maxW: 4,
			want: []string{"日本", "語"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapStrings(tt.in, tt.maxW, wrapWord)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("wrap mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWrapBreak(t *testing.T) {
	got := wrapStrings("hello world", 5, wrapBreak)
	want := []string{"hello", " worl", "d"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrap mismatch (-want +got):\n%s", diff)
	}
}

func TestWrapNoWidth(t *testing.T) {
	if lines := wrapRuns([]styledRun{{text: "hello"}}, 0, wrapWord); lines != nil {
		t.Errorf("expected no lines at width 0, got %d", len(lines))
	}
}

func TestWrapLineWidths(t *testing.T) {
	lines := wrapRuns([]styledRun{{text: "This isn't where I parked my car!", style: DefaultStyle()}}, 30, wrapWord)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].width != 28 {
		t.Errorf("line 0 width: got %d, want 28", lines[0].width)
	}
	if lines[1].width != 4 {
		t.Errorf("line 1 width: got %d, want 4", lines[1].width)
	}
}

func TestWrapMergesSameStyleRuns(t *testing.T) {
	style := DefaultStyle()
	bold := DefaultStyle().Bold()
	lines := wrapRuns([]styledRun{
		{text: "ab", style: style},
		{text: "cd", style: style},
		{text: "ef", style: bold},
	}, 10, wrapWord)

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if len(lines[0].runs) != 2 {
		t.Fatalf("expected adjacent same-style runs to merge, got %d runs", len(lines[0].runs))
	}
	if lines[0].runs[0].text != "abcd" {
		t.Errorf("merged run: got %q, want %q", lines[0].runs[0].text, "abcd")
	}
	if lines[0].runs[1].text != "ef" || !lines[0].runs[1].style.Equal(bold) {
		t.Errorf("styled run not preserved: %+v", lines[0].runs[1])
	}
}

func TestWrapStyleSurvivesHardBreak(t *testing.T) {
	bold := DefaultStyle().Bold()
	lines := wrapRuns([]styledRun{{text: "abcdef", style: bold}}, 3, wrapWord)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, ln := range lines {
		for _, run := range ln.runs {
			if !run.style.Equal(bold) {
				t.Errorf("line %d: style lost across the break", i)
			}
		}
	}
}
