package loom

import "github.com/mattn/go-runewidth"

// styledRun is a contiguous piece of text content carrying one style. Text
// nodes flatten their own payload and their span children into runs before
// wrapping.
type styledRun struct {
	text  string
	style Style
}

// textLine is one wrapped display line.
type textLine struct {
	runs  []styledRun
	width int
}

type wrapMode uint8

const (
	wrapWord  wrapMode = iota // break at spaces, hard-break oversized words
	wrapBreak                 // break at the exact cell limit
)

// textRuns flattens a text node and its spans into runs. Span styles layer
// on top of the enclosing text style.
func textRuns(n *Node) []styledRun {
	var runs []styledRun
	if n.content != "" {
		runs = append(runs, styledRun{text: n.content, style: n.style})
	}
	for _, child := range n.elements() {
		if child.kind == nil || (child.kind.name != "span" && child.kind.name != "text") {
			continue
		}
		sub := *child
		sub.style = n.style.Merge(child.style)
		runs = append(runs, textRuns(&sub)...)
	}
	return runs
}

// wrapRuns lays runs out into lines no wider than maxW cells. Width is
// measured in terminal cells, so wide runes count double. Trailing spaces
// are dropped at wrap points.
func wrapRuns(runs []styledRun, maxW int, mode wrapMode) []textLine {
	if maxW <= 0 {
		return nil
	}
	w := &lineWrapper{maxW: maxW}
	for _, run := range runs {
		for _, r := range run.text {
			switch {
			case r == '\n':
				w.flushWord()
				w.newline()
			case r == ' ' && mode == wrapWord:
				w.flushWord()
				w.space(run.style)
			default:
				rw := runewidth.RuneWidth(r)
				if rw == 0 {
					continue
				}
				if mode == wrapBreak {
					w.putRune(r, rw, run.style)
				} else {
					w.wordRune(r, rw, run.style)
				}
			}
		}
	}
	w.flushWord()
	w.finish()
	return w.lines
}

// lineWrapper accumulates the current line and, in word mode, the word
// being collected across run boundaries.
type lineWrapper struct {
	maxW  int
	lines []textLine

	cur  []styledRun
	curW int

	word  []styledRun
	wordW int
}

func (w *lineWrapper) space(style Style) {
	if w.curW+1 > w.maxW {
		w.newline()
		return // the wrap consumes the space
	}
	w.appendRun(&w.cur, " ", style)
	w.curW++
}

func (w *lineWrapper) wordRune(r rune, rw int, style Style) {
	w.appendRun(&w.word, string(r), style)
	w.wordW += rw
}

func (w *lineWrapper) putRune(r rune, rw int, style Style) {
	if w.curW > 0 && w.curW+rw > w.maxW {
		w.newline()
	}
	w.appendRun(&w.cur, string(r), style)
	w.curW += rw
}

func (w *lineWrapper) flushWord() {
	if w.wordW == 0 && len(w.word) == 0 {
		return
	}
	if w.curW > 0 && w.curW+w.wordW > w.maxW {
		w.newline()
	}
	if w.wordW > w.maxW {
		// Oversized word, no break point: split at the cell limit.
		word := w.word
		w.word, w.wordW = nil, 0
		for _, run := range word {
			for _, r := range run.text {
				w.putRune(r, runewidth.RuneWidth(r), run.style)
			}
		}
		return
	}
	for _, run := range w.word {
		w.appendRun(&w.cur, run.text, run.style)
	}
	w.curW += w.wordW
	w.word, w.wordW = nil, 0
}

func (w *lineWrapper) newline() {
	w.trimTrailingSpace()
	w.lines = append(w.lines, textLine{runs: w.cur, width: w.curW})
	w.cur, w.curW = nil, 0
}

// finish emits the final line if anything is on it.
func (w *lineWrapper) finish() {
	if w.curW > 0 || len(w.cur) > 0 {
		w.newline()
	}
}

func (w *lineWrapper) trimTrailingSpace() {
	for len(w.cur) > 0 {
		last := &w.cur[len(w.cur)-1]
		trimmed := 0
		for len(last.text) > 0 && last.text[len(last.text)-1] == ' ' {
			last.text = last.text[:len(last.text)-1]
			trimmed++
		}
		w.curW -= trimmed
		if last.text != "" {
			return
		}
		w.cur = w.cur[:len(w.cur)-1]
	}
}

func (w *lineWrapper) appendRun(runs *[]styledRun, s string, style Style) {
	rs := *runs
	if n := len(rs); n > 0 && rs[n-1].style == style {
		rs[n-1].text += s
		*runs = rs
		return
	}
	*runs = append(rs, styledRun{text: s, style: style})
}
