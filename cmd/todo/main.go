// Command todo is a small task list. The view is a template, the behavior is
// a component with key hooks, and every keystroke flows through the state
// store into the next frame.
package main

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/kungfusheep/loom"
)

const doc = `
align [alignment: "centre"]
    @todo
`

const todoView = `
border [border_style: "rounded", foreground: #8787ff]
    padding [padding: 1]
        vstack [min_width: 44]
            text [bold: true] "todo"
            text " "
            for item in items
                text
                    if item.done
                        span [foreground: #5fff87] "[x] "
                    else
                        span "[ ] "
                    if loop == cursor
                        span [inverse: true] item.text
                    else if item.done
                        span [dim: true, strikethrough: true] item.text
                    else
                        span item.text
            if len(items) == 0
                text [dim: true] "nothing to do"
            text " "
            text
                span [bold: true] "add: "
                span input
                span "▌"
            text " "
            text [dim: true] "enter add / tab toggle / ctrl+n ctrl+p move"
            text [dim: true] "ctrl+d delete / ctrl+c quit"
`

type todoApp struct{}

func (a *todoApp) InitialState() map[string]any {
	return map[string]any{
		"items": []any{
			map[string]any{"text": "learn the template language", "done": true},
			map[string]any{"text": "build something", "done": false},
		},
		"cursor": 0,
		"input":  "",
	}
}

// OnKey reads the applied state once, decides, and queues writes; the next
// pass picks them up.
func (a *todoApp) OnKey(ctx *loom.Ctx, ev loom.KeyEvent) {
	st := ctx.State
	cursor := intAt(st, "cursor")
	count := listLen(st, "items")
	input := strAt(st, "input")

	switch ev.String() {
	case "down", "ctrl+n":
		if cursor+1 < count {
			st.Set("cursor", cursor+1)
		}
	case "up", "ctrl+p":
		if cursor > 0 {
			st.Set("cursor", cursor-1)
		}
	case "tab":
		if cursor < count {
			done := loom.Path("items").Index(cursor).Child("done")
			v, _ := st.Get(done)
			st.Set(done, !v.Truthy())
		}
	case "ctrl+d":
		if count > 0 {
			st.RemoveAt("items", cursor)
			if cursor == count-1 && cursor > 0 {
				st.Set("cursor", cursor-1)
			}
		}
	case "enter":
		if input != "" {
			st.Push("items", map[string]any{"text": input, "done": false})
			st.Set("input", "")
		}
	case "backspace":
		if input != "" {
			_, n := utf8.DecodeLastRuneInString(input)
			st.Set("input", input[:len(input)-n])
		}
	default:
		if ev.Key == loom.KeyRune && ev.Mods == 0 {
			st.Set("input", input+string(ev.Rune))
		}
	}
}

func intAt(st *loom.State, path loom.Path) int {
	v, _ := st.Get(path)
	n, _ := v.AsInt()
	return n
}

func listLen(st *loom.State, path loom.Path) int {
	v, ok := st.Get(path)
	if !ok || v.Kind != loom.ListValue {
		return 0
	}
	return v.List.Len()
}

func strAt(st *loom.State, path loom.Path) string {
	v, ok := st.Get(path)
	if !ok || v.Kind != loom.StrValue {
		return ""
	}
	return v.Str
}

func main() {
	reg := loom.NewRegistry()
	if err := reg.RegisterComponent("todo", todoView, func() loom.Component { return &todoApp{} }); err != nil {
		log.Fatal(err)
	}
	tmpl, err := loom.CompileTemplate("todo", doc, reg)
	if err != nil {
		log.Fatal(err)
	}

	var rt *loom.Runtime
	rt, err = loom.NewRuntime(tmpl, reg, loom.Options{
		OnKey: func(ev loom.KeyEvent) bool {
			if ev.String() == "ctrl+c" {
				rt.Quit()
				return true
			}
			return false
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := rt.Run(context.Background()); err != nil {
		log.Fatal(err)
	}
}
