// Command loom runs a template file as a live terminal app, reloading it on
// save, and checks template files for errors without running them.
//
//	loom run [-c config.yaml] [-fps n] [-no-watch] <template>
//	loom check [-c config.yaml] <template>...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/kungfusheep/loom"
)

var (
	errStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(0, 1)
	headStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// errChecksFailed signals a non-zero exit without a second banner; check
// already printed one per failing file.
var errChecksFailed = errors.New("checks failed")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "check":
		err = checkCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "loom: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintln(os.Stderr, banner(err))
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `loom runs declarative terminal templates.

Usage:
  loom run [-c config.yaml] [-fps n] [-no-watch] <template>
  loom check [-c config.yaml] <template>...

run starts the template as a live app. Saving the template or any
configured component file reloads it in place; state survives the swap.
ctrl+c quits, ctrl+r forces a reload, ctrl+e toggles the error overlay.

check compiles each template and reports errors without running anything.
`)
}

// banner renders an error for the terminal. Syntax errors get their source
// line and caret; everything else just the message. The box is clipped to
// the terminal width so a long template line cannot wrap the border.
func banner(err error) string {
	box := errStyle
	if w, _, e := term.GetSize(int(os.Stderr.Fd())); e == nil && w > 8 {
		box = box.MaxWidth(w)
	}
	var se *loom.SyntaxError
	if errors.As(err, &se) {
		return box.Render(headStyle.Render("template error") + "\n" + se.Show())
	}
	return box.Render(headStyle.Render("error") + " " + err.Error())
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("loom run", flag.ExitOnError)
	cfgPath := fs.String("c", "", "yaml config file")
	fps := fs.Int("fps", 0, "tick rate cap")
	noWatch := fs.Bool("no-watch", false, "disable hot reload")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
		return errors.New("run wants exactly one template file")
	}
	path := fs.Arg(0)

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("stdout is not a terminal; run needs one to draw on")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	reg := loom.NewRegistry()
	if err := cfg.registerComponents(reg); err != nil {
		return err
	}

	tickRate := *fps
	if tickRate == 0 {
		tickRate = cfg.FPS
	}

	var rt *loom.Runtime
	rt, err = loom.NewRuntimeFile(path, reg, loom.Options{
		FPS:   tickRate,
		Watch: cfg.watch(*noWatch),
		OnKey: func(ev loom.KeyEvent) bool {
			switch ev.String() {
			case "ctrl+c", "ctrl+q":
				rt.Quit()
				return true
			case "ctrl+r":
				rt.ReloadNow()
				return true
			case "ctrl+e":
				rt.ToggleErrorOverlay()
				return true
			}
			return false
		},
	})
	if err != nil {
		return err
	}
	cfg.seedState(rt.State())

	return rt.Run(context.Background())
}

func checkCmd(args []string) error {
	fs := flag.NewFlagSet("loom check", flag.ExitOnError)
	cfgPath := fs.String("c", "", "yaml config file")
	fs.Parse(args)
	if fs.NArg() == 0 {
		usage()
		return errors.New("check wants at least one template file")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	failed := false
	for _, path := range fs.Args() {
		reg := loom.NewRegistry()
		if err := cfg.registerComponents(reg); err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err == nil {
			_, err = loom.CompileTemplate(path, string(src), reg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s\n%s\n", headStyle.Render("FAIL"), path, banner(err))
			failed = true
			continue
		}
		fmt.Printf("%s %s\n", okStyle.Render("ok"), path)
	}
	if failed {
		return errChecksFailed
	}
	return nil
}
