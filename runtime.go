package loom

import (
	"context"
	"os"
	"time"
)

// Backend abstracts the terminal for the runtime loop. Screen is the
// shipped implementation; tests substitute their own.
type Backend interface {
	Start() error
	Stop() error
	Size() (int, int)
	Flush(*Buffer) error
	Events() <-chan Event
}

// Options configure a Runtime.
type Options struct {
	// FPS caps the tick rate. Zero means 30.
	FPS int

	// Backend overrides the default terminal screen on stdout.
	Backend Backend

	// Watch reloads the root template file and every file-backed component
	// when they change on disk. Reload failures keep the running tree and
	// draw the error over it until a compile succeeds.
	Watch bool

	// OnKey sees every key before the component tree. Return true to
	// consume it. Hosts bind their quit key here; raw mode swallows the
	// usual interrupt signal.
	OnKey func(KeyEvent) bool

	// OnEvent receives publications that reached the top of the component
	// tree. Nil drops them.
	OnEvent func(ComponentEvent)
}

const defaultFPS = 30

// Runtime hosts a Tree on a single-threaded tick loop. Evaluation, layout,
// painting and every component hook run on that loop; outside goroutines
// reach it only through the Emitter and the state stores' queued writes.
type Runtime struct {
	tree    *Tree
	reg     *Registry
	backend Backend
	opts    Options
	fps     int

	rootName string
	rootPath string // empty when the root template came from source text

	emitter Emitter

	reloadReq chan struct{}
	reloads   chan reloadResult
	watch     *watcher

	frame     *Buffer
	reloadErr error
	hideErr   bool
	repaint   bool

	stop    chan struct{}
	stopped chan struct{}
}

type reloadResult struct {
	doc    *Template
	staged map[string]*Template
	err    error
}

// NewRuntime hosts an already-compiled template. Hot reload covers only
// file-backed components; use NewRuntimeFile to reload the root too.
func NewRuntime(tmpl *Template, reg *Registry, opts Options) (*Runtime, error) {
	return newRuntime(tmpl, "", reg, opts)
}

// NewRuntimeFile compiles the template at path and hosts it.
func NewRuntimeFile(path string, reg *Registry, opts Options) (*Runtime, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tmpl, err := CompileTemplate(path, string(src), reg)
	if err != nil {
		return nil, err
	}
	return newRuntime(tmpl, path, reg, opts)
}

func newRuntime(tmpl *Template, path string, reg *Registry, opts Options) (*Runtime, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	tree, err := NewTree(tmpl, reg)
	if err != nil {
		return nil, err
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	backend := opts.Backend
	if backend == nil {
		backend, err = NewScreen(nil)
		if err != nil {
			return nil, err
		}
	}
	return &Runtime{
		tree:      tree,
		reg:       reg,
		backend:   backend,
		opts:      opts,
		fps:       fps,
		rootName:  tmpl.Name,
		rootPath:  path,
		emitter:   Emitter{q: make(chan envelope, 64)},
		reloadReq: make(chan struct{}, 1),
		reloads:   make(chan reloadResult),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Tree exposes the hosted tree. Touch it only from hooks running on the
// tick loop; use State and Emitter from anywhere else.
func (r *Runtime) Tree() *Tree {
	return r.tree
}

// State returns the global state store. Writes are queued and safe from
// any goroutine.
func (r *Runtime) State() *State {
	return r.tree.State()
}

// Emitter returns the handle background goroutines use to message
// components.
func (r *Runtime) Emitter() Emitter {
	return r.emitter
}

// Quit signals the loop to exit without waiting. Safe from hooks running
// on the loop itself.
func (r *Runtime) Quit() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// Stop ends a running loop from another goroutine and waits for it to
// exit.
func (r *Runtime) Stop() {
	r.Quit()
	<-r.stopped
}

// ToggleErrorOverlay hides or reveals the reload-failure box, leaving the
// failure itself in place. For key handlers; runs on the loop. A new
// failure reveals the box again.
func (r *Runtime) ToggleErrorOverlay() {
	r.hideErr = !r.hideErr
	r.repaint = true
}

// ReloadNow asks the loop to recompile the watched templates immediately.
// It returns once the request is queued, not once the reload lands.
func (r *Runtime) ReloadNow() {
	select {
	case r.reloadReq <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled or Stop is called. It owns the
// terminal between Start and Stop of the backend.
func (r *Runtime) Run(ctx context.Context) error {
	defer close(r.stopped)

	if err := r.backend.Start(); err != nil {
		return err
	}
	defer r.backend.Stop()

	if r.opts.Watch {
		paths := r.reg.watchPaths()
		if r.rootPath != "" {
			paths = append(paths, r.rootPath)
		}
		if len(paths) > 0 {
			w, err := newWatcher(paths)
			if err != nil {
				return err
			}
			r.watch = w
			defer w.stop()
		}
	}
	go r.reloader()

	w, h := r.backend.Size()
	r.frame = NewBuffer(w, h)

	interval := time.Second / time.Duration(r.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.step(interval, true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case <-ticker.C:
			r.step(interval, false)
		case ev, ok := <-r.backend.Events():
			if !ok {
				return nil
			}
			r.handleEvent(ev)
			r.step(interval, false)
		case env := <-r.emitter.q:
			r.tree.Deliver(env.to, env.msg)
		case res := <-r.reloads:
			r.applyReload(res)
			r.step(interval, true)
		}
	}
}

func (r *Runtime) handleEvent(ev Event) {
	switch e := ev.(type) {
	case KeyEvent:
		if r.opts.OnKey != nil && r.opts.OnKey(e) {
			return
		}
		r.tree.DispatchKey(e)
	case ResizeEvent:
		r.frame = NewBuffer(e.Width, e.Height)
		r.tree.Invalidate()
	}
}

// step runs one tick: hooks first so their writes land in this frame, then
// evaluate, lay out and paint when anything changed.
func (r *Runtime) step(interval time.Duration, force bool) {
	r.tree.DispatchTick(time.Now())
	r.tree.DispatchMessages(interval / 2)

	if !force && !r.repaint && !r.tree.NeedsPass() {
		return
	}
	r.repaint = false
	r.tree.Execute(r.frame)
	r.deliverHostEvents()
	if r.reloadErr != nil && !r.hideErr {
		paintReloadError(r.frame, r.reloadErr)
	}
	if err := r.backend.Flush(r.frame); err != nil {
		logger.Printf("flush: %v", err)
	}
}

func (r *Runtime) deliverHostEvents() {
	events := r.tree.HostEvents()
	if r.opts.OnEvent == nil {
		return
	}
	for _, ev := range events {
		r.opts.OnEvent(ev)
	}
}

// reloader performs template compilation off the tick loop, serialized on
// one goroutine, and hands each outcome back as a discrete result.
func (r *Runtime) reloader() {
	var changed <-chan struct{}
	if r.watch != nil {
		changed = r.watch.changed
	}
	for {
		select {
		case <-r.stop:
			return
		case <-r.reloadReq:
		case <-changed:
		}
		res := r.recompile()
		select {
		case r.reloads <- res:
		case <-r.stop:
			return
		}
	}
}

// recompile re-reads every file-backed template and compiles the whole set
// off the tick loop. Nothing is committed here: the staged templates and
// new root travel back as a result and land on the loop, so evaluation
// never observes a half-applied reload.
func (r *Runtime) recompile() reloadResult {
	staged, err := r.reg.compileStaged()
	if err != nil {
		return reloadResult{err: err}
	}
	doc := r.tree.Document()
	if r.rootPath != "" {
		src, err := os.ReadFile(r.rootPath)
		if err != nil {
			return reloadResult{err: err}
		}
		doc, err = CompileTemplate(r.rootName, string(src), r.reg)
		if err != nil {
			return reloadResult{err: err}
		}
	}
	return reloadResult{doc: doc, staged: staged}
}

func (r *Runtime) applyReload(res reloadResult) {
	if res.err != nil {
		r.reloadErr = res.err
		r.hideErr = false
		logger.Printf("reload: %v", res.err)
		return
	}
	r.reloadErr = nil
	r.reg.commitStaged(res.staged)
	r.tree.Swap(res.doc)
}

// paintReloadError draws the reload failure in a bordered box over the
// frame, leaving the stale UI visible underneath.
func paintReloadError(buf *Buffer, err error) {
	w, h := buf.Size()
	if w < 8 || h < 4 {
		return
	}
	style := DefaultStyle().Foreground(BrightRed)
	text := DefaultStyle()

	lines := wrapRuns([]styledRun{{text: err.Error(), style: text}}, w-6, wrapWord)
	boxH := min(len(lines)+2, h-2)
	boxW := 0
	for _, ln := range lines {
		boxW = max(boxW, ln.width)
	}
	boxW = min(boxW+4, w)

	box := buf.Region((w-boxW)/2, (h-boxH)/2, boxW, boxH)
	box.Fill(NewCell(' ', text))
	box.DrawBorder(BorderSingle, style)
	for i, ln := range lines {
		if i >= boxH-2 {
			break
		}
		cx := 2
		for _, run := range ln.runs {
			cx += box.WriteString(cx, 1+i, run.text, run.style)
		}
	}
}
