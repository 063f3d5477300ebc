package loom

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// Component is the host-side behavior behind a component instance. Any value
// works; the runtime discovers capabilities at mount time through the
// optional hook interfaces below.
type Component interface{}

// Mounter is called when the instance first becomes live.
type Mounter interface {
	OnMount(ctx *Ctx)
}

// Unmounter is called when the instance's declaration stops being live or
// the tree is torn down. The mailbox is dropped before the call returns.
type Unmounter interface {
	OnUnmount(ctx *Ctx)
}

// Ticker receives the elapsed time since its previous tick, in tree order.
type Ticker interface {
	OnTick(ctx *Ctx, dt time.Duration)
}

// KeyHandler receives decoded key events.
type KeyHandler interface {
	OnKey(ctx *Ctx, ev KeyEvent)
}

// Receiver receives messages addressed to the instance: values sent through
// an Emitter and ComponentEvent values published by child components.
type Receiver interface {
	OnMessage(ctx *Ctx, msg any)
}

// Stater seeds the instance state when the component mounts.
type Stater interface {
	InitialState() map[string]any
}

// ComponentID addresses one live component instance.
type ComponentID int

// ComponentEvent is a child publication delivered to the parent component,
// renamed through the invocation's association list.
type ComponentEvent struct {
	Name  string
	Value Value
	From  ComponentID
}

// Ctx is handed to every component hook. It is only valid on the tick loop;
// use an Emitter to reach the instance from other goroutines.
type Ctx struct {
	ID    ComponentID
	State *State // instance-scoped state
	tree  *Tree
	inst  *instance
}

// Publish sends a named event to the parent component. The invocation's
// association list decides the name the parent sees; with no association
// list the internal name is kept.
func (c *Ctx) Publish(name string, value any) {
	c.tree.publish(c.inst, name, NewValue(value))
}

// Deliver queues a message for another component, drained next tick.
func (c *Ctx) Deliver(to ComponentID, msg any) {
	c.tree.Deliver(to, msg)
}

// Global returns the global state store shared by every component.
func (c *Ctx) Global() *State {
	return c.tree.global
}

// envelope is one queued message.
type envelope struct {
	to  ComponentID
	msg any
}

// Emitter is a cheap handle for sending messages into a running runtime from
// any goroutine. Copies share the same queue.
type Emitter struct {
	q chan envelope
}

// Emit queues msg for the component. Messages from one goroutine arrive in
// send order; the queue is dropped-on-full so a wedged UI cannot block
// producers.
func (e Emitter) Emit(to ComponentID, msg any) {
	if e.q == nil {
		return
	}
	select {
	case e.q <- envelope{to: to, msg: msg}:
	default:
		logger.Printf("emitter: queue full, dropped message for component %d", to)
	}
}

// componentDef is one registered component: template source plus the
// constructor for its backing value.
type componentDef struct {
	name      string
	src       string
	path      string // template file, re-read on reload when set
	tmpl      *Template
	construct func() Component
	prototype bool
}

// Registry holds the component definitions and the function table a set of
// templates compiles against. Register everything before the runtime is
// built; the registry is not synchronized.
type Registry struct {
	components map[string]*componentDef
	functions  map[string]Function
	builtin    map[string]bool
}

// NewRegistry returns a registry preloaded with the builtin function table.
func NewRegistry() *Registry {
	fns := builtinFunctions()
	builtin := make(map[string]bool, len(fns))
	for name := range fns {
		builtin[name] = true
	}
	return &Registry{
		components: map[string]*componentDef{},
		functions:  fns,
		builtin:    builtin,
	}
}

// RegisterComponent registers a single-use component from inline template
// source. A second live use of the name is an evaluation error.
func (r *Registry) RegisterComponent(name, src string, construct func() Component) error {
	return r.register(&componentDef{name: name, src: src, construct: construct})
}

// RegisterComponentFile registers a single-use component whose template is
// read from path at build and reload time.
func (r *Registry) RegisterComponentFile(name, path string, construct func() Component) error {
	return r.register(&componentDef{name: name, path: path, construct: construct})
}

// RegisterPrototype registers a component that may be instantiated any
// number of times; each instance gets its own constructed value and state.
func (r *Registry) RegisterPrototype(name, src string, construct func() Component) error {
	return r.register(&componentDef{name: name, src: src, construct: construct, prototype: true})
}

// RegisterPrototypeFile is RegisterPrototype with the template on disk.
func (r *Registry) RegisterPrototypeFile(name, path string, construct func() Component) error {
	return r.register(&componentDef{name: name, path: path, construct: construct, prototype: true})
}

// RegisterDefault registers a template-only component with no behavior
// behind it. Always multi-instance.
func (r *Registry) RegisterDefault(name, src string) error {
	return r.register(&componentDef{name: name, src: src, prototype: true})
}

// RegisterDefaultFile is RegisterDefault with the template on disk, re-read
// on reload.
func (r *Registry) RegisterDefaultFile(name, path string) error {
	return r.register(&componentDef{name: name, path: path, prototype: true})
}

func (r *Registry) register(def *componentDef) error {
	if _, exists := r.components[def.name]; exists {
		kind := "component"
		if def.prototype {
			kind = "prototype"
		}
		return &RegistrationError{Kind: kind, Name: def.name}
	}
	r.components[def.name] = def
	return nil
}

// RegisterFunction adds fn to the expression function table.
func (r *Registry) RegisterFunction(name string, fn Function) error {
	if _, exists := r.functions[name]; exists {
		return &RegistrationError{Kind: "function", Name: name}
	}
	r.functions[name] = fn
	return nil
}

func (r *Registry) hasComponent(name string) bool {
	_, ok := r.components[name]
	return ok
}

func (r *Registry) isPrototype(name string) bool {
	def, ok := r.components[name]
	return ok && def.prototype
}

func (r *Registry) hasFunction(name string) bool {
	_, ok := r.functions[name]
	return ok
}

func (r *Registry) lookupFunction(name string) (Function, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

func (r *Registry) definition(name string) *componentDef {
	return r.components[name]
}

// compileAll (re)compiles every registered component template, reading file
// backed definitions from disk. Compilation is all-or-nothing: on error the
// previously compiled templates stay in place.
func (r *Registry) compileAll() error {
	staged, err := r.compileStaged()
	if err != nil {
		return err
	}
	r.commitStaged(staged)
	return nil
}

// compileStaged compiles every component template, re-reading file-backed
// sources, without touching the live definitions. All templates compile or
// none are returned. Safe to run off the tick loop.
func (r *Registry) compileStaged() (map[string]*Template, error) {
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)

	staged := make(map[string]*Template, len(names))
	for _, name := range names {
		def := r.components[name]
		src := def.src
		if def.path != "" {
			data, err := os.ReadFile(def.path)
			if err != nil {
				return nil, fmt.Errorf("component %q: %w", name, err)
			}
			src = string(data)
		}
		tmpl, err := CompileTemplate(name, src, r)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}
		staged[name] = tmpl
	}
	return staged, nil
}

// commitStaged installs compiled templates. Must run on the goroutine that
// owns the tree, since evaluation reads the definitions.
func (r *Registry) commitStaged(staged map[string]*Template) {
	for name, tmpl := range staged {
		r.components[name].tmpl = tmpl
	}
}

// watchPaths lists the template files behind file-backed components.
func (r *Registry) watchPaths() []string {
	var paths []string
	for _, def := range r.components {
		if def.path != "" {
			paths = append(paths, def.path)
		}
	}
	sort.Strings(paths)
	return paths
}

// instance is one live component instance: the constructed host value, its
// scoped state, the evaluated invocation attributes and the slot fills the
// invocation supplied.
type instance struct {
	id     ComponentID
	def    *componentDef
	tmpl   *Template // the compiled template this instance evaluates
	comp   Component
	state  *State
	parent *instance

	attrs  map[string]Value // invocation attributes, re-evaluated with the parent
	arg    Value            // invocation argument value
	argRef stateRef         // state origin of the argument, for dependency flow
	assoc  []Assoc          // event renames for publications out of this instance

	// Slot fills: op positions in the surrounding template, evaluated in the
	// surrounding instance's scope when a slot op splices them in.
	fills      map[string][]int
	fillOwner  *instance
	fillScope  *scope
	invokeLoop string // loop key at the invocation site, part of fill node keys

	mailbox []any
	mounted bool
	ticked  time.Time // last tick dispatch, zero before the first
	depth   int       // instance nesting depth, guards runaway recursion
}

func (in *instance) ctx(t *Tree) *Ctx {
	return &Ctx{ID: in.id, State: in.state, tree: t, inst: in}
}

// deliver appends to the instance mailbox, drained once per tick.
func (in *instance) deliver(msg any) {
	in.mailbox = append(in.mailbox, msg)
}
