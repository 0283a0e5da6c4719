package component

// Component is a business module with lifecycle hooks, the server calls
// Init and AfterInit on start, BeforeShutdown and Shutdown on shutdown.
type Component interface {
	Init()
	AfterInit()
	BeforeShutdown()
	Shutdown()
}

// Provider is implemented by components which serve messages
type Provider interface {
	Handlers() []Handler
}

// Base implements a default component.
type Base struct{}

func (c *Base) Init()           {}
func (c *Base) AfterInit()      {}
func (c *Base) BeforeShutdown() {}
func (c *Base) Shutdown()       {}

// CompWithOptions is a component and its registration options
type CompWithOptions struct {
	Comp Component
	Opts []Option
}

// Components holds the components of a server in registration order
type Components struct {
	comps []CompWithOptions
}

// Register registers a component with options
func (cs *Components) Register(c Component, options ...Option) {
	cs.comps = append(cs.comps, CompWithOptions{c, options})
}

// List returns all components with their options
func (cs *Components) List() []CompWithOptions {
	return cs.comps
}

// Name returns the name of the component registered with WithName
func (c CompWithOptions) Name() string {
	opt := options{}
	for _, option := range c.Opts {
		option(&opt)
	}
	return opt.name
}
