package component

type (
	options struct {
		name string // handler or component name used in logs
	}

	// Option used to customize handler
	Option func(options *options)
)

// WithName used to rename handler or component
func WithName(name string) Option {
	return func(opt *options) {
		opt.name = name
	}
}
