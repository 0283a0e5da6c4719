package gateway

import (
	"net/http"

	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/pipeline"
	"github.com/lonng/nano-gateway/serialize"
	"go.uber.org/zap"
)

type (
	options struct {
		pipeline    pipeline.Pipeline
		serializer  serialize.Serializer
		components  *component.Components
		checkOrigin func(*http.Request) bool
		debug       bool
	}

	// Option used to customize the server
	Option func(*options)
)

// WithPipeline sets the inbound and outbound envelope hooks
func WithPipeline(pipeline pipeline.Pipeline) Option {
	return func(opt *options) {
		opt.pipeline = pipeline
	}
}

// WithComponents sets the components
func WithComponents(components *component.Components) Option {
	return func(opt *options) {
		opt.components = components
	}
}

// WithCheckOriginFunc sets the function that check `Origin` in http headers
func WithCheckOriginFunc(fn func(*http.Request) bool) Option {
	return func(opt *options) {
		opt.checkOrigin = fn
	}
}

// WithDebugMode let the gateway run under debug mode.
func WithDebugMode() Option {
	return func(opt *options) {
		opt.debug = true
	}
}

// WithSerializer customizes the serializer of error bodies, it overrides the
// serializer named in the config.
func WithSerializer(serializer serialize.Serializer) Option {
	return func(opt *options) {
		opt.serializer = serializer
	}
}

// WithLogger overrides the default logger
func WithLogger(l *zap.Logger) Option {
	return func(_ *options) {
		log.SetLogger(l)
	}
}
