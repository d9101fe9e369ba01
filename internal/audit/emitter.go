package audit

import (
	"context"
	"log"
)

// Config configures the audit stream. The stream is enabled when Dir or
// Endpoint is set.
type Config struct {
	Dir      string // local event files and chain heads
	Endpoint string // optional HTTP collector
	Chain    string // heads file name, one per subjob
}

// Enabled reports whether events are emitted.
func (c Config) Enabled() bool {
	return c.Dir != "" || c.Endpoint != ""
}

// Emitter is the interface for event emission.
type Emitter interface {
	EmitCollection(ctx context.Context, evt Event) error
	Close() error
}

// NewEmitter creates an appropriate emitter based on configuration.
func NewEmitter(cfg Config) Emitter {
	if !cfg.Enabled() {
		return &noopEmitter{}
	}

	if cfg.Endpoint != "" {
		emitter, err := NewHTTPEmitter(cfg)
		if err != nil {
			log.Printf("[audit] failed to create HTTP emitter: %v, falling back to file-only", err)
			return createFileOnlyEmitter(cfg)
		}
		log.Printf("[audit] using HTTP emitter -> %s", cfg.Endpoint)
		return &httpEmitterWrapper{emitter: emitter}
	}

	return createFileOnlyEmitter(cfg)
}

func createFileOnlyEmitter(cfg Config) Emitter {
	emitter, err := NewFileOnlyEmitter(cfg.Dir, cfg.Chain)
	if err != nil {
		log.Printf("[audit] failed to create file emitter: %v, using no-op", err)
		return &noopEmitter{}
	}
	log.Printf("[audit] using file-only emitter -> %s", cfg.Dir)
	return &fileOnlyEmitterWrapper{emitter: emitter}
}

type httpEmitterWrapper struct {
	emitter *HTTPEmitter
}

func (w *httpEmitterWrapper) EmitCollection(ctx context.Context, evt Event) error {
	return w.emitter.Emit(ctx, &evt)
}

func (w *httpEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type fileOnlyEmitterWrapper struct {
	emitter *FileOnlyEmitter
}

func (w *fileOnlyEmitterWrapper) EmitCollection(_ context.Context, evt Event) error {
	return w.emitter.Emit(&evt)
}

func (w *fileOnlyEmitterWrapper) Close() error {
	return w.emitter.Close()
}

type noopEmitter struct{}

func (n *noopEmitter) EmitCollection(_ context.Context, _ Event) error {
	return nil
}

func (n *noopEmitter) Close() error {
	return nil
}
