package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
	"github.com/chazu/stackcheck/store"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("stackcheck.server")

// Server serves VerifyService over Connect with the CBOR codec.
type Server struct {
	pool *WorkerPool
	mux  *http.ServeMux
	reg  *opcode.Registry
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers int
	cache   *store.Store
	opts    []verify.Option
}

// WithWorkers sets the number of verification goroutines. Zero or less
// means GOMAXPROCS.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithCache enables the result cache. The caller keeps ownership of the
// store and closes it after Stop.
func WithCache(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.cache = s }
}

// WithVerifyOptions sets the defaults applied to every unit before the
// unit's own settings.
func WithVerifyOptions(opts ...verify.Option) ServerOption {
	return func(c *serverConfig) { c.opts = append(c.opts, opts...) }
}

// New creates a Server verifying against reg (opcode.Default when nil).
func New(reg *opcode.Registry, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if reg == nil {
		reg = opcode.Default
	}

	s := &Server{
		pool: NewWorkerPool(cfg.workers),
		mux:  http.NewServeMux(),
		reg:  reg,
	}

	svc := NewVerifyService(reg, s.pool, cfg.cache, cfg.opts)
	codec := connect.WithCodec(newCBORCodec())

	s.mux.Handle(VerifyProcedure, connect.NewUnaryHandler(VerifyProcedure, svc.Verify, codec))
	s.mux.Handle(CatalogueProcedure, connect.NewUnaryHandler(CatalogueProcedure, svc.Catalogue, codec))

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("stackcheck server listening on %s (catalogue v%d, %d workers)", addr, s.reg.Version(), s.pool.Size())
	log.Noticef("  Connect (application/cbor): http://%s%s", addr, VerifyProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker pool.
func (s *Server) Stop() {
	s.pool.Stop()
}
