// Package mcp provides an MCP (Model Context Protocol) server exposing
// pullsim simulations and stored run history as tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"

	"github.com/nvandessel/pullsim/internal/logging"
	"github.com/nvandessel/pullsim/internal/store"
)

// Limits bound the work a single tool call may request.
type Limits struct {
	MaxPopulation int
	MaxIterations int
	MaxRounds     int
}

// DefaultLimits returns the per-call bounds used when none are configured.
// Small populations answer in well under a second, but a call at every limit
// can still run for minutes; clients cancel it through the request context.
func DefaultLimits() Limits {
	return Limits{
		MaxPopulation: 1 << 14,
		MaxIterations: 500,
		MaxRounds:     100_000,
	}
}

// Server wraps the MCP SDK server with pullsim tools.
type Server struct {
	server       *sdk.Server
	store        store.RunStore
	root         string
	limits       Limits
	workers      int
	logger       *slog.Logger
	trace        *logging.TrialLogger
	audit        *AuditLogger
	toolLimiters map[string]*rate.Limiter
}

// Config holds server configuration.
type Config struct {
	Name    string // server name reported to clients
	Version string
	Root    string // project root holding .pullsim/

	// Store overrides the SQLite store under Root. The server closes it.
	Store store.RunStore

	Limits  Limits
	Workers int
	Logger  *slog.Logger
	Trace   *logging.TrialLogger
}

// NewServer creates an MCP server with the pullsim tools registered.
func NewServer(cfg *Config) (*Server, error) {
	runStore := cfg.Store
	if runStore == nil {
		s, err := store.NewSQLiteStore(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		runStore = s
	}

	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        runStore,
		root:         cfg.Root,
		limits:       limits,
		workers:      cfg.Workers,
		logger:       logger,
		trace:        cfg.Trace,
		audit:        NewAuditLogger(store.LocalPath(cfg.Root)),
		toolLimiters: newToolLimiters(),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the store and the audit log. It is safe to call twice.
func (s *Server) Close() error {
	s.audit.Close()
	s.audit = nil
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
