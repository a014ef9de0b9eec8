// Package mcp exposes memory operations as MCP tools for LLM agents.
//
// The server speaks stdio and calls a memory.Provider directly: either
// the embedded facade or the platform client, selected once at startup.
// Tool handlers never branch on the mode.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/pkg/memory"
)

// Server exposes memory tools over MCP.
type Server struct {
	mcp      *mcp.Server
	provider memory.Provider
	logger   *zap.Logger

	// defaultUserID is the tenant used when a tool call omits user_id.
	defaultUserID string
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "recalld")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// DefaultUserID is the tenant for tool calls that omit user_id
	// (default: "default_user")
	DefaultUserID string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "recalld",
		Version:       "dev",
		DefaultUserID: "default_user",
		Logger:        zap.NewNop(),
	}
}

// NewServer creates an MCP server backed by the given memory provider.
func NewServer(cfg *Config, provider memory.Provider) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if provider == nil {
		return nil, fmt.Errorf("memory provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "recalld"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = "default_user"
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:           mcpServer,
		provider:      provider,
		logger:        cfg.Logger,
		defaultUserID: cfg.DefaultUserID,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport and blocks until
// the context is canceled or the transport closes.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("default_user_id", s.defaultUserID),
	)
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close closes the underlying memory provider.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server")
	if err := s.provider.Close(); err != nil {
		return fmt.Errorf("memory provider close: %w", err)
	}
	return nil
}

// userOrDefault resolves the effective tenant for a tool call.
func (s *Server) userOrDefault(userID string) string {
	if userID != "" {
		return userID
	}
	return s.defaultUserID
}
