// Package mcp provides MCP (Model Context Protocol) client infrastructure:
// per-service subprocess sessions, the startup tool-descriptor cache, and
// normalization of tool results into rows.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/version"
)

// ToolDescriptor is the cached shape of one tool: name, description and the
// raw input JSON schema. The schema stays loosely typed because the batch
// classifier inspects it duck-typed.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"inputSchema"`
}

// Manager owns the service registry view of MCP: it pre-loads tool
// descriptors at startup and opens short-lived per-turn sessions.
// Thread-safe; the descriptor cache is read-only after PreloadTools.
type Manager struct {
	registry *config.ServiceRegistry
	timeout  time.Duration

	toolCacheMu sync.RWMutex
	toolCache   map[string][]ToolDescriptor

	logger *slog.Logger
}

// NewManager creates a Manager over the configured services.
func NewManager(registry *config.ServiceRegistry, opTimeout time.Duration) *Manager {
	if opTimeout <= 0 {
		opTimeout = OperationTimeout
	}
	return &Manager{
		registry:  registry,
		timeout:   opTimeout,
		toolCache: make(map[string][]ToolDescriptor),
		logger:    slog.Default(),
	}
}

// PreloadTools opens a short-lived session per configured service, lists its
// tools, and caches the descriptors. Failures are logged per service and do
// not abort startup; an error is returned only when every service failed.
func (m *Manager) PreloadTools(ctx context.Context) error {
	var lastErr error
	loaded := 0
	for _, name := range m.registry.Names() {
		sess, err := m.OpenSession(ctx, name)
		if err != nil {
			lastErr = err
			m.logger.Warn("Tool preload failed", "service", name, "error", err)
			continue
		}
		tools, err := sess.ListTools(ctx)
		_ = sess.Close()
		if err != nil {
			lastErr = err
			m.logger.Warn("Tool list failed during preload", "service", name, "error", err)
			continue
		}

		m.toolCacheMu.Lock()
		m.toolCache[name] = tools
		m.toolCacheMu.Unlock()
		loaded++
		m.logger.Info("Preloaded tools", "service", name, "count", len(tools))
	}

	if loaded == 0 && lastErr != nil {
		return fmt.Errorf("all services failed tool preload: %w", lastErr)
	}
	return nil
}

// Tools returns the cached descriptors for a service. Nil when the service
// was never pre-loaded.
func (m *Manager) Tools(service string) []ToolDescriptor {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	return m.toolCache[service]
}

// Close releases the Manager's cached state. Preload sessions are closed
// eagerly after listing, so no transports are live here by shutdown;
// per-turn sessions are owned and closed by their callers.
func (m *Manager) Close() {
	m.toolCacheMu.Lock()
	defer m.toolCacheMu.Unlock()
	m.toolCache = make(map[string][]ToolDescriptor)
}

// OpenSession starts a fresh session against one service. The caller must
// Close it on every exit path; sessions are deliberately short-lived to
// bound subprocess lifetime.
func (m *Manager) OpenSession(ctx context.Context, service string) (*Session, error) {
	serviceCfg, err := m.registry.Get(service)
	if err != nil {
		return nil, fmt.Errorf("service %q not found in registry: %w", service, err)
	}

	transport, err := createTransport(serviceCfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %q: %w", service, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	sess, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer to avoid leaking a
		// stdio child process on failed handshakes.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("failed to connect to %q: %w", service, err)
	}

	return &Session{
		service: service,
		client:  client,
		sess:    sess,
		cfg:     serviceCfg,
		timeout: m.timeout,
		logger:  m.logger.With("service", service),
	}, nil
}

// Session is one short-lived connection to a tool service.
// Not safe for concurrent use; each turn owns its session exclusively.
type Session struct {
	service string
	client  *mcpsdk.Client
	sess    *mcpsdk.ClientSession
	cfg     *config.ServiceConfig
	timeout time.Duration
	logger  *slog.Logger
}

// Service returns the service name this session targets.
func (s *Session) Service() string { return s.service }

// ListTools lists the service's tools and converts them to descriptors.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.sess.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", s.service, err)
	}

	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schemaToMap(tool.InputSchema),
		})
	}
	return descriptors, nil
}

// CallTool executes one tool call with the per-call deadline. Read-only
// calls are retried at most once (with session recreation on transport
// failures); mutating tools are never retried automatically.
func (s *Session) CallTool(ctx context.Context, toolName string, args map[string]any) (*CallResult, error) {
	result, err := s.callOnce(ctx, toolName, args)
	if err == nil {
		return result, nil
	}

	if IsMutatingTool(toolName) {
		return nil, err
	}
	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	s.logger.Info("Tool call failed, retrying",
		"tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := s.reconnect(ctx); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", s.service, err)
		}
	}

	result, err = s.callOnce(ctx, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", s.service, toolName, err)
	}
	return result, nil
}

// callOnce performs a single tool call attempt and normalizes the result.
func (s *Session) callOnce(ctx context.Context, toolName string, args map[string]any) (*CallResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.sess.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return normalizeResult(raw), nil
}

// reconnect tears down and re-establishes the underlying session.
func (s *Session) reconnect(ctx context.Context) error {
	_ = s.sess.Close()

	transport, err := createTransport(s.cfg.Transport)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	sess, err := s.client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return err
	}
	s.sess = sess
	return nil
}

// Close shuts the session down, terminating a stdio subprocess.
func (s *Session) Close() error {
	return s.sess.Close()
}

// schemaToMap converts the SDK's typed schema into the loose map the batch
// classifier and prompt builder consume.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
