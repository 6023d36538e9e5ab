package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tsparklabs/tspark/internal/agent/providers"
	"github.com/tsparklabs/tspark/internal/events"
	"github.com/tsparklabs/tspark/internal/fragments"
	"github.com/tsparklabs/tspark/internal/mcp"
	"github.com/tsparklabs/tspark/internal/observability"
	"github.com/tsparklabs/tspark/internal/usage"
	"github.com/tsparklabs/tspark/internal/workspace"
	"github.com/tsparklabs/tspark/pkg/models"
)

// UsageRecorder receives per-call token accounting. Implemented by
// *usage.Ledger; nil disables recording.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// ProviderRegistry is the provider surface the agent needs. Implemented by
// *providers.Registry.
type ProviderRegistry interface {
	Descriptors() []providers.Descriptor
	Descriptor(pid string) (providers.Descriptor, bool)
	Installed() []providers.Descriptor
	CreateAdapter(ctx context.Context, pid, modelID string) (providers.Adapter, error)
	ListModels(ctx context.Context, pid string) ([]models.Model, error)
}

// Config assembles an Agent from its owned collaborators. Metrics and Tracer
// are optional; nil disables the corresponding surface.
type Config struct {
	Workspace  *workspace.Workspace
	Rules      *fragments.Store
	References *fragments.Store
	Manager    *mcp.Manager
	Registry   ProviderRegistry
	Usage      UsageRecorder
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Logger     *slog.Logger
}

// Agent is the orchestration surface front-ends drive: provider, tool-server,
// and fragment CRUD pass through to their owners, and sessions are created,
// looked up, and deleted here.
type Agent struct {
	ws         *workspace.Workspace
	rules      *fragments.Store
	references *fragments.Store
	manager    *mcp.Manager
	registry   ProviderRegistry
	usage      UsageRecorder
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	bus        *events.Bus
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds the agent. Workspace, stores, manager, and registry are
// required.
func New(cfg Config) (*Agent, error) {
	if cfg.Workspace == nil || cfg.Rules == nil || cfg.References == nil ||
		cfg.Manager == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("agent: incomplete configuration")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		ws:         cfg.Workspace,
		rules:      cfg.Rules,
		references: cfg.References,
		manager:    cfg.Manager,
		registry:   cfg.Registry,
		usage:      cfg.Usage,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		bus:        cfg.Workspace.Bus(),
		logger:     logger.With("component", "agent"),
		sessions:   make(map[string]*Session),
	}, nil
}

// Workspace returns the backing workspace.
func (a *Agent) Workspace() *workspace.Workspace { return a.ws }

// Registry returns the provider registry.
func (a *Agent) Registry() ProviderRegistry { return a.registry }

// Providers.

// ListProviders returns the descriptors of every known provider.
func (a *Agent) ListProviders() []providers.Descriptor { return a.registry.Descriptors() }

// InstalledProviders returns the descriptors with stored credentials.
func (a *Agent) InstalledProviders() []providers.Descriptor { return a.registry.Installed() }

// InstallProvider stores credentials for a provider.
func (a *Agent) InstallProvider(pid string, credentials map[string]string) error {
	if _, ok := a.registry.Descriptor(pid); !ok {
		return fmt.Errorf("%w: %s", providers.ErrUnknownProvider, pid)
	}
	return a.ws.Install(pid, credentials)
}

// UninstallProvider removes a provider's credentials.
func (a *Agent) UninstallProvider(pid string) error { return a.ws.Uninstall(pid) }

// SetProviderCredential stores one credential value.
func (a *Agent) SetProviderCredential(pid, key, value string) error {
	return a.ws.SetProviderCredential(pid, key, value)
}

// ListModels enumerates the models a provider offers.
func (a *Agent) ListModels(ctx context.Context, pid string) ([]models.Model, error) {
	return a.registry.ListModels(ctx, pid)
}

// Settings.

// GetSetting reads one workspace setting.
func (a *Agent) GetSetting(key string) (any, bool) { return a.ws.GetSetting(key) }

// SetSetting writes one workspace setting after bounds validation.
func (a *Agent) SetSetting(key string, value any) error { return a.ws.SetSetting(key, value) }

// GetSystemPrompt returns the workspace system prompt text.
func (a *Agent) GetSystemPrompt() string { return a.ws.GetSystemPrompt() }

// SaveSystemPrompt replaces the workspace system prompt.
func (a *Agent) SaveSystemPrompt(text string) error { return a.ws.SaveSystemPrompt(text) }

// Tool servers.

// GetAllMcpServers lists the configured tool servers.
func (a *Agent) GetAllMcpServers() []*mcp.ServerConfig { return a.ws.ListToolServers() }

// GetMcpClient returns the live client for a configured server.
func (a *Agent) GetMcpClient(name string) (*mcp.Client, bool) { return a.manager.GetClient(name) }

// SaveMcpServer persists a server config and (re)connects its client. The
// old client, if any, is replaced and disconnected.
func (a *Agent) SaveMcpServer(ctx context.Context, cfg *mcp.ServerConfig, toolsets mcp.ToolsetResolver) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := a.ws.SaveToolServer(cfg); err != nil {
		return err
	}

	client, err := mcp.NewClient(cfg, mcp.ClientOptions{
		Logger:     a.logger,
		SystemPath: a.ws.SystemPath(),
		Toolsets:   toolsets,
	})
	if err != nil {
		return err
	}
	if ok, err := client.Connect(ctx); !ok {
		a.logger.Warn("tool server connect failed", "server", cfg.Name, "error", err)
	}
	a.manager.UpdateClient(cfg.Name, client)
	return nil
}

// DeleteMcpServer removes a server config and shuts its client down.
func (a *Agent) DeleteMcpServer(name string) error {
	if err := a.ws.DeleteToolServer(name); err != nil {
		return err
	}
	a.manager.DeleteClient(name)
	return nil
}

// Fragments.

// ListRules returns all rules sorted by priority then name.
func (a *Agent) ListRules() ([]*models.Fragment, error) { return a.rules.List() }

// GetRule fetches one rule with its body.
func (a *Agent) GetRule(name string) (*models.Fragment, error) { return a.rules.Get(name) }

// SaveRule creates or updates a rule.
func (a *Agent) SaveRule(f *models.Fragment) error { return saveFragment(a.rules, f) }

// DeleteRule removes a rule.
func (a *Agent) DeleteRule(name string) error { return a.rules.Delete(name) }

// ListReferences returns all references sorted by priority then name.
func (a *Agent) ListReferences() ([]*models.Fragment, error) { return a.references.List() }

// GetReference fetches one reference with its body.
func (a *Agent) GetReference(name string) (*models.Fragment, error) { return a.references.Get(name) }

// SaveReference creates or updates a reference.
func (a *Agent) SaveReference(f *models.Fragment) error { return saveFragment(a.references, f) }

// DeleteReference removes a reference.
func (a *Agent) DeleteReference(name string) error { return a.references.Delete(name) }

func saveFragment(store *fragments.Store, f *models.Fragment) error {
	if store.Exists(f.Name) {
		return store.Update(f)
	}
	return store.Create(f)
}

// Sessions.

// CreateSession builds a session seeded from workspace settings and the
// always-include rules, references, and tools. An empty ID gets a generated
// one.
func (a *Agent) CreateSession(id string, opts SessionOptions) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	s := &Session{
		agent:     a,
		id:        id,
		settings:  settingsFromWorkspace(a.ws),
		approvals: make(map[string]bool),
	}
	s.applyOptions(opts)
	if s.providerID == "" {
		if pid, model, ok := a.ws.MostRecentModel(); ok {
			s.providerID, s.modelID = pid, model
		}
	}
	a.seedScope(s)

	a.sessions[id] = s
	if a.metrics != nil {
		a.metrics.ActiveSessions.Inc()
	}
	a.logger.Info("session created", "session", id, "provider", s.providerID, "model", s.modelID)
	return s, nil
}

// seedScope loads every always-include rule, reference, and tool into a new
// session's scope.
func (a *Agent) seedScope(s *Session) {
	if all, err := a.rules.List(); err == nil {
		for _, f := range all {
			if f.Enabled && f.Include == models.IncludeAlways {
				s.rulesInScope = append(s.rulesInScope, f.Name)
			}
		}
	}
	if all, err := a.references.List(); err == nil {
		for _, f := range all {
			if f.Enabled && f.Include == models.IncludeAlways {
				s.referencesInScope = append(s.referencesInScope, f.Name)
			}
		}
	}
	for _, st := range a.manager.GetAllTools() {
		cfg, ok := a.ws.GetToolServer(st.ServerName)
		if !ok {
			continue
		}
		if cfg.IncludeModeFor(st.Tool.Name) == models.IncludeAlways {
			s.includedTools = append(s.includedTools, models.ToolRef{
				ServerName: st.ServerName,
				ToolName:   st.Tool.Name,
			})
		}
	}
}

// GetSession looks a session up by ID.
func (a *Agent) GetSession(id string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	return s, ok
}

// HasSession reports whether a session with this ID exists.
func (a *Agent) HasSession(id string) bool {
	_, ok := a.GetSession(id)
	return ok
}

// DeleteSession removes a session, cancelling any in-flight turn.
func (a *Agent) DeleteSession(id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.abort()
	if a.metrics != nil {
		a.metrics.ActiveSessions.Dec()
	}
	a.logger.Info("session deleted", "session", id)
	return nil
}

// Sessions returns the IDs of all live sessions.
func (a *Agent) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		out = append(out, id)
	}
	return out
}
