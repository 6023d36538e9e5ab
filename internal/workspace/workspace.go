// Package workspace is the config store: one JSON document (tspark.json)
// holding metadata, settings, installed providers, and tool-server configs,
// plus a free-form system-prompt file. All writes are serialized and land on
// disk atomically; setters publish domain events for the façade.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tsparklabs/tspark/internal/events"
	"github.com/tsparklabs/tspark/internal/mcp"
)

const (
	configFileName = "tspark.json"
	promptFileName = "prompt.md"

	// RulesDirName and ReferencesDirName are where fragment files live,
	// relative to the workspace directory.
	RulesDirName      = "rules"
	ReferencesDirName = "references"

	formatVersion = "1"
)

var (
	// ErrNotWorkspace reports a directory that holds no workspace document
	// and was opened without create.
	ErrNotWorkspace = errors.New("not a workspace")

	// ErrInvalidSetting reports a settings write that failed validation.
	ErrInvalidSetting = errors.New("invalid setting value")
)

// Metadata identifies the workspace document.
type Metadata struct {
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"lastAccessed"`
	Version      string    `json:"version"`
}

// document is the serialized shape of tspark.json.
type document struct {
	Metadata   Metadata                     `json:"metadata"`
	Settings   map[string]any               `json:"settings"`
	Providers  map[string]map[string]string `json:"providers"`
	McpServers map[string]*mcp.ServerConfig `json:"mcpServers"`
}

// Workspace is the loaded store. Safe for concurrent use.
type Workspace struct {
	dir    string
	logger *slog.Logger
	bus    *events.Bus

	mu       sync.RWMutex
	doc      document
	degraded bool
}

// Options controls Open.
type Options struct {
	// Create initializes a fresh workspace when the directory holds none.
	Create bool

	Logger *slog.Logger
	Bus    *events.Bus
}

// Open loads the workspace rooted at dir. A missing document is an
// ErrNotWorkspace unless opts.Create is set, in which case the directory is
// initialized with defaults. A corrupt document loads degraded: empty
// sections, warning logged, original file left in place until the first
// write replaces it.
func Open(dir string, opts Options) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	ws := &Workspace{
		dir:    abs,
		logger: logger.With("component", "workspace"),
		bus:    bus,
	}

	path := filepath.Join(abs, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ws.loadDocument(data)

	case os.IsNotExist(err):
		if !opts.Create {
			return nil, fmt.Errorf("%w: %s", ErrNotWorkspace, abs)
		}
		if err := ws.initialize(); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("read %s: %w", configFileName, err)
	}

	ws.normalize()

	if !ws.degraded {
		ws.mu.Lock()
		ws.doc.Metadata.LastAccessed = time.Now().UTC()
		if err := ws.persistLocked(); err != nil {
			ws.mu.Unlock()
			return nil, err
		}
		ws.mu.Unlock()
	}

	return ws, nil
}

// loadDocument parses the raw file, degrading on corrupt JSON.
func (w *Workspace) loadDocument(data []byte) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		w.logger.Warn("workspace document corrupt, loading degraded",
			"file", configFileName, "error", err)
		w.degraded = true
		w.doc = document{
			Metadata: Metadata{Name: filepath.Base(w.dir), Version: formatVersion},
		}
		return
	}
	w.doc = doc
}

// initialize seeds a new workspace: defaults document plus the companion
// files and directories.
func (w *Workspace) initialize() error {
	w.doc = document{
		Metadata: Metadata{
			Name:    filepath.Base(w.dir),
			Created: time.Now().UTC(),
			Version: formatVersion,
		},
		Settings: DefaultSettings(),
	}
	if _, err := EnsureLayout(w.dir); err != nil {
		return err
	}
	return nil
}

// normalize fills nil sections and back-fills server names from map keys.
func (w *Workspace) normalize() {
	if w.doc.Settings == nil {
		w.doc.Settings = make(map[string]any)
	}
	if w.doc.Providers == nil {
		w.doc.Providers = make(map[string]map[string]string)
	}
	if w.doc.McpServers == nil {
		w.doc.McpServers = make(map[string]*mcp.ServerConfig)
	}
	for name, cfg := range w.doc.McpServers {
		if cfg != nil {
			cfg.Name = name
		}
	}
	if w.doc.Metadata.Name == "" {
		w.doc.Metadata.Name = filepath.Base(w.dir)
	}
	if w.doc.Metadata.Version == "" {
		w.doc.Metadata.Version = formatVersion
	}
}

// persistLocked writes the document atomically. Callers hold w.mu.
func (w *Workspace) persistLocked() error {
	data, err := json.MarshalIndent(w.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace document: %w", err)
	}
	if err := atomicWrite(filepath.Join(w.dir, configFileName), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}
	w.degraded = false
	return nil
}

// atomicWrite lands data at path via write-temp-then-rename.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tspark-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Degraded reports whether the last load found a corrupt document.
func (w *Workspace) Degraded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.degraded
}

// Metadata returns a copy of the document metadata.
func (w *Workspace) Metadata() Metadata {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.doc.Metadata
}

// Bus exposes the event bus setters publish on.
func (w *Workspace) Bus() *events.Bus { return w.bus }

// RulesDir is where rule fragments live.
func (w *Workspace) RulesDir() string { return filepath.Join(w.dir, RulesDirName) }

// ReferencesDir is where reference fragments live.
func (w *Workspace) ReferencesDir() string { return filepath.Join(w.dir, ReferencesDirName) }

// --- settings ---

// GetSetting returns the stored value for key.
func (w *Workspace) GetSetting(key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.doc.Settings[key]
	return v, ok
}

// Settings returns a copy of the settings map.
func (w *Workspace) Settings() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]any, len(w.doc.Settings))
	for k, v := range w.doc.Settings {
		out[k] = v
	}
	return out
}

// SetSetting validates value against the schema, persists, and publishes
// settings-changed.
func (w *Workspace) SetSetting(key string, value any) error {
	normalized, err := ValidateSetting(key, value)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.doc.Settings[key] = normalized
	err = w.persistLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.bus.Publish(events.TopicSettingsChanged, key)
	return nil
}

// SystemPath returns the recorded PATH for spawned tool servers, if any.
func (w *Workspace) SystemPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return SettingString(w.doc.Settings, SettingSystemPath)
}

// MostRecentModel splits the stored "pid:modelId" pair.
func (w *Workspace) MostRecentModel() (pid, modelID string, ok bool) {
	w.mu.RLock()
	raw := SettingString(w.doc.Settings, SettingMostRecentModel)
	w.mu.RUnlock()

	pid, modelID, found := strings.Cut(raw, ":")
	if !found || pid == "" || modelID == "" {
		return "", "", false
	}
	return pid, modelID, true
}

// SetMostRecentModel records the last model a session ran with.
func (w *Workspace) SetMostRecentModel(pid, modelID string) error {
	return w.SetSetting(SettingMostRecentModel, pid+":"+modelID)
}

// --- providers ---

// ListProviders returns the installed provider ids, sorted.
func (w *Workspace) ListProviders() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.doc.Providers))
	for pid := range w.doc.Providers {
		out = append(out, pid)
	}
	sort.Strings(out)
	return out
}

// IsInstalled reports whether credentials exist for pid.
func (w *Workspace) IsInstalled(pid string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.doc.Providers[pid]
	return ok
}

// Install stores the credential map for pid, replacing any previous one.
func (w *Workspace) Install(pid string, credentials map[string]string) error {
	if strings.TrimSpace(pid) == "" {
		return fmt.Errorf("provider id must not be empty")
	}

	creds := make(map[string]string, len(credentials))
	for k, v := range credentials {
		creds[k] = v
	}

	w.mu.Lock()
	w.doc.Providers[pid] = creds
	err := w.persistLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.logger.Info("provider installed", "provider", pid)
	w.bus.Publish(events.TopicProvidersChanged, pid)
	return nil
}

// Uninstall removes pid's credentials. Removing an absent provider is a
// no-op.
func (w *Workspace) Uninstall(pid string) error {
	w.mu.Lock()
	_, existed := w.doc.Providers[pid]
	delete(w.doc.Providers, pid)
	var err error
	if existed {
		err = w.persistLocked()
	}
	w.mu.Unlock()
	if err != nil {
		return err
	}

	if existed {
		w.logger.Info("provider uninstalled", "provider", pid)
		w.bus.Publish(events.TopicProvidersChanged, pid)
	}
	return nil
}

// GetProviderCredential reads one credential value.
func (w *Workspace) GetProviderCredential(pid, key string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	creds, ok := w.doc.Providers[pid]
	if !ok {
		return "", false
	}
	v, ok := creds[key]
	return v, ok
}

// SetProviderCredential writes one credential value, installing the
// provider if needed.
func (w *Workspace) SetProviderCredential(pid, key, value string) error {
	if strings.TrimSpace(pid) == "" {
		return fmt.Errorf("provider id must not be empty")
	}

	w.mu.Lock()
	creds, ok := w.doc.Providers[pid]
	if !ok {
		creds = make(map[string]string)
		w.doc.Providers[pid] = creds
	}
	creds[key] = value
	err := w.persistLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.bus.Publish(events.TopicProvidersChanged, pid)
	return nil
}

// --- tool servers ---

// ListToolServers returns clones of every server config, sorted by name.
func (w *Workspace) ListToolServers() []*mcp.ServerConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.doc.McpServers))
	for name := range w.doc.McpServers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*mcp.ServerConfig, 0, len(names))
	for _, name := range names {
		out = append(out, w.doc.McpServers[name].Clone())
	}
	return out
}

// GetToolServer returns a clone of one server config.
func (w *Workspace) GetToolServer(name string) (*mcp.ServerConfig, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cfg, ok := w.doc.McpServers[name]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// SaveToolServer validates and stores cfg under cfg.Name, then publishes
// tools-changed.
func (w *Workspace) SaveToolServer(cfg *mcp.ServerConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config requires a name")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	w.doc.McpServers[cfg.Name] = cfg.Clone()
	err := w.persistLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	w.logger.Info("tool server saved", "server", cfg.Name, "type", cfg.Type)
	w.bus.Publish(events.TopicToolsChanged, cfg.Name)
	return nil
}

// DeleteToolServer removes the named config. Absent names are a no-op.
func (w *Workspace) DeleteToolServer(name string) error {
	w.mu.Lock()
	_, existed := w.doc.McpServers[name]
	delete(w.doc.McpServers, name)
	var err error
	if existed {
		err = w.persistLocked()
	}
	w.mu.Unlock()
	if err != nil {
		return err
	}

	if existed {
		w.logger.Info("tool server deleted", "server", name)
		w.bus.Publish(events.TopicToolsChanged, name)
	}
	return nil
}

// --- system prompt ---

// GetSystemPrompt reads prompt.md fresh so external edits are seen.
func (w *Workspace) GetSystemPrompt() string {
	data, err := os.ReadFile(filepath.Join(w.dir, promptFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("read system prompt", "error", err)
		}
		return ""
	}
	return string(data)
}

// SaveSystemPrompt writes prompt.md atomically.
func (w *Workspace) SaveSystemPrompt(text string) error {
	if err := atomicWrite(filepath.Join(w.dir, promptFileName), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", promptFileName, err)
	}
	return nil
}
