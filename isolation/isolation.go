// Package isolation provisions per-worker scratch directories and
// environment variable sets so parallel workers cannot interfere with
// each other's filesystem state.
package isolation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// Environment variables exposed to tests running inside an isolated
// environment.
const (
	EnvWorkerID      = "TEST_WORKER_ID"
	EnvEnvironmentID = "TEST_ENVIRONMENT_ID"
	EnvTempPath      = "TEST_TEMP_PATH"
	EnvBasePath      = "TEST_BASE_PATH"
	EnvIsolationMode = "TEST_ISOLATION_MODE"
)

// ErrWorkerHasEnvironment is returned when a worker that already owns a
// live environment asks for another one. Callers must clean up first;
// silently discarding the old environment could pull the directory out
// from under a running test.
var ErrWorkerHasEnvironment = errors.New("worker already has an active environment")

// Manager owns all isolated environments. It holds the only reference to
// each environment; release is always explicit via CleanupEnvironment.
type Manager struct {
	baseDir    string
	mu         sync.Mutex
	envs       map[string]*types.IsolatedEnvironment
	workerEnvs map[string]string // worker_id -> environment_id
	log        log.Logger
}

// NewManager creates a manager rooted at baseDir, creating the directory
// if needed. An empty baseDir defaults to a "test_isolation" directory
// under the OS temp dir.
func NewManager(baseDir string, logger log.Logger) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "test_isolation")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating isolation base directory")
	}
	return &Manager{
		baseDir:    baseDir,
		envs:       make(map[string]*types.IsolatedEnvironment),
		workerEnvs: make(map[string]string),
		log:        logger.New("component", "isolation-manager"),
	}, nil
}

// CreateEnvironment allocates a fresh environment for workerID. The
// overrides map is merged over the standard isolation variables. A
// worker may own at most one environment at a time.
func (m *Manager) CreateEnvironment(workerID string, overrides map[string]string) (*types.IsolatedEnvironment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workerEnvs[workerID]; ok {
		return nil, errors.Wrapf(ErrWorkerHasEnvironment, "worker %s", workerID)
	}

	envID := fmt.Sprintf("env-%s-%s", workerID, uuid.New().String()[:8])
	tempPath := filepath.Join(m.baseDir, envID)
	basePath := filepath.Join(tempPath, "workspace")
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating workspace for environment %s", envID)
	}

	envVars := map[string]string{
		EnvWorkerID:      workerID,
		EnvEnvironmentID: envID,
		EnvTempPath:      tempPath,
		EnvBasePath:      basePath,
		EnvIsolationMode: "true",
	}
	for k, v := range overrides {
		envVars[k] = v
	}

	env := &types.IsolatedEnvironment{
		EnvironmentID:        envID,
		WorkerID:             workerID,
		BasePath:             basePath,
		TempPath:             tempPath,
		EnvironmentVariables: envVars,
		Resources:            make(map[string]any),
		CreatedAt:            time.Now(),
	}

	m.envs[envID] = env
	m.workerEnvs[workerID] = envID

	m.log.Info("Created isolated environment", "environment", envID, "worker", workerID, "path", tempPath)
	return env, nil
}

// Environment returns the environment with the given id, or nil.
func (m *Manager) Environment(envID string) *types.IsolatedEnvironment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.envs[envID]
}

// WorkerEnvironment returns the environment owned by workerID, or nil.
func (m *Manager) WorkerEnvironment(workerID string) *types.IsolatedEnvironment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if envID, ok := m.workerEnvs[workerID]; ok {
		return m.envs[envID]
	}
	return nil
}

// AddCleanupCallback registers a callback to run before the environment
// directory is removed.
func (m *Manager) AddCleanupCallback(envID string, cb func() error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[envID]
	if !ok {
		return false
	}
	env.CleanupCallbacks = append(env.CleanupCallbacks, cb)
	return true
}

// AddResource attaches opaque resource data to an environment.
func (m *Manager) AddResource(envID, name string, data any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[envID]
	if !ok {
		return false
	}
	env.Resources[name] = data
	m.log.Debug("Added resource to environment", "environment", envID, "resource", name)
	return true
}

// Resource retrieves resource data previously attached with AddResource.
func (m *Manager) Resource(envID, name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[envID]
	if !ok {
		return nil, false
	}
	data, ok := env.Resources[name]
	return data, ok
}

// CleanupEnvironment runs the environment's cleanup callbacks
// best-effort, removes its temp directory, and drops the worker mapping.
// Unknown ids are a no-op.
func (m *Manager) CleanupEnvironment(envID string) {
	m.mu.Lock()
	env, ok := m.envs[envID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.envs, envID)
	if m.workerEnvs[env.WorkerID] == envID {
		delete(m.workerEnvs, env.WorkerID)
	}
	m.mu.Unlock()

	for _, cb := range env.CleanupCallbacks {
		m.runCallback(envID, cb)
	}

	if err := os.RemoveAll(env.TempPath); err != nil {
		m.log.Error("Failed to remove environment directory", "environment", envID, "path", env.TempPath, "error", err)
	}

	m.log.Info("Cleaned up environment", "environment", envID, "worker", env.WorkerID)
}

func (m *Manager) runCallback(envID string, cb func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Cleanup callback panicked", "environment", envID, "panic", r)
		}
	}()
	if err := cb(); err != nil {
		m.log.Error("Cleanup callback failed", "environment", envID, "error", err)
	}
}

// CleanupAll tears down every live environment. Used at shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.envs))
	for id := range m.envs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CleanupEnvironment(id)
	}
	m.log.Info("Cleaned up all environments", "count", len(ids))
}

// ActiveEnvironments returns the number of live environments.
func (m *Manager) ActiveEnvironments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envs)
}
