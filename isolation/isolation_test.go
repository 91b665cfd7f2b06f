package isolation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), log.New())
	require.NoError(t, err)
	return m
}

func TestCreateEnvironment(t *testing.T) {
	m := newTestManager(t)

	env, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	assert.Equal(t, "worker-1", env.WorkerID)
	assert.NotEmpty(t, env.EnvironmentID)
	assert.DirExists(t, env.TempPath)
	assert.DirExists(t, env.BasePath)
	assert.Equal(t, filepath.Join(env.TempPath, "workspace"), env.BasePath)

	assert.Equal(t, "worker-1", env.EnvironmentVariables[EnvWorkerID])
	assert.Equal(t, env.EnvironmentID, env.EnvironmentVariables[EnvEnvironmentID])
	assert.Equal(t, env.TempPath, env.EnvironmentVariables[EnvTempPath])
	assert.Equal(t, env.BasePath, env.EnvironmentVariables[EnvBasePath])
	assert.Equal(t, "true", env.EnvironmentVariables[EnvIsolationMode])
}

func TestCreateEnvironment_Overrides(t *testing.T) {
	m := newTestManager(t)

	env, err := m.CreateEnvironment("worker-1", map[string]string{
		"BROWSER":        "chrome",
		EnvWorkerID:      "someone-else",
		EnvIsolationMode: "false",
	})
	require.NoError(t, err)

	assert.Equal(t, "chrome", env.EnvironmentVariables["BROWSER"])
	assert.Equal(t, "someone-else", env.EnvironmentVariables[EnvWorkerID], "overrides win over standard variables")
	assert.Equal(t, "false", env.EnvironmentVariables[EnvIsolationMode])
}

func TestCreateEnvironment_SecondEnvironmentRejected(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	_, err = m.CreateEnvironment("worker-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, errors.Cause(err), ErrWorkerHasEnvironment)
}

func TestWorkerEnvironment(t *testing.T) {
	m := newTestManager(t)

	assert.Nil(t, m.WorkerEnvironment("worker-1"))

	env, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	got := m.WorkerEnvironment("worker-1")
	require.NotNil(t, got)
	assert.Equal(t, env.EnvironmentID, got.EnvironmentID)
	assert.Equal(t, env, m.Environment(env.EnvironmentID))
}

func TestCleanupEnvironment(t *testing.T) {
	m := newTestManager(t)

	env, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	cleaned := false
	require.True(t, m.AddCleanupCallback(env.EnvironmentID, func() error {
		cleaned = true
		return nil
	}))

	m.CleanupEnvironment(env.EnvironmentID)

	assert.True(t, cleaned)
	assert.NoDirExists(t, env.TempPath)
	assert.Nil(t, m.WorkerEnvironment("worker-1"))
	assert.Equal(t, 0, m.ActiveEnvironments())

	// The worker may now get a fresh environment.
	_, err = m.CreateEnvironment("worker-1", nil)
	assert.NoError(t, err)
}

func TestCleanupEnvironment_CallbackFailuresDoNotAbort(t *testing.T) {
	m := newTestManager(t)

	env, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	secondRan := false
	m.AddCleanupCallback(env.EnvironmentID, func() error {
		panic("cleanup exploded")
	})
	m.AddCleanupCallback(env.EnvironmentID, func() error {
		return errors.New("cleanup failed")
	})
	m.AddCleanupCallback(env.EnvironmentID, func() error {
		secondRan = true
		return nil
	})

	require.NotPanics(t, func() {
		m.CleanupEnvironment(env.EnvironmentID)
	})
	assert.True(t, secondRan, "later callbacks still run after a panic")
	assert.NoDirExists(t, env.TempPath, "directory is removed even when callbacks fail")
}

func TestCleanupEnvironment_UnknownIDIsNoop(t *testing.T) {
	m := newTestManager(t)
	assert.NotPanics(t, func() {
		m.CleanupEnvironment("env-does-not-exist")
	})
}

func TestResources(t *testing.T) {
	m := newTestManager(t)

	env, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)

	assert.True(t, m.AddResource(env.EnvironmentID, "session", "abc123"))
	data, ok := m.Resource(env.EnvironmentID, "session")
	require.True(t, ok)
	assert.Equal(t, "abc123", data)

	_, ok = m.Resource(env.EnvironmentID, "missing")
	assert.False(t, ok)
	assert.False(t, m.AddResource("env-unknown", "session", "abc123"))
}

func TestCleanupAll(t *testing.T) {
	m := newTestManager(t)

	env1, err := m.CreateEnvironment("worker-1", nil)
	require.NoError(t, err)
	env2, err := m.CreateEnvironment("worker-2", nil)
	require.NoError(t, err)

	m.CleanupAll()

	assert.Equal(t, 0, m.ActiveEnvironments())
	assert.NoDirExists(t, env1.TempPath)
	assert.NoDirExists(t, env2.TempPath)
}

func TestNewManager_DefaultBaseDir(t *testing.T) {
	m, err := NewManager("", log.New())
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(os.TempDir(), "test_isolation"))
	_ = m
}
