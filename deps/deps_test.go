package deps

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

func before(dependent, dependency string) types.TestDependency {
	return types.TestDependency{
		DependentTest:  dependent,
		DependencyTest: dependency,
		Type:           types.DependencyBefore,
	}
}

func TestCanExecuteTest_BeforeDependency(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-b", "test-a"))

	assert.True(t, m.CanExecuteTest("test-a"), "test without dependencies is runnable")
	assert.False(t, m.CanExecuteTest("test-b"), "dependency has not completed")

	m.MarkTestStarted("test-a")
	assert.False(t, m.CanExecuteTest("test-b"), "running is not completed")

	m.MarkTestCompleted("test-a", true)
	assert.True(t, m.CanExecuteTest("test-b"))
}

func TestCanExecuteTest_FailedDependencyStillBlocks(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-b", "test-a"))

	m.MarkTestCompleted("test-a", false)
	assert.False(t, m.CanExecuteTest("test-b"), "a failed dependency never satisfies a before edge")
}

func TestCanExecuteTest_MutexDependency(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(types.TestDependency{
		DependentTest:  "test-b",
		DependencyTest: "test-a",
		Type:           types.DependencyMutex,
	})

	assert.True(t, m.CanExecuteTest("test-b"), "mutex only blocks while the other test runs")

	m.MarkTestStarted("test-a")
	assert.False(t, m.CanExecuteTest("test-b"))

	m.MarkTestCompleted("test-a", false)
	assert.True(t, m.CanExecuteTest("test-b"), "mutex releases on any terminal state")
}

func TestCanExecuteTest_AdvisoryTypesNeverBlock(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(types.TestDependency{
		DependentTest:  "test-b",
		DependencyTest: "test-a",
		Type:           types.DependencyAfter,
	})
	m.AddDependency(types.TestDependency{
		DependentTest:  "test-c",
		DependencyTest: "test-a",
		Type:           types.DependencyParallelSafe,
	})

	assert.True(t, m.CanExecuteTest("test-b"))
	assert.True(t, m.CanExecuteTest("test-c"))
}

func TestGetRunnableTests(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-b", "test-a"))

	runnable := m.GetRunnableTests([]string{"test-a", "test-b", "test-c"})
	assert.Equal(t, []string{"test-a", "test-c"}, runnable)

	m.MarkTestStarted("test-a")
	runnable = m.GetRunnableTests([]string{"test-a", "test-b", "test-c"})
	assert.Equal(t, []string{"test-c"}, runnable, "running tests are not runnable again")

	m.MarkTestCompleted("test-a", true)
	runnable = m.GetRunnableTests([]string{"test-a", "test-b", "test-c"})
	assert.Equal(t, []string{"test-b", "test-c"}, runnable)
}

func TestCompletionCallbacks(t *testing.T) {
	m := NewManager(log.New())

	var gotID string
	var gotSuccess bool
	m.AddCompletionCallback("test-a", func(testID string, success bool) {
		gotID = testID
		gotSuccess = success
	})

	m.MarkTestCompleted("test-a", true)
	assert.Equal(t, "test-a", gotID)
	assert.True(t, gotSuccess)
}

func TestCompletionCallback_PanicIsContained(t *testing.T) {
	m := NewManager(log.New())

	called := false
	m.AddCompletionCallback("test-a", func(string, bool) {
		panic("callback exploded")
	})
	m.AddCompletionCallback("test-a", func(string, bool) {
		called = true
	})

	require.NotPanics(t, func() {
		m.MarkTestCompleted("test-a", false)
	})
	assert.True(t, called, "a panicking callback must not prevent later callbacks")
	assert.Equal(t, types.TestStatusFailed, m.TestStatus("test-a"))
}

func TestDetectCircularDependencies(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-a", "test-b"))
	m.AddDependency(before("test-b", "test-a"))

	cycles := m.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"test-a", "test-b", "test-a"}, cycles[0])
}

func TestDetectCircularDependencies_NoCycle(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-b", "test-a"))
	m.AddDependency(before("test-c", "test-b"))

	assert.Empty(t, m.DetectCircularDependencies())
}

func TestDependencyGraph(t *testing.T) {
	m := NewManager(log.New())
	m.AddDependency(before("test-b", "test-a"))
	m.AddDependency(before("test-c", "test-a"))

	graph := m.DependencyGraph()
	assert.Equal(t, []string{"test-a"}, graph["test-b"])
	assert.Equal(t, []string{"test-a"}, graph["test-c"])
}
