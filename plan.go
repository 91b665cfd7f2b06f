package coordinator

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// PoolSpec declares a resource pool in an execution plan.
type PoolSpec struct {
	PoolID       string `yaml:"pool_id"`
	ResourceType string `yaml:"resource_type"`
	Capacity     int    `yaml:"capacity"`
}

// Plan is the declarative input for a coordinator run: the workers to
// register, the test groups to distribute, the lockable resources, the
// resource pools, and the inter-test dependencies.
type Plan struct {
	Workers      []types.WorkerNode     `yaml:"workers"`
	Groups       []types.TestGroup      `yaml:"groups"`
	Resources    []types.TestResource   `yaml:"resources"`
	Pools        []PoolSpec             `yaml:"pools"`
	Dependencies []types.TestDependency `yaml:"dependencies"`
	// RequiredResources maps a test id to the resource locks it needs.
	RequiredResources map[string][]string `yaml:"required_resources"`
	// Commands maps a test id to the shell command run for it. A test
	// without a command is skipped.
	Commands map[string]string `yaml:"commands"`
}

// LoadPlan reads and validates an execution plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("reading plan file: %w", err))
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, NewRuntimeError(fmt.Errorf("parsing plan file %s: %w", path, err))
	}
	if err := plan.Validate(); err != nil {
		return nil, NewRuntimeError(err)
	}
	return &plan, nil
}

// Validate checks the plan for structural problems before a run starts.
func (p *Plan) Validate() error {
	if len(p.Workers) == 0 {
		return fmt.Errorf("plan declares no workers")
	}
	seen := make(map[string]bool, len(p.Workers))
	for _, w := range p.Workers {
		if w.WorkerID == "" {
			return fmt.Errorf("worker with empty worker_id")
		}
		if seen[w.WorkerID] {
			return fmt.Errorf("duplicate worker_id %q", w.WorkerID)
		}
		seen[w.WorkerID] = true
	}

	for _, g := range p.Groups {
		if g.GroupID == "" {
			return fmt.Errorf("group with empty group_id")
		}
		if len(g.TestIDs) == 0 {
			return fmt.Errorf("group %q declares no tests", g.GroupID)
		}
	}

	for _, d := range p.Dependencies {
		if !d.Type.Valid() {
			return fmt.Errorf("dependency %s -> %s has unknown type %q",
				d.DependentTest, d.DependencyTest, d.Type)
		}
	}

	for _, ps := range p.Pools {
		if ps.Capacity <= 0 {
			return fmt.Errorf("pool %q has non-positive capacity %d", ps.PoolID, ps.Capacity)
		}
	}
	return nil
}

// Executors builds the executor callbacks for the plan's commands. Each
// callback shells out and reports success on a zero exit code. The
// per-worker isolation variables are in the process environment when
// the callback runs, so commands inherit them.
func (p *Plan) Executors(logger log.Logger) map[string]TestFunc {
	executors := make(map[string]TestFunc, len(p.Commands))
	for testID, command := range p.Commands {
		executors[testID] = func() bool {
			cmd := exec.Command("sh", "-c", command)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				logger.Debug("Test command failed", "test", testID, "command", command, "error", err)
				return false
			}
			return true
		}
	}
	return executors
}

// TestIDs returns every test declared across the plan's groups.
func (p *Plan) TestIDs() []string {
	var all []string
	for _, g := range p.Groups {
		all = append(all, g.TestIDs...)
	}
	return all
}
