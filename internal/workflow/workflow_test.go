package workflow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
	"github.com/aescanero/canvas/internal/tasks"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

const examplesDir = "../../examples/workflows"

func fixedUID() string { return "01HZZZZZZZZZZZZZZZZZZZZZZZ" }

func TestLoad_Examples(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(examplesDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			wf, err := Load(f)
			require.NoError(t, err)
			assert.NotEmpty(t, wf.Name)
			assert.Positive(t, wf.Timeout)
			assert.NoError(t, canvas.Validate(wf.Graph))
		})
	}
}

func TestLoad_MathChainGolden(t *testing.T) {
	wf, err := Load(filepath.Join(examplesDir, "math_chain.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Math chain", wf.Name)
	assert.Equal(t, 30*time.Second, wf.Timeout)

	data, err := json.MarshalIndent(wf.Graph, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "math_chain", append(data, '\n'))
}

func TestParse_UIDPlaceholder(t *testing.T) {
	wf, err := Load(filepath.Join(examplesDir, "data_pipeline.yaml"), WithUIDSource(fixedUID))
	require.NoError(t, err)

	chain, ok := wf.Graph.(*canvas.Chain)
	require.True(t, ok)
	first := chain.Tasks[0].(*canvas.Signature)
	assert.Equal(t, fixedUID(), first.Kwargs["uid"])

	// the default source produces a real ULID per load
	a, err := Load(filepath.Join(examplesDir, "data_pipeline.yaml"))
	require.NoError(t, err)
	uid := a.Graph.(*canvas.Chain).Tasks[0].(*canvas.Signature).Kwargs["uid"]
	assert.Len(t, uid, 26)
}

func TestParse_Links(t *testing.T) {
	wf, err := Parse([]byte(`
name: links
graph:
  task: add
  args: [1, 2]
  immutable: true
  options: {max_retries: 1}
  link: {task: double_number}
  link_error: {task: log_error}
`))
	require.NoError(t, err)

	sig := wf.Graph.(*canvas.Signature)
	assert.True(t, sig.Immutable)
	assert.Equal(t, 1, sig.Options.MaxRetries())
	require.NotNil(t, sig.LinkSuccess)
	require.NotNil(t, sig.LinkError)
	assert.Equal(t, "double_number", sig.LinkSuccess.TaskName)
	assert.Equal(t, "log_error", sig.LinkError.TaskName)
	assert.Equal(t, DefaultTimeout, wf.Timeout)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown field":      "name: x\ngraph: {task: add}\nretries: 3\n",
		"unknown step key":   "name: x\ngraph: {task: add, arguments: [1]}\n",
		"missing name":       "graph: {task: add}\n",
		"empty step":         "name: x\ngraph: {}\n",
		"two kinds":          "name: x\ngraph: {task: add, group: [{task: add}]}\n",
		"args on a chain":    "name: x\ngraph: {chain: [{task: add}], args: [1]}\n",
		"group link":         "name: x\ngraph: {task: add, link: {group: [{task: a}]}}\n",
		"chord without body": "name: x\ngraph: {chord: {header: [{task: add}]}}\n",
		"negative timeout":   "name: x\ntimeout: -1s\ngraph: {task: add}\n",
		"bad yaml":           "name: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestExamples_Run(t *testing.T) {
	reg := task.NewRegistry()
	require.NoError(t, tasks.Register(reg, tasks.Deps{}))

	broker := brokermem.NewBroker(zap.NewNop())
	store := storemem.NewResultStore()
	exec := workers.NewExecutor(reg, store, broker, nil, zap.NewNop(), workers.ExecutorConfig{})
	pool := workers.NewPool(4, nil, broker, exec, nil, zap.NewNop(), 0)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
		broker.Close()
	})
	m := orchestrator.NewManager(broker, store, nil, orchestrator.NewValidator(reg), zap.NewNop(), "", 10*time.Millisecond)

	tests := []struct {
		file string
		want any
	}{
		{"math_chain.yaml", 10.0},
		{"chord_math.yaml", -4.0},
		{"list_replacement.yaml", 110.0},
		{"word_count.yaml", map[string]any{
			"the": 2.0, "quick": 1.0, "brown": 1.0, "fox": 1.0,
			"jumps": 1.0, "over": 1.0, "lazy": 1.0, "dog": 1.0,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			wf, err := Load(filepath.Join(examplesDir, tt.file))
			require.NoError(t, err)

			rec, err := m.RunWorkflow(context.Background(), wf.Name, wf.Graph, wf.Timeout)
			require.NoError(t, err)
			require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
			assert.Equal(t, tt.want, rec.Result)
		})
	}
}
