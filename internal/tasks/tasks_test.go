package tasks

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/internal/application/workers"
	brokermem "github.com/aescanero/canvas/pkg/adapters/broker/memory"
	storemem "github.com/aescanero/canvas/pkg/adapters/storage/memory"
	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/mathapi"
	"github.com/aescanero/canvas/pkg/task"
)

func newRegistry(t *testing.T, deps Deps) *task.Registry {
	t.Helper()
	reg := task.NewRegistry()
	require.NoError(t, Register(reg, deps))
	return reg
}

// run executes node on an in-memory stack and waits for its record.
func run(t *testing.T, reg *task.Registry, node canvas.Node) *domain.Record {
	t.Helper()
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
	h, err := m.Submit(context.Background(), node)
	require.NoError(t, err)
	rec, err := h.Get(context.Background(), 10*time.Second)
	require.NoError(t, err)
	return rec
}

func newContext() *task.Context {
	return task.NewContext(context.Background(), "t", "test", 0, zap.NewNop())
}

func TestRegister_OptionalSets(t *testing.T) {
	reg := newRegistry(t, Deps{})
	assert.True(t, reg.Has("add"))
	assert.True(t, reg.Has("double_number_list"))
	assert.True(t, reg.Has("merge_counts"))
	assert.False(t, reg.Has("http.add"))
	assert.False(t, reg.Has("llm.complete"))

	reg = newRegistry(t, Deps{Math: mathapi.NewClient("http://unused", nil)})
	for _, op := range mathapi.Operations() {
		assert.True(t, reg.Has("http."+op), op)
	}
}

func TestArithmetic_MathChain(t *testing.T) {
	reg := newRegistry(t, Deps{})

	// (((1 + 2) - 5) * 15) / -3
	rec := run(t, reg, canvas.Then(
		canvas.Sig("add", 1, 2),
		canvas.Sig("subtract", 5),
		canvas.Sig("multiply", 15),
		canvas.Sig("divide", -3),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, 10.0, rec.Result)
}

func TestArithmetic_ChordMath(t *testing.T) {
	reg := newRegistry(t, Deps{})

	// ((1 + 2) * (10 / 5)) - 10
	rec := run(t, reg, canvas.Then(
		canvas.NewChord(
			canvas.NewGroup(canvas.Sig("add", 1, 2), canvas.Sig("divide", 10, 5)),
			canvas.Sig("multiply"),
		),
		canvas.Sig("subtract", 10),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, -4.0, rec.Result)
}

func TestArithmetic_DivideByZeroFails(t *testing.T) {
	reg := newRegistry(t, Deps{})
	def, err := reg.Resolve("divide")
	require.NoError(t, err)

	_, err = def.Handler(newContext(), []any{1, 0}, nil)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestHTTP_Tasks(t *testing.T) {
	ts := httptest.NewServer(mathapi.NewServer(":0", 0, zap.NewNop()).Router())
	defer ts.Close()
	reg := newRegistry(t, Deps{Math: mathapi.NewClient(ts.URL, nil)})

	rec := run(t, reg, canvas.Then(
		canvas.Sig("http.add", 1, 2),
		canvas.Sig("http.square"),
		canvas.Sig("http.divide", 0),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, 0.0, rec.Result)

	rec = run(t, reg, canvas.Then(canvas.Sig("http.double", 4), canvas.Sig("http.subtract", 1)))
	assert.Equal(t, 7.0, rec.Result)
}

func TestPipeline_DataPipeline(t *testing.T) {
	reg := newRegistry(t, Deps{})
	uid := NewUID()

	rec := run(t, reg, canvas.Then(
		canvas.Sig("download").WithKwargs(map[string]any{
			"uid":         uid,
			"source":      "https://example.com/my_custom_file.pdf",
			"source_type": SourceURL,
		}),
		canvas.Sig("extract"),
		canvas.Sig("chunkenize"),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)

	chunks, ok := rec.Result.([]any)
	require.True(t, ok)
	require.Len(t, chunks, ChunkCount)
	first := chunks[0].(map[string]any)
	assert.Equal(t, uid, first["uid"])
	assert.Equal(t, Bucket+"/"+uid+"/chunks/my_custom_file/chunk_0.txt", first["source"])
	assert.Equal(t, SourceFolder, first["source_type"])
}

func TestPipeline_Stages(t *testing.T) {
	tc := newContext()

	got, err := download(tc, nil, map[string]any{"uid": "", "source": "report.docx", "source_type": "local"})
	require.NoError(t, err)
	doc := got.(Document)
	assert.Len(t, doc.UID, 26)
	assert.Equal(t, Bucket+"/"+doc.UID+"/downloads/report/report.docx", doc.Source)

	got, err = extract(tc, []any{doc.UID, doc.Source, doc.SourceType}, nil)
	require.NoError(t, err)
	assert.Equal(t, Bucket+"/"+doc.UID+"/extractions/report/report.txt", got.(Document).Source)

	got, err = embedding(tc, []any{"u", "s3://b/u/chunks/report/chunk_0.txt", SourceFolder}, nil)
	require.NoError(t, err)
	assert.Equal(t, Bucket+"/u/embeddings/chunk_0/embedding_n.json", got.([]Document)[0].Source)

	_, err = extract(tc, []any{"u"}, nil)
	var te *domain.TaskError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.KindTypeError, te.Kind)
}

func TestLists_ReplacementPipeline(t *testing.T) {
	reg := newRegistry(t, Deps{})

	rec := run(t, reg, canvas.Then(
		canvas.Sig("generate_list", 4),
		canvas.Sig("double_number_list"),
		canvas.Sig("sum_numbers"),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, 20.0, rec.Result)
}

func TestLists_DoubleNumberListResult(t *testing.T) {
	reg := newRegistry(t, Deps{})

	rec := run(t, reg, canvas.Sig("double_number_list", []any{3, 1, 2}))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, []any{6.0, 2.0, 4.0}, rec.Result)
	assert.NotEmpty(t, rec.ForwardID)
}

func TestLists_Handlers(t *testing.T) {
	tc := newContext()

	got, err := generateList(tc, []any{3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	_, err = generateList(tc, []any{-1}, nil)
	assert.Error(t, err)

	got, err = sumNumbers(tc, []any{[]any{1.0, 2.5}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)

	_, err = sumNumbers(tc, []any{[]any{"x"}}, nil)
	assert.Error(t, err)
}

func TestCallbackSignature(t *testing.T) {
	sig, err := callbackSignature("count_words")
	require.NoError(t, err)
	assert.Equal(t, "count_words", sig.TaskName)

	sig, err = callbackSignature(map[string]any{"type": "single", "task": "add", "args": []any{1.0}})
	require.NoError(t, err)
	assert.Equal(t, "add", sig.TaskName)
	assert.Equal(t, []any{1.0}, sig.Args)

	_, err = callbackSignature(3.0)
	assert.Error(t, err)
	_, err = callbackSignature(map[string]any{"type": "group"})
	assert.Error(t, err)
}

func TestWords_FanIn(t *testing.T) {
	reg := newRegistry(t, Deps{})
	text := "a b\nb c\nc c\n"

	rec := run(t, reg, canvas.Then(
		canvas.Sig("split_text", text).WithKwargs(map[string]any{"lines": 1}),
		canvas.Sig("dmap").WithKwargs(map[string]any{"callback": "count_words"}),
		canvas.Sig("merge_counts"),
	))
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, rec.Result)
}

func TestWords_SplitText(t *testing.T) {
	tc := newContext()

	got, err := splitText(tc, []any{"1\n2\n3\n4\n5"}, map[string]any{"lines": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"1\n2\n", "3\n4\n", "5"}, got)

	got, err = splitText(tc, []any{""}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = splitText(tc, []any{"x"}, map[string]any{"lines": 0})
	assert.Error(t, err)
}
