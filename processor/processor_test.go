package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/vfunc/config"
	"github.com/timzifer/vfunc/graph"
	"github.com/timzifer/vfunc/telemetry"
	"github.com/timzifer/vfunc/value"
)

const loopDocument = `name: loop
cycle: 10ms
globals:
  - name: total
    type: int
    value: 0
  - name: double
    type: function
    params: [x]
    formula: x * 2
functions:
  - kind: For
    inputs:
      - name: Loops
        type: int
        value: 3
    lists:
      Body:
        functions:
          - kind: Run
            inputs:
              - name: Formula
                type: script
                formula: total = total + double(Index)
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func parseConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Parse("test.yaml", []byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cfg
}

func newProcessor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	proc, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	t.Cleanup(proc.Close)
	return proc
}

type reloadRecorder struct {
	telemetry.Collector
	mu    sync.Mutex
	files []string
}

func (r *reloadRecorder) IncHotReload(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, file)
}

func (r *reloadRecorder) reloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

type counter struct {
	graph.Node
	calls *int
}

func (c *counter) Lists() []graph.ListRef { return nil }

func (c *counter) Process(*graph.Exec, []value.Variable) (bool, error) {
	*c.calls++
	return true, nil
}

func (c *counter) Clone() graph.Function {
	cp := *c
	cp.Node = c.Node.Copy()
	return &cp
}

func TestRunOnceEvaluatesGraph(t *testing.T) {
	proc := newProcessor(t, WithConfig(parseConfig(t, loopDocument)))

	for want := int64(6); want <= 12; want += 6 {
		ok, err := proc.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("run once: %v", err)
		}
		if !ok {
			t.Fatalf("expected graph to complete")
		}
		if got := proc.Globals()["total"]; got != want {
			t.Fatalf("expected total %d, got %v", want, got)
		}
	}
}

func TestRunOnceReportsNodeErrors(t *testing.T) {
	proc := newProcessor(t, WithConfig(parseConfig(t, `functions:
  - kind: Run
    inputs:
      - name: Formula
        type: script
        formula: missing + 1
`)))

	ok, err := proc.RunOnce(context.Background())
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Kind != graph.KindRun {
		t.Fatalf("expected run node error, got %v", err)
	}
}

func TestBuildBranchesAndDisabledNodes(t *testing.T) {
	proc := newProcessor(t, WithConfig(parseConfig(t, `globals:
  - name: flag
    type: bool
    value: false
  - name: hit
    type: text
  - name: skipped
    type: int
functions:
  - kind: Run
    disabled: true
    inputs:
      - name: Formula
        type: script
        formula: skipped = 1
  - kind: If
    inputs:
      - name: Condition
        type: script
        formula: flag
      - name: label
        type: text
        value: other
    lists:
      Then:
        functions:
          - kind: Run
            inputs:
              - name: Formula
                type: script
                formula: hit = "then"
      Otherwise:
        globals:
          - name: suffix
            type: text
            value: "!"
        functions:
          - kind: Run
            inputs:
              - name: Formula
                type: script
                formula: hit = label + suffix
`)))

	if _, err := proc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	globals := proc.Globals()
	if globals["hit"] != "other!" {
		t.Fatalf("expected otherwise branch, got %v", globals["hit"])
	}
	if globals["skipped"] != int64(0) {
		t.Fatalf("disabled node ran: %v", globals["skipped"])
	}
}

func TestBuildFieldTypes(t *testing.T) {
	cfg := &config.Config{Globals: []config.FieldConfig{
		{Name: "price", Type: config.FieldDecimal, Value: "1.25"},
		{Name: "ratio", Type: config.FieldFloat, Value: 2},
		{Name: "items", Type: config.FieldList, Element: config.FieldInt, Value: []interface{}{1, 2, 3}},
		{Name: "pos", Type: config.FieldObject, Object: "Vector", Value: map[string]interface{}{"X": 3.0, "Y": 4.0}},
		{Name: "len", Type: config.FieldFormula, Formula: "pos.Len()", Policy: "cache"},
		{Name: "sq", Type: config.FieldFunction, Params: []string{"v"}, Formula: "v * v"},
		{Name: "note", Type: config.FieldScript, Formula: "sq(2)", Renamable: true},
	}}
	proc := newProcessor(t, WithConfig(cfg))
	globals := proc.Graph().Globals()

	price, _ := globals.Get("price")
	if d, ok := value.Payload(price.Value()).(decimal.Decimal); !ok || !d.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected decimal %v", value.Payload(price.Value()))
	}
	ratio, _ := globals.Get("ratio")
	if value.Payload(ratio.Value()) != 2.0 {
		t.Fatalf("unexpected float %v", value.Payload(ratio.Value()))
	}
	items, _ := globals.Get("items")
	if got := value.Payload(items.Value()); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("unexpected list %#v", got)
	}
	pos, _ := globals.Get("pos")
	if got := value.Payload(pos.Value()); got != (Vector{X: 3, Y: 4}) {
		t.Fatalf("unexpected vector %#v", got)
	}
	formulaField, _ := globals.Get("len")
	if f, ok := formulaField.Value().(*value.Formula); !ok || f.Policy != value.CacheUntilChanged {
		t.Fatalf("unexpected formula %#v", formulaField.Value())
	}
	fn, _ := globals.Get("sq")
	if c, ok := fn.Value().(*value.CustomFunction); !ok || c.Body != "v * v" || len(c.Params) != 1 {
		t.Fatalf("unexpected function %#v", fn.Value())
	}
	note, _ := globals.Get("note")
	if !note.Renamable {
		t.Fatalf("expected renamable field")
	}

	results, err := proc.Graph().Session().Engine().Evaluate("test", "pos.Len(); Math.Max(ratio, 5)", globals.Variables())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if results[0] != 5.0 || results[1] != 5.0 {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestBuildRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]*config.Config{
		"unknown kind": {Functions: []config.FunctionConfig{{Kind: "Teleport"}}},
		"unknown list": {Functions: []config.FunctionConfig{{Kind: "Run", Lists: map[string]config.ListConfig{"Body": {}}}}},
		"unknown type": {Globals: []config.FieldConfig{{Name: "x", Type: config.FieldObject, Object: "Socket"}}},
		"bad property": {Globals: []config.FieldConfig{{Name: "x", Type: config.FieldObject, Object: "Vector", Value: map[string]interface{}{"Z": 1.0}}}},
		"bad scalar":   {Globals: []config.FieldConfig{{Name: "x", Type: config.FieldInt, Value: "many"}}},
		"duplicate":    {Globals: []config.FieldConfig{{Name: "x", Type: config.FieldInt}, {Name: "x", Type: config.FieldBool}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(context.Background(), WithLogger(zerolog.Nop()), WithConfig(cfg)); err == nil {
				t.Fatalf("expected build error")
			}
		})
	}
}

func TestWithKindRegistersCustomNodes(t *testing.T) {
	calls := 0
	factory := func(*graph.Graph) (graph.Function, error) {
		return &counter{Node: graph.NewNode("Count"), calls: &calls}, nil
	}
	cfg := parseConfig(t, "functions:\n  - kind: Count\n  - kind: Count\n")
	proc := newProcessor(t, WithConfig(cfg), WithKind("Count", factory))

	if _, err := proc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}

	if _, err := New(context.Background(), WithConfig(cfg), WithKind("Run", factory)); err == nil {
		t.Fatalf("expected duplicate kind error")
	}
	if _, err := New(context.Background(), WithConfig(cfg), WithKind("", factory)); err == nil {
		t.Fatalf("expected empty kind error")
	}
}

func TestWithVariablesPrecedeGlobals(t *testing.T) {
	cfg := parseConfig(t, `globals:
  - name: limit
    type: int
    value: 1
  - name: out
    type: int
functions:
  - kind: Run
    inputs:
      - name: Formula
        type: script
        formula: out = limit
`)
	proc := newProcessor(t, WithConfig(cfg), WithVariables(value.Bind("limit", value.NewIntRef(7))))
	if _, err := proc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := proc.Globals()["out"]; got != int64(7) {
		t.Fatalf("expected ambient limit, got %v", got)
	}
}

func TestNewRequiresConfiguration(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Fatalf("expected error without configuration")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(ctx, WithConfig(&config.Config{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestReloadReplacesGraph(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	writeConfig(t, path, "globals:\n  - name: level\n    type: int\n    value: 1\n")

	recorder := &reloadRecorder{Collector: telemetry.Noop()}
	var reload ReloadFunc
	proc := newProcessor(t,
		WithConfigPath(path, func(fn ReloadFunc) { reload = fn }),
		WithTelemetry(recorder),
	)
	if reload == nil {
		t.Fatalf("expected reload function to be registered")
	}

	writeConfig(t, path, "globals:\n  - name: level\n    type: int\n    value: 2\n")
	if err := reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := proc.Globals()["level"]; got != int64(2) {
		t.Fatalf("expected reloaded level, got %v", got)
	}

	writeConfig(t, path, "globals:\n  - name: level\n    type: nope\n")
	if err := reload(context.Background()); err == nil {
		t.Fatalf("expected invalid configuration error")
	}
	if got := proc.Globals()["level"]; got != int64(2) {
		t.Fatalf("invalid reload replaced graph: %v", got)
	}
	if got := recorder.reloads(); len(got) != 1 || got[0] != path {
		t.Fatalf("unexpected reload metrics %v", got)
	}
}

func TestReloadWithoutPath(t *testing.T) {
	proc := newProcessor(t, WithConfig(&config.Config{}))
	if err := proc.Reload(context.Background()); err == nil {
		t.Fatalf("expected error without configuration path")
	}
}

func TestRunHotReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	document := func(step int) string {
		return "cycle: 5ms\nhot_reload: true\nreload_interval: 5ms\nglobals:\n" +
			"  - name: n\n    type: int\n  - name: step\n    type: int\n    value: " + string(rune('0'+step)) + "\n" +
			"functions:\n  - kind: Run\n    inputs:\n      - name: Formula\n        type: script\n        formula: n = n + step\n"
	}
	writeConfig(t, path, document(1))

	recorder := &reloadRecorder{Collector: telemetry.Noop()}
	proc := newProcessor(t, WithConfigPath(path, nil), WithTelemetry(recorder))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	waitFor(t, func() bool {
		n, _ := proc.Globals()["n"].(int64)
		return n > 0
	})

	writeConfig(t, path, document(5))
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	waitFor(t, func() bool { return proc.Globals()["step"] == int64(5) })

	if err := proc.Run(ctx); err == nil {
		t.Fatalf("expected concurrent run to fail")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := recorder.reloads(); len(got) == 0 || got[0] != path {
		t.Fatalf("expected hot reload metric, got %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
