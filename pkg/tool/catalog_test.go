package tool

import (
	"context"
	"testing"

	"github.com/cueso-tv/cueso/pkg/chat"
)

type stubExecutor struct {
	result chat.ToolResult
	err    error
	calls  int
}

func (s *stubExecutor) Execute(ctx context.Context, call chat.ToolCall) (chat.ToolResult, error) {
	s.calls++
	return s.result, s.err
}

func TestCatalogRegisterRejectsDuplicateName(t *testing.T) {
	c := NewCatalog()
	def := chat.ToolDefinition{Name: "launch_app"}
	if err := c.Register(def, &stubExecutor{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.Register(def, &stubExecutor{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestCatalogRegisterRejectsEmptyNameOrNilExecutor(t *testing.T) {
	c := NewCatalog()
	if err := c.Register(chat.ToolDefinition{Name: ""}, &stubExecutor{}); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
	if err := c.Register(chat.ToolDefinition{Name: "x"}, nil); err == nil {
		t.Fatalf("expected nil executor to be rejected")
	}
}

func TestCatalogDefinitionsFiltersByNameAndPreservesOrder(t *testing.T) {
	c := NewCatalog()
	must(t, c.Register(chat.ToolDefinition{Name: "a"}, &stubExecutor{}))
	must(t, c.Register(chat.ToolDefinition{Name: "b"}, &stubExecutor{}))
	must(t, c.Register(chat.ToolDefinition{Name: "c"}, &stubExecutor{}))

	all := c.Definitions(nil)
	if len(all) != 3 || all[0].Name != "a" || all[2].Name != "c" {
		t.Fatalf("expected all 3 definitions in registration order, got %v", all)
	}

	subset := c.Definitions([]string{"c", "a", "missing"})
	names := make([]string, len(subset))
	for i, d := range subset {
		names[i] = d.Name
	}
	if len(names) != 2 || names[0] != "c" || names[1] != "a" {
		t.Fatalf("expected [c a] honoring requested order, got %v", names)
	}
}

func TestCatalogExecuteUnknownToolReturnsErrorResultNotGoError(t *testing.T) {
	c := NewCatalog()
	res, err := c.Execute(context.Background(), chat.ToolCall{ID: "1", Name: "nope"})
	if err != nil {
		t.Fatalf("expected nil Go error, got %v", err)
	}
	if !res.Error {
		t.Fatalf("expected Error=true for an unregistered tool")
	}
}

func TestCatalogExecuteValidatesArgumentsBeforeDispatch(t *testing.T) {
	c := NewCatalog()
	exec := &stubExecutor{result: chat.ToolResult{Content: "ok"}}
	def := chat.ToolDefinition{
		Name:        "launch_app",
		InputSchema: &chat.JSONSchema{Type: "object", Required: []string{"app_id"}},
	}
	must(t, c.Register(def, exec))

	res, err := c.Execute(context.Background(), chat.ToolCall{ID: "1", Name: "launch_app", Arguments: []byte(`{}`)})
	if err != nil {
		t.Fatalf("expected nil Go error, got %v", err)
	}
	if !res.Error {
		t.Fatalf("expected a schema validation failure to produce Error=true")
	}
	if exec.calls != 0 {
		t.Fatalf("expected the executor not to run when validation fails, calls=%d", exec.calls)
	}

	res, err = c.Execute(context.Background(), chat.ToolCall{ID: "2", Name: "launch_app", Arguments: []byte(`{"app_id":"12"}`)})
	if err != nil || res.Error {
		t.Fatalf("expected a successful dispatch, got res=%+v err=%v", res, err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected the executor to run exactly once, calls=%d", exec.calls)
	}
}

func TestCatalogAnyPauseAfter(t *testing.T) {
	c := NewCatalog()
	must(t, c.Register(chat.ToolDefinition{Name: "confirm_stop"}, &stubExecutor{}))
	must(t, c.Register(chat.ToolDefinition{Name: "power_off", PauseAfter: true}, &stubExecutor{}))

	if c.AnyPauseAfter([]string{"confirm_stop"}) {
		t.Fatalf("expected no pause_after for confirm_stop alone")
	}
	if !c.AnyPauseAfter([]string{"confirm_stop", "power_off"}) {
		t.Fatalf("expected pause_after=true once power_off is among the names")
	}
	if c.AnyPauseAfter(nil) {
		t.Fatalf("expected no pause_after for an empty name list")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
