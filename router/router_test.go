package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/forattini-dev/raffel-sub006/envelope"
	"github.com/forattini-dev/raffel-sub006/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnvelope(t *testing.T, procedure string, payload interface{}) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New("req-1", procedure, envelope.TypeRequest, payload)
	if err != nil {
		t.Fatalf("envelope.New returned error: %v", err)
	}
	return env
}

func TestHandle_UnknownProcedureReturnsNotFound(t *testing.T) {
	reg := registry.New()
	r := New(reg, testLogger())
	result := r.Handle(newTestEnvelope(t, "missing.proc", nil))
	if result.Kind != ResultSingle {
		t.Fatalf("result.Kind = %v, want ResultSingle", result.Kind)
	}
	if result.Envelope.Type != envelope.TypeError {
		t.Fatalf("result.Envelope.Type = %v, want error", result.Envelope.Type)
	}
}

func TestHandle_ProcedureSucceeds(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterProcedure("widgets.get", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return map[string]int{"id": 7}, nil
	})
	if err != nil {
		t.Fatalf("RegisterProcedure failed: %v", err)
	}
	r := New(reg, testLogger())
	result := r.Handle(newTestEnvelope(t, "widgets.get", nil))
	if result.Envelope.Type != envelope.TypeResponse {
		t.Fatalf("result.Envelope.Type = %v, want response", result.Envelope.Type)
	}
	var out map[string]int
	if err := result.Envelope.UnmarshalPayload(&out); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if out["id"] != 7 {
		t.Fatalf("out[id] = %d, want 7", out["id"])
	}
}

func TestHandle_GuardDeniesPermission(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterProcedure("widgets.delete",
		func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) { return "ok", nil },
		registry.WithGuard(registry.Deny()),
	)
	if err != nil {
		t.Fatalf("RegisterProcedure failed: %v", err)
	}
	r := New(reg, testLogger())
	result := r.Handle(newTestEnvelope(t, "widgets.delete", nil))
	if result.Envelope.Type != envelope.TypeError {
		t.Fatalf("result.Envelope.Type = %v, want error", result.Envelope.Type)
	}
}

func TestHandle_CallingDepthExceededRejected(t *testing.T) {
	reg := registry.New()
	r := New(reg, testLogger())

	err := reg.RegisterProcedure("recurse", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return ctx.Call("recurse", nil)
	})
	if err != nil {
		t.Fatalf("RegisterProcedure failed: %v", err)
	}

	result := r.Handle(newTestEnvelope(t, "recurse", nil))
	if result.Envelope.Type != envelope.TypeError {
		t.Fatalf("result.Envelope.Type = %v, want error (calling depth exceeded)", result.Envelope.Type)
	}
}

func TestHandle_GlobalInterceptorRunsBeforeHandler(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterProcedure("widgets.get", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return "handler", nil
	})
	if err != nil {
		t.Fatalf("RegisterProcedure failed: %v", err)
	}

	var order []string
	interceptor := func(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
		order = append(order, "before")
		result, err := next()
		order = append(order, "after")
		return result, err
	}

	r := New(reg, testLogger(), interceptor)
	r.Handle(newTestEnvelope(t, "widgets.get", nil))

	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Fatalf("interceptor order = %v, want [before after]", order)
	}
}

func TestHandle_DoubleNextCallReturnsSecondCallResult(t *testing.T) {
	reg := registry.New()
	calls := 0
	err := reg.RegisterProcedure("widgets.get", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		calls++
		return calls, nil
	})
	if err != nil {
		t.Fatalf("RegisterProcedure failed: %v", err)
	}

	buggy := func(env *envelope.Envelope, ctx *envelope.Context, next registry.Next) (interface{}, error) {
		first, err := next()
		second, err2 := next()
		if err2 != nil {
			return nil, err2
		}
		if first == second {
			t.Fatalf("double next() call should re-run the chain, got same result twice: %v", first)
		}
		return second, err
	}

	r := New(reg, testLogger(), buggy)
	r.Handle(newTestEnvelope(t, "widgets.get", nil))

	if calls != 2 {
		t.Fatalf("handler executed %d times, want 2 (second next() should re-run the remainder of the chain)", calls)
	}
}

func TestHandle_StreamProducesChunksThenEnd(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterStream("widgets.watch", func(ctx *envelope.Context, payload json.RawMessage) (<-chan registry.StreamItem, error) {
		ch := make(chan registry.StreamItem, 2)
		ch <- registry.StreamItem{Payload: 1}
		ch <- registry.StreamItem{Payload: 2}
		close(ch)
		return ch, nil
	})
	if err != nil {
		t.Fatalf("RegisterStream failed: %v", err)
	}
	r := New(reg, testLogger())
	result := r.Handle(newTestEnvelope(t, "widgets.watch", nil))
	if result.Kind != ResultStream {
		t.Fatalf("result.Kind = %v, want ResultStream", result.Kind)
	}

	var types []envelope.Type
	for env := range result.Stream {
		types = append(types, env.Type)
	}
	if len(types) != 3 {
		t.Fatalf("got %d envelopes, want 3 (2 chunks + end)", len(types))
	}
	if types[0] != envelope.TypeStreamChunk || types[1] != envelope.TypeStreamChunk {
		t.Fatalf("first two envelopes = %v, want stream:chunk", types[:2])
	}
	if types[2] != envelope.TypeStreamEnd {
		t.Fatalf("last envelope = %v, want stream:end", types[2])
	}
}

func TestContextCall_InvokesAnotherProcedure(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterProcedure("inner", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return "inner-result", nil
	})
	if err != nil {
		t.Fatalf("RegisterProcedure(inner) failed: %v", err)
	}
	err = reg.RegisterProcedure("outer", func(ctx *envelope.Context, payload json.RawMessage) (interface{}, error) {
		return ctx.Call("inner", nil)
	})
	if err != nil {
		t.Fatalf("RegisterProcedure(outer) failed: %v", err)
	}

	r := New(reg, testLogger())
	result := r.Handle(newTestEnvelope(t, "outer", nil))
	var out string
	if err := result.Envelope.UnmarshalPayload(&out); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if out != "inner-result" {
		t.Fatalf("out = %q, want %q", out, "inner-result")
	}
}

type fakeDispatcher struct {
	name    string
	payload json.RawMessage
	called  int
}

func (f *fakeDispatcher) Dispatch(name string, ctx *envelope.Context, payload interface{}) error {
	f.called++
	f.name = name
	f.payload, _ = payload.(json.RawMessage)
	return nil
}

func TestHandle_EventDispatchesThroughInstalledDispatcher(t *testing.T) {
	reg := registry.New()
	var directCalls int
	err := reg.RegisterEvent("widgets.changed", func(ctx *envelope.Context, payload json.RawMessage) error {
		directCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterEvent failed: %v", err)
	}

	r := New(reg, testLogger())
	dispatcher := &fakeDispatcher{}
	r.SetEventDispatcher(dispatcher)

	env := newTestEnvelope(t, "widgets.changed", map[string]int{"id": 1})
	env.Type = envelope.TypeEvent
	r.Handle(env)

	if dispatcher.called != 1 {
		t.Fatalf("dispatcher.Dispatch called %d times, want 1", dispatcher.called)
	}
	if dispatcher.name != "widgets.changed" {
		t.Fatalf("dispatcher.name = %q, want %q", dispatcher.name, "widgets.changed")
	}
	if directCalls != 0 {
		t.Fatalf("handler invoked directly %d times, want 0 (should go through the dispatcher)", directCalls)
	}
}
