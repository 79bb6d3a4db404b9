// Package driver implements the tool-calling loop: the center of this
// module. It appends the user message, dispatches a generate call, consumes the
// provider's event stream, accumulates per-index partial tool calls,
// dispatches tool calls concurrently, and iterates while tool calls
// remain, honoring an iteration bound and a pause-after policy.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/provider"
	"github.com/cueso-tv/cueso/pkg/session"
	"github.com/cueso-tv/cueso/pkg/telemetry"
	"github.com/cueso-tv/cueso/pkg/tool"
)

// Driver is the tool-calling engine. A single Driver value is shared
// across sessions; Provider, Catalog, and Telemetry must all be safe
// for concurrent use.
type Driver struct {
	Provider  provider.Provider
	Catalog   *tool.Catalog
	Telemetry *telemetry.Manager
}

// New builds a Driver. telem may be nil, in which case spans and
// counters are skipped.
func New(p provider.Provider, catalog *tool.Catalog, telem *telemetry.Manager) *Driver {
	return &Driver{Provider: p, Catalog: catalog, Telemetry: telem}
}

// Run drives one user turn to completion. sess must already be held
// under the caller's exclusive session lock (see session.Store.WithLock)
// for the whole call; Run never re-enters the store itself. The
// returned channel is lazy and terminates with exactly one Final
// event, unless ctx is cancelled first, in which case the channel is
// closed with no partial assistant message appended to sess.
func (d *Driver) Run(ctx context.Context, sess *session.Session, userMessage chat.Message) <-chan Event {
	out := make(chan Event, 16)
	go d.run(ctx, sess, userMessage, out)
	return out
}

func (d *Driver) run(ctx context.Context, sess *session.Session, userMessage chat.Message, out chan<- Event) {
	defer close(out)

	sess.Append(userMessage)

	sess.IterationCount = 0
	maxIterations := sess.Config.EffectiveMaxIterations()
	var lastContent string

	for sess.IterationCount < maxIterations {
		sess.IterationCount++

		iterCtx := ctx
		if d.Telemetry != nil {
			tctx, sp := d.Telemetry.StartIteration(ctx, sess.ID, sess.IterationCount)
			iterCtx = tctx
			defer sp.End()
		}

		tools := d.Catalog.Definitions(sess.Config.Tools)
		cfg := buildProviderConfig(sess.Config)

		events, err := d.Provider.Stream(iterCtx, sess.Messages, tools, cfg)
		if err != nil {
			if !emit(ctx, out, Event{Type: EventMessageComplete, Content: "", FinishReason: provider.FinishError}) {
				return
			}
			emit(ctx, out, Event{Type: EventFinal, Content: "", IterationCount: sess.IterationCount, Paused: false})
			return
		}

		contentAccum, calls, order, finishReason, cancelled := d.consume(ctx, events, out)
		if cancelled {
			return
		}

		toolCallNames := namesInOrder(calls, order)

		if !emit(ctx, out, Event{
			Type:          EventMessageComplete,
			Content:       contentAccum,
			ToolCallNames: toolCallNames,
			FinishReason:  finishReason,
		}) {
			return
		}

		if finishReason == provider.FinishError {
			emit(ctx, out, Event{Type: EventFinal, Content: contentAccum, IterationCount: sess.IterationCount, Paused: false})
			return
		}

		lastContent = contentAccum

		finalCalls := finalizeCalls(calls, order)
		assistantMsg := chat.Message{
			Role:      chat.RoleAssistant,
			Content:   contentAccum,
			ToolCalls: finalCalls,
		}

		if len(finalCalls) == 0 {
			sess.Append(assistantMsg)
			emit(ctx, out, Event{Type: EventFinal, Content: contentAccum, IterationCount: sess.IterationCount, Paused: false})
			return
		}

		results, ok := d.dispatchTools(ctx, out, finalCalls, calls)
		if !ok {
			return
		}
		sess.Append(assistantMsg)
		for _, res := range results {
			sess.Append(chat.Message{
				Role:       chat.RoleTool,
				Content:    res.Content,
				ToolCallID: res.ToolCallID,
			})
		}

		if d.Catalog.AnyPauseAfter(toolCallNames) {
			emit(ctx, out, Event{Type: EventFinal, Content: "", ToolCallNames: toolCallNames, IterationCount: sess.IterationCount, Paused: true})
			return
		}
	}

	emit(ctx, out, Event{Type: EventFinal, Content: lastContent, IterationCount: sess.IterationCount, Paused: false})
}

// partialCall accumulates one streamed tool call.
type partialCall struct {
	id           string
	name         string
	buf          bytes.Buffer
	ended        bool
	unparseable  bool
}

// consume drains the provider event stream for one iteration, emitting
// driver-level ContentDelta/ToolCallDelta events as it goes, and
// returns the accumulated content, the finalized partial calls keyed
// by stream index, the index order they first appeared in, and the
// terminal finish reason. cancelled is true if ctx was done before a
// MessageEnd was observed, in which case the caller must not emit
// anything further.
func (d *Driver) consume(ctx context.Context, events <-chan provider.Event, out chan<- Event) (content string, calls map[int]*partialCall, order []int, finishReason provider.FinishReason, cancelled bool) {
	calls = make(map[int]*partialCall)
	var accum bytes.Buffer
	sawEnd := false

	for evt := range events {
		switch evt.Type {
		case provider.EventContentDelta:
			accum.WriteString(evt.Text)
			if !emit(ctx, out, Event{Type: EventContentDelta, Text: evt.Text}) {
				return accum.String(), calls, order, finishReason, true
			}
		case provider.EventToolCallStart:
			pc := &partialCall{id: evt.ToolCallID, name: evt.ToolCallName}
			calls[evt.Index] = pc
			order = append(order, evt.Index)
			if !emit(ctx, out, Event{Type: EventToolCallDelta, ToolCallID: pc.id, ToolCallName: pc.name}) {
				return accum.String(), calls, order, finishReason, true
			}
		case provider.EventToolCallArgDelta:
			pc, ok := calls[evt.Index]
			if !ok {
				continue
			}
			pc.buf.WriteString(evt.ArgsFragment)
			frag := evt.ArgsFragment
			if !emit(ctx, out, Event{Type: EventToolCallDelta, ToolCallID: pc.id, ToolCallName: pc.name, InputFragment: &frag}) {
				return accum.String(), calls, order, finishReason, true
			}
		case provider.EventToolCallEnd:
			pc, ok := calls[evt.Index]
			if !ok {
				continue
			}
			pc.ended = true
			if !json.Valid(pc.buf.Bytes()) {
				pc.unparseable = true
			}
		case provider.EventMessageEnd:
			finishReason = evt.FinishReason
			sawEnd = true
		}
	}

	if !sawEnd && ctx.Err() != nil {
		return accum.String(), calls, order, finishReason, true
	}
	return accum.String(), calls, order, finishReason, false
}

func namesInOrder(calls map[int]*partialCall, order []int) []string {
	names := make([]string, 0, len(order))
	for _, idx := range order {
		if pc := calls[idx]; pc != nil {
			names = append(names, pc.name)
		}
	}
	return names
}

func finalizeCalls(calls map[int]*partialCall, order []int) []chat.ToolCall {
	out := make([]chat.ToolCall, 0, len(order))
	for _, idx := range order {
		pc := calls[idx]
		if pc == nil {
			continue
		}
		args := pc.buf.Bytes()
		if pc.unparseable || !json.Valid(args) {
			args = nil
		}
		out = append(out, chat.ToolCall{ID: pc.id, Name: pc.name, Arguments: args})
	}
	return out
}

// dispatchTools executes every finalized call concurrently, emitting a
// ToolResult event as each completes (not necessarily in call order),
// and returns results ordered to match calls for a deterministic
// history append.
func (d *Driver) dispatchTools(ctx context.Context, out chan<- Event, calls []chat.ToolCall, partials map[int]*partialCall) ([]chat.ToolResult, bool) {
	results := make([]chat.ToolResult, len(calls))
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := true

	unparseable := make(map[string]bool, len(calls))
	for _, pc := range partials {
		if pc.unparseable {
			unparseable[pc.id] = true
		}
	}

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call chat.ToolCall) {
			defer wg.Done()

			var res chat.ToolResult
			if unparseable[call.ID] {
				res = chat.ToolResult{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Content:    "tool call arguments were not valid JSON",
					Error:      true,
				}
			} else {
				callCtx := ctx
				if d.Telemetry != nil {
					tctx, tspan := d.Telemetry.StartToolCall(ctx, call.Name, call.ID)
					callCtx = tctx
					defer tspan.End()
				}
				execRes, err := d.Catalog.Execute(callCtx, call)
				if err != nil {
					execRes = chat.ToolResult{
						ToolCallID: call.ID,
						ToolName:   call.Name,
						Content:    fmt.Sprintf("executor error: %v", err),
						Error:      true,
					}
				}
				res = execRes
				if d.Telemetry != nil {
					d.Telemetry.RecordToolDispatch(ctx, call.Name, res.Error)
				}
			}

			mu.Lock()
			results[i] = res
			sent := emit(ctx, out, Event{
				Type:       EventToolResult,
				ToolCallID: res.ToolCallID,
				ToolName:   res.ToolName,
				Result:     res.Content,
				Error:      res.Error,
			})
			if !sent {
				ok = false
			}
			mu.Unlock()
		}(i, call)
	}

	wg.Wait()
	return results, ok
}

func buildProviderConfig(cfg chat.SessionConfig) provider.Config {
	out := provider.Config{SystemPrompt: cfg.SystemPrompt, Extra: cfg.ProviderOverrides}
	if cfg.ProviderOverrides != nil {
		if v, ok := cfg.ProviderOverrides["model"].(string); ok {
			out.Model = v
		}
		if v, ok := cfg.ProviderOverrides["temperature"].(float64); ok {
			out.Temperature = &v
		}
		if v, ok := cfg.ProviderOverrides["max_tokens"].(float64); ok {
			out.MaxTokens = int(v)
		}
	}
	return out
}

// emit sends evt to out, returning false if ctx was cancelled first —
// callers use the return value to unwind without emitting anything
// further, matching the driver's cancellation contract.
func emit(ctx context.Context, out chan<- Event, evt Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- evt:
		return true
	}
}
