package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gnaritas/openclaw-advanced-voice/internal/brain"
	"github.com/gnaritas/openclaw-advanced-voice/internal/calls"
	"github.com/gnaritas/openclaw-advanced-voice/internal/transcript"
)

// ModelConn is the slice of the realtime client the dispatcher writes to.
type ModelConn interface {
	SubmitToolOutput(callID string, output []byte) error
	CreateResponse() error
}

// Backend executes delegated tools and records mission reports.
type Backend interface {
	ExecuteTool(ctx context.Context, req brain.ExecuteToolRequest) (brain.Envelope, error)
	ReportMissionResult(ctx context.Context, req brain.ReportRequest) (brain.ReportResult, error)
}

// Invocation is one function call emitted by the model.
type Invocation struct {
	Name      string
	CallID    string
	Arguments json.RawMessage

	CallSID  string
	Timezone string
}

// Dispatcher resolves tool invocations. Every invocation produces exactly one
// tool output back to the model, and every kind except hang_up triggers a new
// response so the agent keeps talking.
type Dispatcher struct {
	Model    ModelConn
	Backend  Backend
	Registry *calls.Registry
	Recorder *transcript.Recorder
	Log      *slog.Logger

	// EndCall closes the telephony leg after the hang-up grace period.
	EndCall func()

	// HangupGrace lets the model's goodbye audio drain before teardown.
	HangupGrace time.Duration

	// Now is overridable for get_time tests.
	Now func() time.Time
}

// Dispatch runs one invocation to completion. Callers run it on its own
// goroutine; the relay read loops never wait on it.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) {
	d.Recorder.ToolCall(inv.CallID, inv.Name, inv.Arguments)

	kind := ParseKind(inv.Name)
	if kind == KindHangUp {
		d.hangUp(inv)
		return
	}

	var output map[string]any
	switch kind {
	case KindMissionResult:
		output = d.missionResult(ctx, inv)
	case KindGetTime:
		output = d.getTime(inv)
	case KindDelegate:
		output = d.delegate(ctx, inv)
	default:
		d.Log.Warn("unknown tool invoked", "tool", inv.Name, "call_sid", inv.CallSID)
		output = map[string]any{"error": "unknown tool: " + inv.Name, "status": "failed"}
	}

	d.finish(inv, output, true)
}

// hangUp acknowledges locally, then closes the call after a short grace so
// the goodbye audio already in flight can play out. No follow-up response:
// the conversation is over.
func (d *Dispatcher) hangUp(inv Invocation) {
	if inv.CallSID != "" {
		d.Registry.RecordEndedWithoutResult(inv.CallSID, "agent_hung_up")
	}
	d.finish(inv, map[string]any{"status": "hanging_up", "message": "Ending call"}, false)

	grace := d.HangupGrace
	if grace <= 0 {
		grace = time.Second
	}
	time.Sleep(grace)
	if d.EndCall != nil {
		d.EndCall()
	}
}

func (d *Dispatcher) missionResult(ctx context.Context, inv Invocation) map[string]any {
	var args struct {
		Success   bool           `json:"success"`
		Outcome   string         `json:"outcome"`
		Data      map[string]any `json:"data"`
		NextSteps string         `json:"next_steps"`
	}
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		d.Log.Warn("mission_result arguments malformed", "call_sid", inv.CallSID, "error", err)
	}
	if args.Outcome == "" {
		args.Outcome = "No outcome provided"
	}

	d.Log.Info("mission result", "call_sid", inv.CallSID, "success", args.Success, "outcome", args.Outcome)

	if inv.CallSID != "" {
		d.Registry.RecordResult(inv.CallSID, calls.Result{
			Success:   args.Success,
			Outcome:   args.Outcome,
			Data:      args.Data,
			NextSteps: args.NextSteps,
		})
	}
	d.Recorder.MissionResult(inv.CallID, inv.Arguments)

	rep, err := d.Backend.ReportMissionResult(ctx, brain.ReportRequest{
		CallSID:        inv.CallSID,
		Success:        args.Success,
		Outcome:        args.Outcome,
		Data:           args.Data,
		NextSteps:      args.NextSteps,
		TranscriptText: d.Recorder.RenderText(),
	})
	if err != nil {
		d.Log.Warn("mission report failed, recorded locally", "call_sid", inv.CallSID, "error", err)
		return map[string]any{
			"status":  "reported_locally",
			"message": "Mission result recorded locally (backend unavailable)",
		}
	}
	return map[string]any{
		"status":    "reported",
		"message":   "Mission result recorded",
		"report_id": rep.ReportID,
	}
}

func (d *Dispatcher) getTime(inv Invocation) map[string]any {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		d.Log.Warn("get_time arguments malformed", "call_sid", inv.CallSID, "error", err)
	}
	tz := args.Timezone
	if tz == "" {
		tz = inv.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return map[string]any{"error": "unknown timezone: " + tz, "status": "failed"}
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return map[string]any{
		"time":     now().In(loc).Format("03:04 PM MST"),
		"timezone": tz,
	}
}

// delegate routes the remaining tools through the backend under a single
// effective name, normalizing the query/action argument into a task.
func (d *Dispatcher) delegate(ctx context.Context, inv Invocation) map[string]any {
	var args map[string]any
	if err := json.Unmarshal(inv.Arguments, &args); err != nil {
		return map[string]any{"error": "malformed arguments: " + err.Error(), "status": "failed"}
	}
	if args == nil {
		args = map[string]any{}
	}
	if q, ok := args["query"]; ok {
		args["task"] = q
	} else if a, ok := args["action"]; ok {
		args["task"] = a
	}

	env, err := d.Backend.ExecuteTool(ctx, brain.ExecuteToolRequest{
		ToolName:  NameDelegate,
		Arguments: args,
		CallID:    inv.CallID,
		Context:   "Voice call " + inv.CallSID + ": " + inv.Name + " requested",
		CallSID:   inv.CallSID,
	})
	if err != nil {
		d.Log.Warn("backend tool execution failed", "tool", inv.Name, "call_sid", inv.CallSID, "error", err)
		return map[string]any{"error": err.Error(), "status": "failed"}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return map[string]any{"error": msg, "status": "failed"}
	}

	var result map[string]any
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &result); err != nil {
			// Non-object results still go back to the model verbatim.
			result = map[string]any{"result": string(env.Result)}
		}
	}
	if result == nil {
		result = map[string]any{}
	}
	return result
}

// finish submits the tool output and, when respond is set, asks the model
// for a follow-up turn.
func (d *Dispatcher) finish(inv Invocation, output map[string]any, respond bool) {
	payload, err := json.Marshal(output)
	if err != nil {
		payload = []byte(`{"error":"internal encoding failure","status":"failed"}`)
	}
	if err := d.Model.SubmitToolOutput(inv.CallID, payload); err != nil {
		d.Log.Warn("tool output not delivered", "tool", inv.Name, "call_sid", inv.CallSID, "error", err)
		return
	}
	d.Recorder.ToolResult(inv.CallID, payload)
	if respond {
		if err := d.Model.CreateResponse(); err != nil {
			d.Log.Warn("response trigger failed after tool", "tool", inv.Name, "call_sid", inv.CallSID, "error", err)
		}
	}
}
