// Package relay bridges one telephony media stream to one upstream realtime
// conversation: full-duplex audio forwarding, barge-in, tool dispatch, and
// transcript capture for a single call.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gnaritas/openclaw-advanced-voice/internal/brain"
	"github.com/gnaritas/openclaw-advanced-voice/internal/calls"
	"github.com/gnaritas/openclaw-advanced-voice/internal/realtime"
	"github.com/gnaritas/openclaw-advanced-voice/internal/telephony"
	"github.com/gnaritas/openclaw-advanced-voice/internal/tools"
	"github.com/gnaritas/openclaw-advanced-voice/internal/transcript"
)

// Upstream is the slice of the realtime client the session drives.
type Upstream interface {
	UpdateSession(realtime.SessionConfig) error
	UpdateInstructions(instructions string) error
	AppendAudio(payload string) error
	CreateResponse() error
	CancelResponse(responseID string) error
	CreateUserMessage(text string) error
	ReadEvent() (realtime.Event, error)
	Close() error

	tools.ModelConn
}

// Backend is everything the session needs from the brain client.
type Backend interface {
	tools.Backend
	SaveTranscript(ctx context.Context, upload brain.TranscriptUpload) error
	NarrativeContext(ctx context.Context) string
}

// Session runs one call. Create with NewSession, drive with Run; the session
// owns both connections from then on and closes them at teardown.
type Session struct {
	media    telephony.MediaStream
	ai       Upstream
	registry *calls.Registry
	backend  Backend
	cfg      Config
	log      *slog.Logger

	recorder *transcript.Recorder
	dispatch *tools.Dispatcher
	inflight sync.WaitGroup
	finalize sync.Once

	mu        sync.Mutex
	streamSID string
	callSID   string
	timezone  string
	direction calls.Direction
}

func NewSession(media telephony.MediaStream, ai Upstream, registry *calls.Registry, backend Backend, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		media:    media,
		ai:       ai,
		registry: registry,
		backend:  backend,
		cfg:      cfg,
		log:      log,
		recorder: transcript.NewRecorder(),
	}
	s.dispatch = &tools.Dispatcher{
		Model:       ai,
		Backend:     backend,
		Registry:    registry,
		Recorder:    s.recorder,
		Log:         log,
		EndCall:     func() { _ = media.Close() },
		HangupGrace: cfg.HangupGrace,
	}
	return s
}

// Run drives the call to completion. It returns when both legs are torn down
// and the transcript has been handed off. The passed context cancels the call
// early (server shutdown).
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Instructions stay neutral until the start frame reveals the direction.
	if err := s.ai.UpdateSession(s.initialSessionConfig()); err != nil {
		s.log.Error("session configuration failed", "error", err)
		s.teardown()
		s.conclude()
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		s.telephonyLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.upstreamLoop(ctx)
		done <- struct{}{}
	}()

	// Either leg ending ends the call; closing both unblocks the other loop.
	<-done
	cancel()
	s.teardown()
	<-done

	s.awaitDispatches()
	s.conclude()
}

func (s *Session) initialSessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		Instructions:  s.withNarrative("Awaiting call context."),
		Voice:         s.cfg.Voice,
		Temperature:   s.cfg.Temperature,
		Tools:         tools.Catalog(),
		TurnDetection: s.cfg.TurnDetection,
	}
}

func (s *Session) teardown() {
	_ = s.ai.Close()
	_ = s.media.Close()
}

// awaitDispatches gives in-flight tool dispatches a bounded window to deliver
// their outcome (mission reports in particular) before the transcript is
// sealed. Stragglers are abandoned, not waited on forever.
func (s *Session) awaitDispatches() {
	wait := s.cfg.DispatchWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	settled := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(wait):
		s.log.Warn("tool dispatches still in flight at teardown", "call_sid", s.snapshotCallSID())
	}
}

// conclude seals the transcript, records the terminal status, and hands the
// call log to the backend. Runs at most once.
func (s *Session) conclude() {
	s.finalize.Do(func() {
		s.recorder.CallEnded()

		callSID := s.snapshotCallSID()
		if callSID == "" {
			return
		}
		s.registry.RecordEndedWithoutResult(callSID, "")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		upload := brain.TranscriptUpload{
			CallSID:         callSID,
			StartTime:       s.recorder.StartedAt(),
			EndTime:         s.recorder.StartedAt().Add(s.recorder.Duration()),
			DurationSeconds: s.recorder.Duration().Seconds(),
			Events:          s.recorder.Events(),
			Summary:         s.recorder.Summary(),
		}
		if err := s.backend.SaveTranscript(ctx, upload); err != nil {
			s.log.Warn("transcript upload failed", "call_sid", callSID, "error", err)
		}
	})
}

func (s *Session) snapshotCallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// telephonyLoop consumes the media stream: start frames bootstrap the
// session, media frames feed the input buffer, stop ends the call.
func (s *Session) telephonyLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := s.media.ReadFrame()
		if err != nil {
			return
		}
		switch frame.Event {
		case telephony.EventStart:
			if frame.Start == nil {
				s.log.Warn("start frame without payload")
				continue
			}
			if !s.handleStart(*frame.Start) {
				return
			}
		case telephony.EventMedia:
			if frame.Media == nil {
				continue
			}
			if err := s.ai.AppendAudio(frame.Media.Payload); err != nil {
				s.log.Warn("audio forward failed", "error", err)
				return
			}
		case telephony.EventStop:
			s.log.Info("media stream stopped", "call_sid", s.snapshotCallSID())
			return
		}
	}
}

// handleStart runs the direction-specific bootstrap. Returns false when the
// call must terminate immediately (outbound with no stored mission).
func (s *Session) handleStart(start telephony.StartFrame) bool {
	params := start.CustomParameters
	direction := calls.Direction(params[telephony.ParamCallDirection])
	if direction != calls.DirectionInbound {
		direction = calls.DirectionOutbound
	}
	callSID := start.CallSID
	if callSID == "" {
		callSID = params[telephony.ParamCallSID]
	}
	if callSID == "" {
		callSID = start.StreamSID
	}
	timezone := params[telephony.ParamTimezone]
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}

	s.mu.Lock()
	s.streamSID = start.StreamSID
	s.callSID = callSID
	s.timezone = timezone
	s.direction = direction
	s.mu.Unlock()

	s.log.Info("media stream started",
		"stream_sid", start.StreamSID, "call_sid", callSID, "direction", direction)

	switch direction {
	case calls.DirectionOutbound:
		mission, ok := s.registry.PopMission(callSID)
		if !ok {
			// Outbound calls are mission-only; a generic prompt would let the
			// agent improvise on a live phone line.
			s.log.Error("no stored mission for outbound call, terminating", "call_sid", callSID)
			s.registry.RecordFailed(callSID, calls.FailureReasonMissingMission)
			return false
		}
		if err := s.ai.UpdateInstructions(s.withNarrative(mission)); err != nil {
			s.log.Error("mission instruction update failed", "call_sid", callSID, "error", err)
			return false
		}
	case calls.DirectionInbound:
		if err := s.ai.UpdateInstructions(s.withNarrative(s.inboundInstructions())); err != nil {
			s.log.Error("inbound instruction update failed", "call_sid", callSID, "error", err)
			return false
		}
		// The agent speaks first on inbound calls.
		if err := s.ai.CreateUserMessage(greetingCue); err != nil {
			s.log.Warn("greeting cue injection failed", "call_sid", callSID, "error", err)
		} else if err := s.ai.CreateResponse(); err != nil {
			s.log.Warn("greeting response request failed", "call_sid", callSID, "error", err)
		}
	}

	s.registry.Track(callSID, calls.StatusInProgress, func(c *calls.Call) {
		c.StreamSID = start.StreamSID
		c.Direction = direction
		c.Timezone = timezone
	})
	s.recorder.CallStarted(callSID, start.StreamSID, string(direction))
	return true
}

// upstreamLoop consumes model events: audio back to the caller, transcription
// into the call log, barge-in cancellation, and tool dispatch.
func (s *Session) upstreamLoop(ctx context.Context) {
	activeResponseID := ""

	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := s.ai.ReadEvent()
		if err != nil {
			return
		}

		switch ev.Type {
		case realtime.EventResponseCreated:
			if ev.Response != nil {
				activeResponseID = ev.Response.ID
			}

		case realtime.EventResponseDone:
			for _, text := range ev.Response.MessageText() {
				s.recorder.AssistantMessage(text)
			}
			activeResponseID = ""

		case realtime.EventAudioDelta:
			s.mu.Lock()
			streamSID := s.streamSID
			s.mu.Unlock()
			if streamSID == "" {
				continue
			}
			if err := s.media.WriteMedia(streamSID, ev.Delta); err != nil {
				s.log.Warn("media write failed", "error", err)
				return
			}

		case realtime.EventTranscriptionCompleted:
			if ev.Transcript != "" {
				s.recorder.UserMessage(ev.Transcript)
			}

		case realtime.EventSpeechStarted:
			// Caller interrupted: stop generating and drop queued playback.
			if activeResponseID != "" {
				if err := s.ai.CancelResponse(activeResponseID); err != nil {
					s.log.Warn("response cancel failed", "error", err)
				}
				activeResponseID = ""
			}
			s.mu.Lock()
			streamSID := s.streamSID
			s.mu.Unlock()
			if streamSID != "" {
				_ = s.media.WriteClear(streamSID)
			}

		case realtime.EventFunctionCallDone:
			s.dispatchTool(ctx, ev)

		case realtime.EventError:
			s.log.Error("upstream error event", "event", string(ev.Raw))
			s.recorder.Error(ev.Raw)
		}
	}
}

// dispatchTool runs the invocation on its own goroutine so slow backend tools
// never stall the event loop.
func (s *Session) dispatchTool(ctx context.Context, ev realtime.Event) {
	args := json.RawMessage(ev.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	callSID, timezone := s.callSID, s.timezone
	s.mu.Unlock()

	inv := tools.Invocation{
		Name:      ev.Name,
		CallID:    ev.CallID,
		Arguments: args,
		CallSID:   callSID,
		Timezone:  timezone,
	}
	s.log.Info("tool call", "tool", inv.Name, "call_sid", callSID)

	// Dispatches run past loop cancellation so a backend round-trip racing
	// call teardown can still land within the DispatchWait window.
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch.Dispatch(context.WithoutCancel(ctx), inv)
	}()
}
