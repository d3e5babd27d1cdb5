// Package agent implements the conversational turn: it assembles
// context from session memory, calls the model, dispatches requested
// tool calls and records the exchange.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/docent/internal/events"
	"github.com/nugget/docent/internal/llm"
	"github.com/nugget/docent/internal/memory"
	"github.com/nugget/docent/internal/prompts"
	"github.com/nugget/docent/internal/tools"
)

// Finish reasons reported in Response.
const (
	FinishStop          = "stop"
	FinishMaxIterations = "max_iterations"
)

// Defaults applied by NewLoop for zero config values.
const (
	DefaultMaxIterations = 8
	DefaultHistoryLimit  = 20
)

// ErrEmptyMessage is returned when a request carries no user text.
var ErrEmptyMessage = errors.New("message is required")

// ErrModel wraps a failed model call. The user message stays recorded
// and no assistant reply is written.
var ErrModel = errors.New("model call failed")

// MemoryStore is the part of session memory the loop needs.
type MemoryStore interface {
	Append(sessionID string, role memory.Role, content string, meta memory.Metadata) (*memory.Message, error)
	Recent(sessionID string, limit int) ([]memory.Message, error)
	RecordToolCall(sessionID, toolName, arguments string) (string, error)
	CompleteToolCall(id, result string) error
}

// Attachment is an uploaded document already stored as a temporary
// group, passed in with its extracted chunk text.
type Attachment struct {
	Title   string
	GroupID string
	Chunks  []string
}

// Request is one user turn.
type Request struct {
	SessionID  string
	Message    string
	Model      string
	Attachment *Attachment
}

// Response is the outcome of one turn.
type Response struct {
	Content         string        `json:"response"`
	SessionID       string        `json:"session_id"`
	Model           string        `json:"model"`
	FinishReason    string        `json:"finish_reason"`
	Iterations      int           `json:"iterations"`
	DocumentGroupID string        `json:"document_group_id,omitempty"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	Latency         time.Duration `json:"-"`
}

// Config bounds and shapes each turn.
type Config struct {
	DefaultModel  string
	MaxIterations int
	HistoryLimit  int
	// Persona replaces the built-in system prompt persona when set.
	Persona string
	// TemporaryTTL is how long attached documents live before expiry.
	TemporaryTTL time.Duration
}

// Loop is the agent execution loop.
type Loop struct {
	logger *slog.Logger
	memory MemoryStore
	llm    llm.Client
	tools  *tools.Registry
	bus    *events.Bus
	cfg    Config
	now    func() time.Time

	// sessions serializes turns per session so memory writes never
	// interleave with another turn's model call on the same session.
	sessions sessionLocks
}

// NewLoop creates an agent loop. bus may be nil.
func NewLoop(logger *slog.Logger, mem MemoryStore, client llm.Client, reg *tools.Registry, bus *events.Bus, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.TemporaryTTL <= 0 {
		cfg.TemporaryTTL = time.Hour
	}
	if reg == nil {
		reg = tools.NewRegistry(logger)
	}
	return &Loop{
		logger: logger.With("component", "agent"),
		memory: mem,
		llm:    client,
		tools:  reg,
		bus:    bus,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Tools returns the registry the loop dispatches to.
func (l *Loop) Tools() *tools.Registry {
	return l.tools
}

// Run executes one conversational turn. A model failure returns an
// error after the user message has been recorded; no assistant message
// is written in that case.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, _ := uuid.NewV7()
		sessionID = id.String()
	}
	unlock, err := l.sessions.lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	defer unlock()

	model := req.Model
	if model == "" {
		model = l.cfg.DefaultModel
	}

	requestID := generateRequestID()
	start := l.now()
	log := l.logger.With("request_id", requestID, "session_id", sessionID)

	var groupID string
	if req.Attachment != nil {
		groupID = req.Attachment.GroupID
	}
	l.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": requestID,
		"session_id": sessionID,
		"attachment": groupID != "",
	})

	// Collecting: the window is read before the new message is stored so
	// it holds exactly the prior history.
	history, err := l.memory.Recent(sessionID, l.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	stored := message
	modelInput := message
	if req.Attachment != nil {
		stored = message + "\n\n" + prompts.AttachmentMarker(req.Attachment.Title, groupID)
		modelInput = prompts.UserMessageWithAttachment(message, prompts.Attachment{
			Title:   req.Attachment.Title,
			GroupID: groupID,
			Chunks:  req.Attachment.Chunks,
			TTL:     formatTTL(l.cfg.TemporaryTTL),
		})
	}
	if _, err := l.memory.Append(sessionID, memory.RoleUser, stored, memory.Metadata{DocumentGroupID: groupID}); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.SystemPrompt(l.cfg.Persona, l.tools.Names(), formatTTL(l.cfg.TemporaryTTL)),
	})
	msgs = append(msgs, historyToLLM(history)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: modelInput})

	toolDefs := l.tools.List()
	resp := &Response{SessionID: sessionID, Model: model, DocumentGroupID: groupID}

	log.Info("turn started", "model", model, "history", len(history), "attachment", groupID != "")

	var lastText string
	nudged := false

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		resp.Iterations = iter + 1

		// Invoking
		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"request_id": requestID,
			"iter":       iter,
			"model":      model,
		})
		llmResp, err := l.llm.Chat(ctx, model, msgs, toolDefs)
		if err != nil {
			log.Error("model call failed", "iter", iter, "error", err)
			l.bus.Emit(events.SourceAgent, events.KindRequestFailed, map[string]any{
				"request_id": requestID,
				"error":      err.Error(),
			})
			return nil, fmt.Errorf("%w: %w", ErrModel, err)
		}
		if llmResp.Model != "" {
			resp.Model = llmResp.Model
		}
		resp.InputTokens += llmResp.InputTokens
		resp.OutputTokens += llmResp.OutputTokens

		calls := llmResp.Message.ToolCalls
		l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
			"request_id": requestID,
			"session_id": sessionID,
			"iter":       iter,
			"model":      resp.Model,
			"tokens_in":  llmResp.InputTokens,
			"tokens_out": llmResp.OutputTokens,
			"tool_calls": len(calls),
		})

		content := strings.TrimSpace(llmResp.Message.Content)
		if content != "" {
			lastText = content
		}

		// ToolDispatch
		if len(calls) > 0 {
			for i := range calls {
				if calls[i].ID == "" {
					calls[i].ID = fmt.Sprintf("call_%d_%d", iter, i)
				}
			}
			msgs = append(msgs, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   llmResp.Message.Content,
				ToolCalls: calls,
			})
			for _, tc := range calls {
				result := l.dispatch(ctx, log, requestID, sessionID, tc)
				msgs = append(msgs, llm.Message{
					Role:       llm.RoleTool,
					Content:    result,
					ToolCallID: tc.ID,
				})
			}
			continue
		}

		if content == "" {
			if !nudged {
				nudged = true
				log.Warn("empty model response, nudging", "iter", iter)
				msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
				continue
			}
			log.Warn("empty model response after nudge", "iter", iter)
			content = prompts.EmptyResponseFallback
		}
		return l.finish(log, requestID, resp, content, FinishStop, start)
	}

	log.Warn("max iterations reached", "max", l.cfg.MaxIterations)
	if lastText == "" {
		lastText = prompts.EmptyResponseFallback
	}
	return l.finish(log, requestID, resp, lastText, FinishMaxIterations, start)
}

// dispatch runs one tool call and records it. It always returns text.
func (l *Loop) dispatch(ctx context.Context, log *slog.Logger, requestID, sessionID string, tc llm.ToolCall) string {
	name := tc.Function.Name
	l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": requestID,
		"tool":       name,
	})

	argsJSON, _ := json.Marshal(tc.Function.Arguments)
	callID, err := l.memory.RecordToolCall(sessionID, name, string(argsJSON))
	if err != nil {
		log.Warn("failed to record tool call", "tool", name, "error", err)
	}

	started := l.now()
	result, ok := l.tools.Execute(ctx, name, tc.Function.Arguments)
	elapsed := l.now().Sub(started)

	if callID != "" {
		if err := l.memory.CompleteToolCall(callID, result); err != nil {
			log.Warn("failed to record tool result", "tool", name, "error", err)
		}
	}

	log.Debug("tool executed", "tool", name, "ok", ok, "elapsed", elapsed)
	l.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  requestID,
		"tool":        name,
		"ok":          ok,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result
}

func (l *Loop) finish(log *slog.Logger, requestID string, resp *Response, content, reason string, start time.Time) (*Response, error) {
	resp.Content = content
	resp.FinishReason = reason
	resp.Latency = l.now().Sub(start)

	meta := memory.Metadata{
		Model:      resp.Model,
		TokenCount: resp.OutputTokens,
		LatencyMs:  resp.Latency.Milliseconds(),
	}
	if _, err := l.memory.Append(resp.SessionID, memory.RoleAssistant, content, meta); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	log.Info("turn complete",
		"model", resp.Model,
		"iterations", resp.Iterations,
		"finish_reason", reason,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed", resp.Latency.Round(time.Millisecond),
	)
	l.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":    requestID,
		"model":         resp.Model,
		"iterations":    resp.Iterations,
		"finish_reason": reason,
		"elapsed_ms":    resp.Latency.Milliseconds(),
	})
	return resp, nil
}

// historyToLLM converts stored messages into model input.
func historyToLLM(history []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		var role string
		switch m.Role {
		case memory.RoleUser:
			role = llm.RoleUser
		case memory.RoleAssistant:
			role = llm.RoleAssistant
		case memory.RoleSystem:
			role = llm.RoleSystem
		default:
			continue
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func formatTTL(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.Round(time.Minute).String()
}

func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
