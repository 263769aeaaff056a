// Package control exposes the scheduler as MCP tools over stdio.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"chime/internal/reminder"
	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

const (
	serverName     = "chime"
	defaultPreview = 5
	maxPreview     = 50
)

// Scheduler is the subset of scheduler.Service the tools drive.
type Scheduler interface {
	Create(ctx context.Context, in reminder.Input) (reminder.Reminder, error)
	Update(ctx context.Context, id string, in reminder.Input) (reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) (reminder.Reminder, error)
	Get(id string) (reminder.Reminder, error)
	List() []reminder.Reminder
	History(id string) ([]reminder.HistoryEntry, error)
	Preview(id string, n int) ([]time.Time, error)
	Location() *time.Location
	Now() time.Time
}

type Option func(*Server)

// WithStatus adds a status tool that returns fn's result as JSON.
func WithStatus(fn func() any) Option { return func(s *Server) { s.status = fn } }

// Server is the MCP server for reminder management.
type Server struct {
	mcp    *server.MCPServer
	sched  Scheduler
	log    logx.Logger
	status func() any
}

func NewServer(sched Scheduler, version string, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{sched: sched, log: log}
	for _, o := range opts {
		o(s)
	}
	s.mcp = server.NewMCPServer(serverName, version, server.WithToolCapabilities(false), server.WithRecovery())
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is done or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(logWriter{s.log}, "", 0))
	s.log.Info("control surface listening on stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// logWriter routes the MCP library's error logger into logx.
type logWriter struct{ log logx.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Warn(string(bytes.TrimSpace(p)))
	return len(p), nil
}

func scheduleParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("message", mcp.Description("Text shown when the reminder fires")),
		mcp.WithString("kind", mcp.Description("relative (after a delay) or absolute (at a time of day)"), mcp.Enum("relative", "absolute")),
		mcp.WithNumber("delay_hours", mcp.Description("relative: hours of delay")),
		mcp.WithNumber("delay_minutes", mcp.Description("relative: minutes of delay")),
		mcp.WithNumber("repeat_count", mcp.Description("relative: total fires; 0 fires once")),
		mcp.WithNumber("hour", mcp.Description("absolute: hour 0-23")),
		mcp.WithNumber("minute", mcp.Description("absolute: minute 0-59")),
		mcp.WithString("recurrence", mcp.Description("absolute: none, daily, weekly or monthly"), mcp.Enum("none", "daily", "weekly", "monthly")),
		mcp.WithArray("weekdays", mcp.Description("weekly: days 0=Sunday..6=Saturday"), mcp.Items(map[string]any{"type": "integer", "minimum": 0, "maximum": 6})),
		mcp.WithNumber("day_of_month", mcp.Description("monthly: day 1-31; short months clamp to their last day")),
		mcp.WithNumber("tz_offset_hours", mcp.Description("absolute: UTC offset in hours (-12..14, quarter hours); default is the daemon timezone")),
		mcp.WithString("channel", mcp.Description("push, popup or both (default popup)"), mcp.Enum("push", "popup", "both")),
		mcp.WithBoolean("enabled", mcp.Description("Arm the reminder (default true)")),
	}
}

func idParam() mcp.ToolOption {
	return mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID"))
}

func (s *Server) registerTools() {
	add := append([]mcp.ToolOption{mcp.WithDescription("Create a reminder that fires after a delay or at a time of day")}, scheduleParams()...)
	s.mcp.AddTool(mcp.NewTool("add_reminder", add...), s.handleAdd)

	s.mcp.AddTool(mcp.NewTool("list_reminders",
		mcp.WithDescription("List reminders ordered by creation"),
		mcp.WithBoolean("enabled_only", mcp.Description("Only armed reminders")),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("get_reminder",
		mcp.WithDescription("Get one reminder"),
		idParam(),
	), s.handleGet)

	upd := append([]mcp.ToolOption{
		mcp.WithDescription("Edit a reminder; omitted fields keep their value and the next fire time is recomputed from now"),
		idParam(),
	}, scheduleParams()...)
	s.mcp.AddTool(mcp.NewTool("update_reminder", upd...), s.handleUpdate)

	s.mcp.AddTool(mcp.NewTool("toggle_reminder",
		mcp.WithDescription("Enable a disabled reminder (recomputing its next fire time) or disable an enabled one"),
		idParam(),
	), s.handleToggle)

	s.mcp.AddTool(mcp.NewTool("delete_reminder",
		mcp.WithDescription("Delete a reminder permanently"),
		idParam(),
	), s.handleDelete)

	s.mcp.AddTool(mcp.NewTool("reminder_history",
		mcp.WithDescription("List past fires of a reminder"),
		idParam(),
	), s.handleHistory)

	next := append([]mcp.ToolOption{
		mcp.WithDescription("Preview upcoming fire times of a stored reminder (id) or of an unsaved schedule"),
		mcp.WithString("id", mcp.Description("Reminder ID; omit to preview the schedule fields instead")),
		mcp.WithNumber("n", mcp.Description("How many occurrences (default 5, max 50)")),
	}, scheduleParams()...)
	s.mcp.AddTool(mcp.NewTool("next_occurrences", next...), s.handleNext)

	if s.status != nil {
		s.mcp.AddTool(mcp.NewTool("status",
			mcp.WithDescription("Daemon status: armed reminders, workers and recent notifications"),
		), s.handleStatus)
	}
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in reminder.Input
	if err := applyArgs(&in, req.GetArguments()); err != nil {
		return toolError(err), nil
	}
	r, err := s.sched.Create(ctx, in)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(present(r))
}

func (s *Server) handleList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabledOnly := req.GetBool("enabled_only", false)
	out := []view{}
	for _, r := range s.sched.List() {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, present(r))
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(out)
}

func (s *Server) handleGet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.sched.Get(id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(present(r))
}

func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cur, err := s.sched.Get(id)
	if err != nil {
		return toolError(err), nil
	}
	in := reminder.InputFrom(cur)
	// Enabled is left to the scheduler, which reads it under its own lock,
	// unless the caller names it.
	in.Enabled = nil
	if err := applyArgs(&in, req.GetArguments()); err != nil {
		return toolError(err), nil
	}
	r, err := s.sched.Update(ctx, id, in)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(present(r))
}

func (s *Server) handleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.sched.Toggle(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(present(r))
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sched.Delete(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s deleted.", id)), nil
}

func (s *Server) handleHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := s.sched.History(id)
	if err != nil {
		return toolError(err), nil
	}
	if len(h) == 0 {
		return mcp.NewToolResultText("No fires recorded yet."), nil
	}
	return jsonResult(h)
}

func (s *Server) handleNext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := min(max(req.GetInt("n", defaultPreview), 1), maxPreview)

	var (
		times []time.Time
		err   error
	)
	if id := req.GetString("id", ""); id != "" {
		times, err = s.sched.Preview(id, n)
	} else {
		var in reminder.Input
		if err := applyArgs(&in, req.GetArguments()); err != nil {
			return toolError(err), nil
		}
		if in.Message == "" {
			in.Message = "preview"
		}
		times, err = previewInput(in, s.sched.Now(), n, s.sched.Location())
	}
	if err != nil {
		return toolError(err), nil
	}
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, t.Format(time.RFC3339))
	}
	return jsonResult(out)
}

func (s *Server) handleStatus(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status())
}

// previewInput validates in and lists its next n occurrences after now.
func previewInput(in reminder.Input, now time.Time, n int, loc *time.Location) ([]time.Time, error) {
	d, err := in.Validate()
	if err != nil {
		return nil, err
	}
	return schedule.Preview(d.Schedule, now, n, loc)
}

// applyArgs overlays tool arguments onto in. Keys that are not Input
// fields (id, n, enabled_only) are ignored.
func applyArgs(in *reminder.Input, args map[string]any) error {
	fields := make(map[string]any, len(args))
	for k, v := range args {
		switch k {
		case "id", "n", "enabled_only":
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return &reminder.ValidationError{Field: te.Field, Reason: fmt.Sprintf("expected %s", te.Type)}
		}
		return &reminder.ValidationError{Field: "arguments", Reason: err.Error()}
	}
	return nil
}

// view is the tool-facing rendering of a reminder.
type view struct {
	reminder.Reminder
	Summary string `json:"summary"`
	Fired   int    `json:"fired"`
}

func present(r reminder.Reminder) view {
	return view{Reminder: r, Summary: r.Schedule.Describe(), Fired: len(r.History)}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func toolError(err error) *mcp.CallToolResult {
	var ve *reminder.ValidationError
	switch {
	case errors.As(err, &ve):
		return mcp.NewToolResultError(ve.Error())
	case errors.Is(err, reminder.ErrNotFound):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, reminder.ErrPersistence):
		return mcp.NewToolResultError("could not save: " + err.Error())
	default:
		return mcp.NewToolResultError(err.Error())
	}
}
