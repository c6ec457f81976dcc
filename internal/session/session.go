// Package session runs the interactive tool-use protocol for one benchmark
// instance: a strictly sequential loop of model call, response
// classification, and tool execution, under a turn budget and a session
// wall-clock budget. Every session terminates in exactly one result,
// completed or aborted.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/failover"
	"github.com/torosent/gauntlet/internal/modelclient"
	"github.com/torosent/gauntlet/internal/ratelimit"
	"github.com/torosent/gauntlet/internal/tasklib"
	"github.com/torosent/gauntlet/internal/toolsim"
)

const (
	defaultMaxTurns    = 10
	defaultFormatLimit = 3
	defaultSearchLimit = 3
)

// ModelCaller sends one chat request to one deployment.
type ModelCaller interface {
	Call(ctx context.Context, dep config.Deployment, req *modelclient.Request) (*extract.Reply, error)
}

// Params identifies one benchmark instance and its budgets.
type Params struct {
	RunID       string
	ShardID     string
	Model       string
	Variant     string
	Endpoint    config.Endpoint
	Task        *tasklib.Task
	Prompt      string // fully rendered user prompt
	Difficulty  string
	Reliability float64

	MaxTurns         int
	WallClock        time.Duration
	FormatErrorLimit int
	SearchLimit      int
}

// Deps are the shared collaborators a session borrows from its shard.
type Deps struct {
	Caller     ModelCaller
	Limiter    ratelimit.Limiter
	Failover   *failover.Manager
	Executor   toolsim.Executor
	Classifier evaluate.Classifier
	Logger     *slog.Logger
}

// Session is one attempt at one benchmark instance. Not safe for
// concurrent use; concurrency lives across sessions, never inside one.
type Session struct {
	p Params
	d Deps

	transcript []modelclient.Message
	used       []string

	toolCalls    int
	toolFailures int
	argErrors    int
	searches     int
	formatErrors int

	inputTokens  int
	outputTokens int
	waitMS       int64
	modelMS      int64

	lastDeployment string
}

// New builds a session, applying budget defaults and no-op collaborators
// where the shard left them unset.
func New(p Params, d Deps) *Session {
	if p.MaxTurns <= 0 {
		p.MaxTurns = defaultMaxTurns
	}
	if p.FormatErrorLimit <= 0 {
		p.FormatErrorLimit = defaultFormatLimit
	}
	if p.SearchLimit <= 0 {
		p.SearchLimit = defaultSearchLimit
	}
	if d.Executor == nil {
		d.Executor = toolsim.NoOp{}
	}
	if d.Classifier == nil {
		d.Classifier = evaluate.Heuristic{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Session{p: p, d: d}
}

// IsShardFatal reports whether a terminal status must stop the whole
// shard from accepting new sessions. Retrying with the same credential
// cannot succeed, so the shard flushes and exits instead of burning its
// remaining instances.
func IsShardFatal(status string) bool {
	return status == evaluate.StatusAuthRejected
}

// Run drives the protocol to a terminal state and returns the single
// result for this instance. ctx is the shard's context; the session
// layers its own wall-clock budget on top.
func (s *Session) Run(ctx context.Context) collector.Result {
	started := time.Now()
	res := collector.Result{
		SessionID:   ulid.Make().String(),
		RunID:       s.p.RunID,
		ShardID:     s.p.ShardID,
		Model:       s.p.Model,
		Variant:     s.p.Variant,
		TaskType:    s.p.Task.Type,
		Difficulty:  s.p.Difficulty,
		Reliability: s.p.Reliability,
		Endpoint:    s.p.Endpoint.Name,
		StartedAt:   started.UTC(),
	}

	wallCtx := ctx
	if s.p.WallClock > 0 {
		var cancel context.CancelFunc
		wallCtx, cancel = context.WithTimeout(ctx, s.p.WallClock)
		defer cancel()
	}

	s.transcript = []modelclient.Message{
		{Role: "system", Content: systemPrompt(s.p.Task, s.p.Variant)},
		{Role: "user", Content: s.p.Prompt},
	}

	var (
		turns        int
		formatStreak int
		searchStreak int
		output       string
	)
	status := evaluate.StatusCompleted

protocol:
	for {
		reply, err := s.callModel(wallCtx)
		if err != nil {
			status = s.failureStatus(ctx, wallCtx, err)
			break
		}
		turns++
		s.inputTokens += reply.InputTokens
		s.outputTokens += reply.OutputTokens

		action := extract.Classify(*reply)
		s.transcript = append(s.transcript, modelclient.Message{Role: "assistant", Content: assistantText(reply, action)})

		switch action.Kind {
		case extract.KindFinish:
			output = action.Output
			break protocol

		case extract.KindToolCall:
			formatStreak, searchStreak = 0, 0
			if turns >= s.p.MaxTurns {
				status = evaluate.StatusMaxTurns
				break protocol
			}
			s.invokeTool(wallCtx, action)

		case extract.KindSearch:
			formatStreak = 0
			searchStreak++
			s.searches++
			if searchStreak >= s.p.SearchLimit {
				status = evaluate.StatusStuckInSearch
				break protocol
			}
			if turns >= s.p.MaxTurns {
				status = evaluate.StatusMaxTurns
				break protocol
			}
			s.transcript = append(s.transcript, modelclient.Message{Role: "user", Content: searchReply(s.p.Task, action.Query)})

		default:
			searchStreak = 0
			formatStreak++
			s.formatErrors++
			if formatStreak >= s.p.FormatErrorLimit {
				status = evaluate.StatusFormatUnrecoverable
				break protocol
			}
			if turns >= s.p.MaxTurns {
				status = evaluate.StatusMaxTurns
				break protocol
			}
			s.transcript = append(s.transcript, modelclient.Message{Role: "user", Content: correctiveMessage(reply.Text)})
		}
	}

	completed := status == evaluate.StatusCompleted
	score, level := evaluate.Evaluate(s.p.Task, s.used, output, completed)

	res.Status = status
	res.Success = level
	res.Score = score
	res.Turns = turns
	res.ToolCalls = s.toolCalls
	res.ToolFailures = s.toolFailures
	res.Searches = s.searches
	res.FormatErrors = s.formatErrors
	res.ToolsUsed = s.used
	res.InputTokens = s.inputTokens
	res.OutputTokens = s.outputTokens
	res.Deployment = s.lastDeployment
	res.DurationMS = time.Since(started).Milliseconds()
	res.LimiterWaitMS = s.waitMS
	res.ModelTimeMS = s.modelMS
	if level == evaluate.Failure {
		res.ErrorCategory = s.d.Classifier.Classify(evaluate.Outcome{
			Status:       status,
			Completed:    completed,
			Score:        score,
			ToolFailures: s.toolFailures,
			ArgErrors:    s.argErrors,
		})
	}

	s.d.Logger.Debug("session finished",
		"session", res.SessionID,
		"status", status,
		"success", level,
		"turns", turns,
		"tool_calls", s.toolCalls,
	)
	return res
}

// callModel acquires a rate-limit slot, resolves a healthy deployment and
// performs one call. Quota rejections demote the deployment and loop to
// the next healthy one without consuming a turn; the loop is paced by the
// limiter and bounded by the session budgets through ctx.
func (s *Session) callModel(ctx context.Context) (*extract.Reply, error) {
	req := &modelclient.Request{
		Model:    s.p.Model,
		Messages: s.transcript,
		Tools:    s.p.Task.Tools,
	}
	for {
		wait, err := s.d.Limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		s.waitMS += wait.Milliseconds()

		dep, err := s.d.Failover.Pick()
		if err != nil {
			return nil, err
		}
		s.lastDeployment = dep.Name

		callStart := time.Now()
		reply, err := s.d.Caller.Call(ctx, dep, req)
		s.modelMS += time.Since(callStart).Milliseconds()
		if err == nil {
			s.d.Failover.RecordSuccess(dep.Name)
			s.d.Limiter.NoteSuccess()
			return reply, nil
		}

		if modelclient.IsQuota(err) {
			s.d.Logger.Debug("quota rejection, failing over", "deployment", dep.Name, "error", err)
			s.d.Failover.RecordQuota(dep.Name)
			s.d.Limiter.NoteFailover()
			continue
		}
		if modelclient.IsTransient(err) || modelclient.IsTimeout(err) {
			s.d.Limiter.NoteFailure()
		}
		return nil, err
	}
}

// invokeTool runs one requested tool and appends its outcome to the
// transcript. Tool failure is recorded, never terminal.
func (s *Session) invokeTool(ctx context.Context, action extract.Action) {
	s.toolCalls++
	s.used = append(s.used, action.Tool)

	tool, known := s.p.Task.Tool(action.Tool)
	if !known {
		s.transcript = append(s.transcript, modelclient.Message{Role: "user", Content: unknownToolReply(action.Tool)})
		return
	}
	for name := range tool.Parameters {
		if _, ok := action.Args[name]; !ok {
			s.argErrors++
			break
		}
	}

	result, err := s.d.Executor.Execute(ctx, toolsim.Call{
		Tool:        action.Tool,
		Args:        action.Args,
		Reliability: s.p.Reliability,
	})
	if err != nil {
		// The context ended mid-execution; the next model call surfaces
		// the right terminal status.
		s.d.Logger.Debug("tool execution aborted", "tool", action.Tool, "error", err)
		return
	}
	if !result.OK {
		s.toolFailures++
	}
	s.transcript = append(s.transcript, modelclient.Message{Role: "user", Content: toolReply(action.Tool, result)})
}

// failureStatus triages a model-call error into a terminal status. The
// three timeout layers are told apart by which context actually ended:
// the shard's, the session wall clock's, or neither (per-call timeout).
func (s *Session) failureStatus(outer, wall context.Context, err error) string {
	switch {
	case modelclient.IsTimeout(err) || errors.Is(err, context.Canceled):
		if outer.Err() != nil {
			return evaluate.StatusShardTimeout
		}
		if wall.Err() != nil {
			return evaluate.StatusSessionTimeout
		}
		return evaluate.StatusAPITimeout
	case modelclient.IsFatalAuth(err):
		return evaluate.StatusAuthRejected
	case modelclient.IsTransient(err):
		return evaluate.StatusTransportFailure
	default:
		var apiErr *modelclient.APIError
		if errors.As(err, &apiErr) {
			return evaluate.StatusAPIRejected
		}
		return evaluate.StatusTransportFailure
	}
}
