package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"
	"github.com/aescanero/canvas/pkg/task"
)

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	// DefaultQueue receives composite deliveries and signatures without a
	// queue option.
	DefaultQueue string

	// RetryDelay is the first retry delay when a signature sets none.
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential retry delay.
	MaxRetryDelay time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.DefaultQueue == "" {
		c.DefaultQueue = ports.DefaultQueue
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Minute
	}
	return c
}

// Executor runs deliveries: it invokes handlers for signatures, expands
// composites into member deliveries and, when a node finishes, resumes the
// composite recorded in the delivery's frame stack.
//
// Any worker can resume any composite. Only the writer whose transition
// actually changed a record continues from it, so a node finished twice
// (redelivery, racing group members) never advances its parent twice.
type Executor struct {
	registry *task.Registry
	store    ports.ResultStore
	broker   ports.Broker
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	cfg      ExecutorConfig
}

// NewExecutor creates a new executor
func NewExecutor(
	registry *task.Registry,
	store ports.ResultStore,
	broker ports.Broker,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	cfg ExecutorConfig,
) *Executor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		store:    store,
		broker:   broker,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Handle processes one delivery. It is a ports.DeliveryHandler. Handler
// failures are recorded, never returned; an error means the store or the
// broker failed and the delivery should be retried.
func (e *Executor) Handle(ctx context.Context, d *ports.Delivery) error {
	if sig, ok := d.Node.(*canvas.Signature); ok {
		return e.runSingle(ctx, d, sig)
	}
	return e.dispatch(ctx, d.Node, d.ID, d.Input, d.HasInput, d.Frame, "")
}

// Dispatch starts node under id as an independent root.
func (e *Executor) Dispatch(ctx context.Context, node canvas.Node, id string) error {
	return e.dispatch(ctx, node, id, nil, false, nil, "")
}

// dispatch creates the record for node and starts it. Signatures are
// published for a worker to pick up; composites are expanded in place,
// which only creates records and publishes, so siblings never wait on
// each other.
func (e *Executor) dispatch(ctx context.Context, node canvas.Node, id string, in any, hasIn bool, frame *ports.Frame, parentID string) error {
	if err := e.ensureRecord(ctx, node, id, parentID); err != nil {
		return err
	}

	switch n := node.(type) {
	case *canvas.Signature:
		return e.publish(ctx, n.Options.Queue(), &ports.Delivery{
			ID:       id,
			Node:     n,
			Input:    in,
			HasInput: hasIn,
			Frame:    frame,
		})

	case *canvas.Chain:
		if ok, err := e.begin(ctx, id); err != nil || !ok {
			return err
		}
		if len(n.Tasks) == 0 {
			return e.complete(ctx, id, domain.StateSuccess, domain.Outcome{Result: in}, frame)
		}
		next := &ports.Frame{Kind: ports.FrameChain, ID: id, Index: 0, Node: n, Parent: frame}
		return e.dispatch(ctx, n.Tasks[0], MemberID(id, 0), in, hasIn, next, id)

	case *canvas.Group:
		if ok, err := e.begin(ctx, id); err != nil || !ok {
			return err
		}
		if len(n.Tasks) == 0 {
			return e.complete(ctx, id, domain.StateSuccess, domain.Outcome{Result: []any{}}, frame)
		}
		for i, member := range n.Tasks {
			next := &ports.Frame{Kind: ports.FrameGroup, ID: id, Index: i, Node: n, Parent: frame}
			if err := e.dispatch(ctx, member, MemberID(id, i), in, hasIn, next, id); err != nil {
				return fmt.Errorf("failed to dispatch group member %d: %w", i, err)
			}
		}
		return nil

	case *canvas.Chord:
		if ok, err := e.begin(ctx, id); err != nil || !ok {
			return err
		}
		next := &ports.Frame{Kind: ports.FrameChordHeader, ID: id, Node: n, Parent: frame}
		return e.dispatch(ctx, n.Header, MemberID(id, 0), in, hasIn, next, id)

	default:
		return fmt.Errorf("%w: unsupported node %T", canvas.ErrInvalidNode, node)
	}
}

// runSingle invokes the handler of one signature. A delivery input is
// prepended as the leading positional argument even when sig.Args is
// non-empty; immutable signatures never receive it.
func (e *Executor) runSingle(ctx context.Context, d *ports.Delivery, sig *canvas.Signature) error {
	logger := e.logger.With(
		zap.String("task_id", d.ID),
		zap.String("task_name", sig.TaskName),
		zap.Int("attempt", d.Attempt))

	if err := e.ensureRecord(ctx, sig, d.ID, ""); err != nil {
		return err
	}
	ok, err := e.begin(ctx, d.ID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("task already finished, skipping delivery")
		return nil
	}

	def, err := e.registry.Resolve(sig.TaskName)
	if err != nil {
		return e.fail(ctx, d, sig, domain.AsTaskError(err))
	}

	args := sig.Args
	if d.HasInput && !sig.Immutable {
		args = append([]any{d.Input}, sig.Args...)
	}
	args, kwargs := task.Adapt(def.Unwrap, args, sig.Kwargs)

	tc := task.NewContext(ctx, d.ID, sig.TaskName, d.Attempt, e.logger)
	start := time.Now()
	result, herr := invoke(def, tc, args, kwargs)
	duration := time.Since(start)

	if herr == nil {
		if repl := tc.Replacement(); repl != nil {
			logger.Info("task replaced itself", zap.String("kind", string(repl.Kind())))
			return e.replace(ctx, d, sig, repl)
		}
		result, herr = normalize(result)
	}

	if herr != nil {
		te := domain.AsTaskError(herr)
		if e.shouldRetry(def, sig, te, d.Attempt) {
			return e.retry(ctx, d, sig, te, logger)
		}
		logger.Warn("task failed",
			zap.String("kind", te.Kind),
			zap.String("error", te.Message),
			zap.Duration("duration", duration))
		e.metrics.RecordTaskCompleted(sig.TaskName, string(domain.StateFailure), duration)
		return e.fail(ctx, d, sig, te)
	}

	logger.Info("task succeeded", zap.Duration("duration", duration))
	e.metrics.RecordTaskCompleted(sig.TaskName, string(domain.StateSuccess), duration)
	return e.succeed(ctx, d, sig, result)
}

// invoke calls the handler, turning a panic into a task error.
func invoke(def *task.Definition, tc *task.Context, args []any, kwargs map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &domain.TaskError{
				Kind:    domain.KindPanic,
				Message: fmt.Sprint(r),
				Trace:   string(debug.Stack()),
			}
		}
	}()
	return def.Handler(tc, args, kwargs)
}

// normalize converts a handler result to its JSON shape, the form every
// store and transport hands back to the next step.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domain.NewTaskError(domain.KindTypeError, "result is not serializable: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.NewTaskError(domain.KindTypeError, "result is not serializable: %v", err)
	}
	return out, nil
}

func (e *Executor) succeed(ctx context.Context, d *ports.Delivery, sig *canvas.Signature, result any) error {
	rec, changed, err := e.store.Transition(ctx, d.ID, domain.StateSuccess, domain.Outcome{Result: result})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.Warn("task finished twice, keeping first outcome", zap.String("task_id", d.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to record success: %w", err)
	}
	if !changed {
		return nil
	}

	e.dispatchLinks(ctx, d.ID, sig, rec)
	return e.resume(ctx, d.Frame, rec)
}

func (e *Executor) fail(ctx context.Context, d *ports.Delivery, sig *canvas.Signature, te *domain.TaskError) error {
	rec, changed, err := e.store.Transition(ctx, d.ID, domain.StateFailure, domain.Outcome{Error: te})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.Warn("task finished twice, keeping first outcome", zap.String("task_id", d.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to record failure: %w", err)
	}
	if !changed {
		return nil
	}

	e.dispatchLinks(ctx, d.ID, sig, rec)
	return e.resume(ctx, d.Frame, rec)
}

// shouldRetry reports whether a failed attempt gets another try. Argument
// and lookup errors are deterministic and never retried.
func (e *Executor) shouldRetry(def *task.Definition, sig *canvas.Signature, te *domain.TaskError, attempt int) bool {
	if te.Kind == domain.KindTypeError || te.Kind == domain.KindUnknownTask {
		return false
	}
	maxRetries := def.MaxRetries
	if _, ok := sig.Options[canvas.OptMaxRetries]; ok {
		maxRetries = sig.Options.MaxRetries()
	}
	return attempt < maxRetries
}

// retry records the failed attempt and queues the next one, due after an
// exponential delay.
func (e *Executor) retry(ctx context.Context, d *ports.Delivery, sig *canvas.Signature, te *domain.TaskError, logger *zap.Logger) error {
	if _, _, err := e.store.Transition(ctx, d.ID, domain.StateRetry, domain.Outcome{Error: te}); err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}
	if _, _, err := e.store.Transition(ctx, d.ID, domain.StatePending, domain.Outcome{}); err != nil {
		return fmt.Errorf("failed to reset task for retry: %w", err)
	}

	delay := e.retryDelay(sig, d.Attempt)
	next := *d
	next.Attempt++
	next.NotBefore = time.Now().Add(delay)

	// the retry is queued before this delivery is acknowledged, so it
	// survives a worker stopping during the delay
	if err := e.publish(ctx, sig.Options.Queue(), &next); err != nil {
		return fmt.Errorf("failed to publish retry: %w", err)
	}

	logger.Warn("task failed, retrying",
		zap.String("error", te.Message),
		zap.Duration("delay", delay))
	e.metrics.RecordTaskRetried(sig.TaskName)
	return nil
}

// retryDelay is the delay before attempt+1: the base delay doubled per
// previous attempt, capped at MaxRetryDelay.
func (e *Executor) retryDelay(sig *canvas.Signature, attempt int) time.Duration {
	base := sig.Options.RetryDelay()
	if base <= 0 {
		base = e.cfg.RetryDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = e.cfg.MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// replace dispatches node in place of the running task. The task's record
// stays STARTED and forwards to the replacement, whose outcome is mirrored
// back through a replace frame.
func (e *Executor) replace(ctx context.Context, d *ports.Delivery, sig *canvas.Signature, node canvas.Node) error {
	replID := DeriveID(d.ID, suffixReplacement)
	frame := &ports.Frame{Kind: ports.FrameReplace, ID: d.ID, Node: sig, Parent: d.Frame}

	e.metrics.RecordReplacement(sig.TaskName)

	// the forward must exist before any replacement member can finish
	if err := e.ensureRecord(ctx, node, replID, d.ID); err != nil {
		return err
	}
	if err := e.store.Forward(ctx, d.ID, replID); err != nil {
		return fmt.Errorf("failed to forward task: %w", err)
	}

	if err := e.dispatch(ctx, node, replID, nil, false, frame, d.ID); err != nil {
		return fmt.Errorf("failed to dispatch replacement: %w", err)
	}
	return nil
}

// dispatchLinks starts link_success or link_error as an independent root
// once rec is terminal. Link failures never affect rec.
func (e *Executor) dispatchLinks(ctx context.Context, id string, sig *canvas.Signature, rec *domain.Record) {
	var (
		link   *canvas.Signature
		suffix string
		value  any
	)
	switch rec.State {
	case domain.StateSuccess:
		link, suffix, value = sig.LinkSuccess, suffixLink, rec.Result
	case domain.StateFailure:
		link, suffix, value = sig.LinkError, suffixErrback, errorValue(id, rec.Error)
	}
	if link == nil {
		return
	}

	linkID := DeriveID(id, suffix)
	if err := e.dispatch(ctx, link, linkID, value, true, nil, id); err != nil {
		e.logger.Error("failed to dispatch link",
			zap.String("task_id", id),
			zap.String("link_id", linkID),
			zap.String("link_task", link.TaskName),
			zap.Error(err))
	}
}

// errorValue is the input handed to an error callback.
func errorValue(id string, te *domain.TaskError) map[string]any {
	v := map[string]any{"task_id": id}
	if te != nil {
		v["kind"] = te.Kind
		v["message"] = te.Message
	}
	return v
}

// resume continues the composite waiting on a node that just finished.
func (e *Executor) resume(ctx context.Context, frame *ports.Frame, child *domain.Record) error {
	if frame == nil {
		return nil
	}

	switch frame.Kind {
	case ports.FrameChain:
		return e.resumeChain(ctx, frame, child)
	case ports.FrameGroup:
		return e.resumeGroup(ctx, frame)
	case ports.FrameChordHeader:
		return e.resumeChord(ctx, frame, child)
	case ports.FrameChordBody:
		return e.mirror(ctx, frame, child)
	case ports.FrameReplace:
		return e.resumeReplaced(ctx, frame, child)
	default:
		return fmt.Errorf("unknown frame kind %q", frame.Kind)
	}
}

func (e *Executor) resumeChain(ctx context.Context, frame *ports.Frame, child *domain.Record) error {
	chain, ok := frame.Node.(*canvas.Chain)
	if !ok {
		return fmt.Errorf("chain frame %s carries %T", frame.ID, frame.Node)
	}

	next := frame.Index + 1
	if child.State == domain.StateFailure || next >= len(chain.Tasks) {
		return e.mirror(ctx, frame, child)
	}

	nextFrame := &ports.Frame{Kind: ports.FrameChain, ID: frame.ID, Index: next, Node: chain, Parent: frame.Parent}
	return e.dispatch(ctx, chain.Tasks[next], MemberID(frame.ID, next), child.Result, true, nextFrame, frame.ID)
}

// resumeGroup re-reads every member in submission order. The first failed
// member fails the group even while others still run; otherwise the group
// succeeds once every member has, with results in submission order.
func (e *Executor) resumeGroup(ctx context.Context, frame *ports.Frame) error {
	group, ok := frame.Node.(*canvas.Group)
	if !ok {
		return fmt.Errorf("group frame %s carries %T", frame.ID, frame.Node)
	}

	results := make([]any, len(group.Tasks))
	pending := false
	for i := range group.Tasks {
		member, err := e.store.Get(ctx, MemberID(frame.ID, i))
		if errors.Is(err, domain.ErrRecordNotFound) {
			pending = true
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read group member %d: %w", i, err)
		}

		switch member.State {
		case domain.StateFailure:
			return e.complete(ctx, frame.ID, domain.StateFailure, domain.Outcome{Error: member.Error}, frame.Parent)
		case domain.StateSuccess:
			results[i] = member.Result
		default:
			pending = true
		}
	}

	if pending {
		return nil
	}
	return e.complete(ctx, frame.ID, domain.StateSuccess, domain.Outcome{Result: results}, frame.Parent)
}

func (e *Executor) resumeChord(ctx context.Context, frame *ports.Frame, header *domain.Record) error {
	if header.State == domain.StateFailure {
		return e.mirror(ctx, frame, header)
	}

	chord, ok := frame.Node.(*canvas.Chord)
	if !ok {
		return fmt.Errorf("chord frame %s carries %T", frame.ID, frame.Node)
	}

	bodyFrame := &ports.Frame{Kind: ports.FrameChordBody, ID: frame.ID, Parent: frame.Parent}
	return e.dispatch(ctx, chord.Body, MemberID(frame.ID, 1), header.Result, true, bodyFrame, frame.ID)
}

// resumeReplaced mirrors the replacement outcome onto the replaced task
// and fires the task's own links.
func (e *Executor) resumeReplaced(ctx context.Context, frame *ports.Frame, repl *domain.Record) error {
	rec, changed, err := e.transitionTerminal(ctx, frame.ID, repl.State, outcomeOf(repl))
	if err != nil || !changed {
		return err
	}

	if sig, ok := frame.Node.(*canvas.Signature); ok {
		e.dispatchLinks(ctx, frame.ID, sig, rec)
	}
	return e.resume(ctx, frame.Parent, rec)
}

// mirror gives the frame's composite the terminal outcome of child.
func (e *Executor) mirror(ctx context.Context, frame *ports.Frame, child *domain.Record) error {
	return e.complete(ctx, frame.ID, child.State, outcomeOf(child), frame.Parent)
}

// complete finishes record id and resumes its own parent frame.
func (e *Executor) complete(ctx context.Context, id string, state domain.State, out domain.Outcome, parent *ports.Frame) error {
	rec, changed, err := e.transitionTerminal(ctx, id, state, out)
	if err != nil || !changed {
		return err
	}
	return e.resume(ctx, parent, rec)
}

// transitionTerminal writes a composite outcome. Losing the race to another
// writer is not an error.
func (e *Executor) transitionTerminal(ctx context.Context, id string, state domain.State, out domain.Outcome) (*domain.Record, bool, error) {
	rec, changed, err := e.store.Transition(ctx, id, state, out)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.Debug("composite already finished", zap.String("task_id", id), zap.Error(err))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to finish %s: %w", id, err)
	}
	if changed {
		e.logger.Debug("composite finished", zap.String("task_id", id), zap.String("state", string(state)))
	}
	return rec, changed, nil
}

func outcomeOf(rec *domain.Record) domain.Outcome {
	if rec.State == domain.StateSuccess {
		return domain.Outcome{Result: rec.Result}
	}
	return domain.Outcome{Error: rec.Error}
}

// ensureRecord creates the record for node unless it exists already.
func (e *Executor) ensureRecord(ctx context.Context, node canvas.Node, id, parentID string) error {
	_, err := e.store.Create(ctx, id, RecordOptions(node, id, parentID))
	if err != nil && !errors.Is(err, domain.ErrRecordExists) {
		return fmt.Errorf("failed to create record %s: %w", id, err)
	}
	return nil
}

// begin moves a record to STARTED. It returns false when the record is
// already terminal and the work must be skipped.
func (e *Executor) begin(ctx context.Context, id string) (bool, error) {
	for i := 0; i < 2; i++ {
		rec, _, err := e.store.Transition(ctx, id, domain.StateStarted, domain.Outcome{})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrInvalidTransition) || rec == nil {
			return false, fmt.Errorf("failed to start %s: %w", id, err)
		}
		if rec.Ready() {
			return false, nil
		}
		// a worker died between RETRY and PENDING
		if rec.State == domain.StateRetry {
			if _, _, err := e.store.Transition(ctx, id, domain.StatePending, domain.Outcome{}); err != nil {
				return false, fmt.Errorf("failed to reset %s: %w", id, err)
			}
		}
	}
	return false, fmt.Errorf("failed to start %s: record stuck in retry", id)
}

func (e *Executor) publish(ctx context.Context, queue string, d *ports.Delivery) error {
	if queue == "" {
		queue = e.cfg.DefaultQueue
	}
	if err := e.broker.Publish(ctx, queue, d); err != nil {
		return fmt.Errorf("failed to publish %s: %w", d.ID, err)
	}
	return nil
}
