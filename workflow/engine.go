package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/license-workflow/attachments"
	"github.com/songzhibin97/license-workflow/catalog"
	"github.com/songzhibin97/license-workflow/coordinator"
	"github.com/songzhibin97/license-workflow/directory"
	"github.com/songzhibin97/license-workflow/events"
	"github.com/songzhibin97/license-workflow/inbox"
	"github.com/songzhibin97/license-workflow/roles"
	"github.com/songzhibin97/license-workflow/rules"
	"github.com/songzhibin97/license-workflow/storage"
	"github.com/songzhibin97/license-workflow/types"
)

var (
	ErrGeneratorRequired     = errors.New("generator is required")
	ErrDirectoryRequired     = errors.New("directory is required")
	ErrMissingApplicationID  = errors.New("application id is required")
	ErrApplicantNotPermitted = errors.New("user may not file applications")
)

// ActionIDPrefix prefixes the default single-flight identity of a submission.
const ActionIDPrefix = "process-application-"

// ProcessActionID is the default action identity for an application: one
// in-flight submission per application at a time.
func ProcessActionID(applicationID string) string {
	return ActionIDPrefix + applicationID
}

// BlockReason explains why a submission was not run.
type BlockReason string

const (
	NotBlocked BlockReason = ""
	// BlockedInFlight means an identical submission is still running.
	BlockedInFlight BlockReason = "in_flight"
	// BlockedDebounced means an identical submission finished within the
	// debounce window.
	BlockedDebounced BlockReason = "debounced"
)

// SubmitRequest is one officer decision. ActorID must come from an
// authenticated source; the actor's role is looked up, never supplied.
type SubmitRequest struct {
	// ActionID is the single-flight identity. Empty means
	// ProcessActionID(ApplicationID).
	ActionID       string
	ApplicationID  string
	ActorID        string
	Action         catalog.ActionCode
	Remarks        string
	NextAssigneeID string
	Attachments    []types.AttachmentDescriptor
}

// SubmitResult is the outcome of a submission that did not fail. When
// Blocked is set nothing was applied and the other fields are empty.
type SubmitResult struct {
	Blocked     BlockReason
	NewStatus   catalog.StatusCode
	Entry       types.HistoryEntry
	Application types.Application
}

// NewApplication describes a draft to file.
type NewApplication struct {
	// ID is optional; a generated ID is used when empty.
	ID          string
	ApplicantID string
	Attachments []types.AttachmentDescriptor
}

// Engine runs officer decisions against stored applications.
type Engine struct {
	catalog     *catalog.Catalog
	hierarchy   *roles.Hierarchy
	evaluator   rules.Evaluator
	storage     storage.Storage
	directory   directory.Directory
	attachments attachments.Store
	coordinator coordinator.Coordinator
	eventBus    *events.EventBus
	ownsBus     bool
	classifier  *inbox.Classifier
	generate    generator.Generator
	logger      zerolog.Logger
	debounce    time.Duration
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog sets the status and action vocabulary. Defaults to catalog.Default().
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithHierarchy sets the reviewer roles and artifact requirements.
// Defaults to roles.Default().
func WithHierarchy(h *roles.Hierarchy) Option {
	return func(e *Engine) { e.hierarchy = h }
}

// WithEvaluator sets the evaluator for artifact predicates.
func WithEvaluator(ev rules.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithAttachmentStore sets where submitted documents are kept. Defaults to
// an in-memory store.
func WithAttachmentStore(s attachments.Store) Option {
	return func(e *Engine) { e.attachments = s }
}

// WithLogger sets the engine logger; the owned event bus logs through it too.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCoordinator replaces the per-engine in-memory coordinator, e.g. with a
// Redis coordinator shared by several processes.
func WithCoordinator(c coordinator.Coordinator) Option {
	return func(e *Engine) { e.coordinator = c }
}

// WithEventBus publishes side effects on bus. The caller keeps ownership and
// must stop it.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.eventBus = bus }
}

// WithDebounceWindow rejects a submission whose action identity completed
// less than d ago. Zero disables the check.
func WithDebounceWindow(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. A nil store selects in-memory storage.
func NewEngine(generate generator.Generator, store storage.Storage, dir directory.Directory, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, ErrGeneratorRequired
	}
	if dir == nil {
		return nil, ErrDirectoryRequired
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		storage:   store,
		directory: dir,
		generate:  generate,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.catalog == nil {
		e.catalog = catalog.Default()
	}
	if e.hierarchy == nil {
		e.hierarchy = roles.Default()
	}
	if e.evaluator == nil {
		e.evaluator = rules.NewExprEvaluator()
	}
	if e.attachments == nil {
		e.attachments = attachments.NewMemoryStore("mem://attachments")
	}
	if e.coordinator == nil {
		e.coordinator = coordinator.NewMemoryCoordinator(coordinator.WithClock(e.now), coordinator.WithRetention(e.debounce))
	}
	if e.eventBus == nil {
		e.eventBus = events.NewEventBus(events.WithLogger(e.logger))
		e.ownsBus = true
	}
	e.classifier = inbox.NewClassifier(e.catalog)
	return e, nil
}

// SubscribeEvent subscribes a handler to workflow events.
func (e *Engine) SubscribeEvent(eventType events.Type, handler events.Handler) events.Subscription {
	return e.eventBus.Subscribe(eventType, handler)
}

// Catalog returns the catalog the engine validates against.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// CreateApplication files a draft owned by its applicant.
func (e *Engine) CreateApplication(ctx context.Context, req NewApplication) (types.Application, error) {
	applicant, err := e.directory.ResolveUser(ctx, req.ApplicantID)
	if err != nil {
		return types.Application{}, fmt.Errorf("failed to resolve applicant: %w", err)
	}
	if !e.hierarchy.CanSubmit(applicant.RoleCode, catalog.ActionForward) {
		return types.Application{}, fmt.Errorf("%w: id=%s role=%s", ErrApplicantNotPermitted, applicant.ID, applicant.RoleCode)
	}

	id := req.ID
	if id == "" {
		n, err := e.generate.NextID()
		if err != nil {
			return types.Application{}, fmt.Errorf("failed to generate ID: %w", err)
		}
		id = strconv.FormatUint(n, 10)
	}
	refs, err := e.storeAttachments(ctx, req.Attachments)
	if err != nil {
		return types.Application{}, err
	}

	now := e.now().UnixMilli()
	app := types.Application{
		ID:            id,
		ApplicantID:   applicant.ID,
		StatusCode:    catalog.StatusDraft,
		CurrentUserID: applicant.ID,
		CurrentRoleID: applicant.RoleCode,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		Attachments:   refs,
	}
	if err := e.storage.SaveApplication(ctx, app); err != nil {
		return types.Application{}, fmt.Errorf("failed to save application: %w", err)
	}

	e.logger.Info().
		Str("application_id", app.ID).
		Str("applicant_id", app.ApplicantID).
		Int("attachments", len(refs)).
		Msg("application created")
	return app, nil
}

// SubmitWorkflowAction applies one decision under the single-flight
// coordinator. Validation failures are *ValidationError, commit races are
// *ConflictError and duplicates come back as a Blocked result.
func (e *Engine) SubmitWorkflowAction(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.ApplicationID == "" {
		return SubmitResult{}, ErrMissingApplicationID
	}
	actionID := req.ActionID
	if actionID == "" {
		actionID = ProcessActionID(req.ApplicationID)
	}
	log := e.logger.With().
		Str("application_id", req.ApplicationID).
		Str("action_id", actionID).
		Str("actor_id", req.ActorID).
		Str("action", req.Action.String()).
		Logger()

	if e.debounce > 0 {
		recent, err := e.coordinator.WasRecentlyCompleted(ctx, actionID, e.debounce)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("failed to check recent completion of %s: %w", actionID, err)
		}
		if recent {
			log.Info().Dur("window", e.debounce).Msg("submission debounced")
			return SubmitResult{Blocked: BlockedDebounced}, nil
		}
	}

	res, err := coordinator.Execute(ctx, e.coordinator, actionID, func(ctx context.Context) (SubmitResult, error) {
		return e.submit(ctx, req, log)
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if res.Blocked {
		log.Info().Msg("submission blocked: identical action in flight")
		return SubmitResult{Blocked: BlockedInFlight}, nil
	}
	return res.Value, nil
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest, log zerolog.Logger) (SubmitResult, error) {
	app, err := e.loadOptional(ctx, req.ApplicationID)
	if err != nil {
		return SubmitResult{}, err
	}
	actor, err := e.lookupUser(ctx, req.ActorID)
	if err != nil {
		return SubmitResult{}, err
	}
	var next *types.User
	if req.NextAssigneeID != "" {
		u, err := e.lookupUser(ctx, req.NextAssigneeID)
		if err != nil {
			return SubmitResult{}, err
		}
		if u.RoleCode != "" {
			next = &u
		}
	}

	outcome, err := Transition(app, ActionInput{
		Action:         req.Action,
		Remarks:        req.Remarks,
		NextAssigneeID: req.NextAssigneeID,
		Attachments:    req.Attachments,
		At:             e.now().UnixMilli(),
	}, TransitionEnv{
		Catalog:      e.catalog,
		Hierarchy:    e.hierarchy,
		Evaluator:    e.evaluator,
		Actor:        actor,
		NextAssignee: next,
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			log.Warn().Str("reason", string(ReasonOf(err))).Err(err).Msg("submission rejected")
		}
		return SubmitResult{}, err
	}

	refs, err := e.storeAttachments(ctx, req.Attachments)
	if err != nil {
		return SubmitResult{}, err
	}
	outcome.AttachRefs(refs)

	id, err := e.generate.NextID()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to generate ID: %w", err)
	}
	outcome.Stamp(id)

	if err := e.storage.CommitTransition(ctx, outcome.Commit()); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Warn().Err(err).Int64("expected_version", outcome.ExpectedVersion).Msg("submission conflicted")
			return SubmitResult{}, &ConflictError{ApplicationID: req.ApplicationID, Err: err}
		}
		return SubmitResult{}, fmt.Errorf("failed to commit transition of %s: %w", req.ApplicationID, err)
	}

	e.publish(ctx, outcome, actor, log)
	log.Info().
		Str("status_before", outcome.Entry.StatusBefore.String()).
		Str("status_after", outcome.Entry.StatusAfter.String()).
		Str("next_user_id", outcome.Entry.NextUserID).
		Int("sequence", outcome.Entry.Sequence).
		Msg("action accepted")

	return SubmitResult{
		NewStatus:   outcome.Application.StatusCode,
		Entry:       outcome.Entry,
		Application: outcome.Application,
	}, nil
}

// loadOptional returns nil for a missing application so Transition can
// report it as a validation failure.
func (e *Engine) loadOptional(ctx context.Context, id string) (*types.Application, error) {
	app, err := e.storage.LoadApplication(ctx, id)
	if errors.Is(err, storage.ErrApplicationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	return &app, nil
}

// lookupUser resolves id through the directory. An unknown user comes back
// with only ID set; transport failures are returned.
func (e *Engine) lookupUser(ctx context.Context, id string) (types.User, error) {
	if id == "" {
		return types.User{}, nil
	}
	u, err := e.directory.ResolveUser(ctx, id)
	if errors.Is(err, directory.ErrUnknownUser) {
		return types.User{ID: id}, nil
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to resolve user %s: %w", id, err)
	}
	return u, nil
}

func (e *Engine) storeAttachments(ctx context.Context, descs []types.AttachmentDescriptor) ([]types.AttachmentRef, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	refs := make([]types.AttachmentRef, 0, len(descs))
	for _, d := range descs {
		ref, err := e.attachments.Store(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment %q: %w", d.Name, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// publish turns the outcome's effects into events. Delivery failures are
// logged; the transition is already committed.
func (e *Engine) publish(ctx context.Context, outcome Outcome, actor types.User, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	app := outcome.Application
	evs := []events.Event{{
		Type:          events.TransitionApplied,
		ApplicationID: app.ID,
		UserID:        actor.ID,
		RoleID:        actor.RoleCode,
		Data: map[string]interface{}{
			"action":        outcome.Entry.ActionTaken.String(),
			"status_before": outcome.Entry.StatusBefore.String(),
			"status_after":  outcome.Entry.StatusAfter.String(),
			"entry_id":      outcome.Entry.ID,
			"sequence":      outcome.Entry.Sequence,
		},
	}}
	for _, eff := range outcome.Effects {
		switch eff.Kind {
		case EffectNotifyAssignee:
			evs = append(evs, events.Event{
				Type:          events.AssigneeChanged,
				ApplicationID: app.ID,
				UserID:        eff.UserID,
				RoleID:        eff.RoleID,
				Data:          map[string]interface{}{"from_user_id": actor.ID, "status": app.StatusCode.String()},
			})
		case EffectNotifyApplicant:
			evs = append(evs, events.Event{
				Type:          events.ApplicationClosed,
				ApplicationID: app.ID,
				UserID:        eff.UserID,
				Data:          map[string]interface{}{"status": app.StatusCode.String(), "decided_by": actor.ID},
			})
		}
	}
	for _, ev := range evs {
		if err := e.eventBus.Publish(ctx, ev); err != nil && !errors.Is(err, events.ErrNoHandler) {
			log.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish event")
		}
	}
}

// GetApplication returns an application with its history.
func (e *Engine) GetApplication(ctx context.Context, id string) (types.Application, error) {
	app, err := e.storage.LoadApplication(ctx, id)
	if err != nil {
		return types.Application{}, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	return app, nil
}

// History returns the audit trail of an application, oldest first.
func (e *Engine) History(ctx context.Context, id string) ([]types.HistoryEntry, error) {
	app, err := e.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	return app.History, nil
}

// Inbox lists the applications in a bucket. A non-empty userID keeps only
// that user's applications from the bucket's perspective.
func (e *Engine) Inbox(ctx context.Context, bucket, userID string) ([]types.Application, error) {
	apps, err := e.storage.ListApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return e.classifier.Classify(apps, bucket, e.userFilters(userID)...), nil
}

// BucketCounts returns badge counts for the given buckets, or for every
// bucket when none are named.
func (e *Engine) BucketCounts(ctx context.Context, userID string, keys ...string) (map[string]int, error) {
	apps, err := e.storage.ListApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return e.classifier.CountsByBucket(apps, keys, e.userFilters(userID)...), nil
}

func (e *Engine) userFilters(userID string) []inbox.Filter {
	if userID == "" {
		return nil
	}
	return []inbox.Filter{inbox.ForAssignee(userID)}
}

// CandidateAssignees lists who the current holder may hand the application
// to. The holder is left out.
func (e *Engine) CandidateAssignees(ctx context.Context, applicationID string) ([]types.User, error) {
	app, err := e.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	users, err := e.directory.ListCandidateAssignees(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate assignees of %s: %w", applicationID, err)
	}
	out := make([]types.User, 0, len(users))
	for _, u := range users {
		if u.ID == app.CurrentUserID {
			continue
		}
		if _, ok := e.hierarchy.Role(u.RoleCode); !ok {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// AvailableActions returns the actions actorID may submit on the
// application right now, in display order. It is empty for anyone but the
// current holder.
func (e *Engine) AvailableActions(ctx context.Context, applicationID, actorID string) ([]catalog.Action, error) {
	app, err := e.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	actor, err := e.lookupUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := []catalog.Action{}
	if app.StatusCode.Terminal() || actor.ID != app.CurrentUserID || actor.RoleCode != app.CurrentRoleID {
		return out, nil
	}
	for _, a := range e.catalog.Actions() {
		if _, ok := NextStatus(app.StatusCode, a.Code); !ok {
			continue
		}
		if e.hierarchy.CanSubmit(actor.RoleCode, a.Code) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Stop releases the engine's event bus if the engine created it.
func (e *Engine) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ownsBus {
		e.eventBus.Stop()
	}
	return nil
}
