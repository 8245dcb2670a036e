package workflow

import (
	"fmt"
	"strings"

	"github.com/songzhibin97/license-workflow/catalog"
	"github.com/songzhibin97/license-workflow/roles"
	"github.com/songzhibin97/license-workflow/rules"
	"github.com/songzhibin97/license-workflow/types"
)

// ActionInput is what an officer submits.
type ActionInput struct {
	Action         catalog.ActionCode
	Remarks        string
	NextAssigneeID string
	Attachments    []types.AttachmentDescriptor
	// At is the decision time in unix milliseconds.
	At int64
}

// TransitionEnv carries the read-only collaborators and the already resolved
// users a transition is judged against.
type TransitionEnv struct {
	Catalog   *catalog.Catalog
	Hierarchy *roles.Hierarchy
	Evaluator rules.Evaluator
	// Actor is the authenticated submitter. An actor unknown to the
	// directory is passed with only ID set.
	Actor types.User
	// NextAssignee is the resolved next assignee, nil if none was supplied
	// or the directory does not know the ID.
	NextAssignee *types.User
}

// EffectKind names a side effect the caller performs after commit.
type EffectKind string

const (
	EffectNotifyAssignee  EffectKind = "notify_assignee"
	EffectNotifyApplicant EffectKind = "notify_applicant"
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind   EffectKind
	UserID string
	RoleID string
}

// Outcome is the result of an accepted transition.
type Outcome struct {
	ExpectedVersion int64
	Application     types.Application
	Entry           types.HistoryEntry
	Effects         []Effect
}

// Stamp sets the history entry ID on both the entry and its copy in the
// application history.
func (o *Outcome) Stamp(id uint64) {
	o.Entry.ID = id
	if n := len(o.Application.History); n > 0 {
		o.Application.History[n-1].ID = id
	}
}

// AttachRefs records the stored attachment references on the history entry.
func (o *Outcome) AttachRefs(refs []types.AttachmentRef) {
	if len(refs) == 0 {
		return
	}
	o.Entry.Attachments = append([]types.AttachmentRef(nil), refs...)
	if n := len(o.Application.History); n > 0 {
		o.Application.History[n-1].Attachments = append([]types.AttachmentRef(nil), refs...)
	}
}

// Commit returns the unit the persistence store applies atomically.
func (o *Outcome) Commit() types.Commit {
	return types.Commit{
		ExpectedVersion: o.ExpectedVersion,
		Application:     o.Application,
		Entry:           o.Entry,
	}
}

// Transition validates in against app and computes the next state. It does
// not modify app and has no side effects; a nil app means the application
// does not exist.
func Transition(app *types.Application, in ActionInput, env TransitionEnv) (Outcome, error) {
	if app == nil {
		return Outcome{}, invalid(ReasonNotFound, "application not found")
	}
	if app.StatusCode.Terminal() {
		return Outcome{}, invalid(ReasonTerminal, "application %s is already %s", app.ID, app.StatusCode)
	}
	if env.Actor.ID == "" || env.Actor.ID != app.CurrentUserID || env.Actor.RoleCode != app.CurrentRoleID {
		return Outcome{}, invalid(ReasonNotAssigned, "user %q is not the officer responsible for application %s", env.Actor.ID, app.ID)
	}

	cat := env.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	if _, err := cat.ResolveAction(in.Action); err != nil {
		return Outcome{}, invalid(ReasonUnknownAction, "%v", err)
	}
	if strings.TrimSpace(in.Remarks) == "" {
		return Outcome{}, invalid(ReasonMissingRemarks, "remarks are required")
	}
	newStatus, ok := NextStatus(app.StatusCode, in.Action)
	if !ok {
		return Outcome{}, invalid(ReasonInvalidTransition, "%s is not allowed from %s", in.Action, app.StatusCode)
	}

	h := env.Hierarchy
	if h == nil {
		h = roles.Default()
	}
	if !h.CanSubmit(env.Actor.RoleCode, in.Action) {
		return Outcome{}, invalid(ReasonUnauthorized, "role %s may not %s", env.Actor.RoleCode, in.Action)
	}

	if req := h.RequiresArtifact(env.Actor.RoleCode, in.Action); req != nil {
		satisfied, err := artifactSatisfied(*req, app, in, env)
		if err != nil {
			return Outcome{}, err
		}
		if !satisfied {
			return Outcome{}, invalid(ReasonMissingArtifact, "%s must attach a %s before %s", env.Actor.RoleCode, req.Kind, in.Action)
		}
	}

	movement := in.Action.Movement()
	if movement == catalog.MoveHandover {
		if in.NextAssigneeID == "" {
			return Outcome{}, invalid(ReasonMissingAssignee, "%s requires a next assignee", in.Action)
		}
		next := env.NextAssignee
		if next == nil || next.ID != in.NextAssigneeID {
			return Outcome{}, invalid(ReasonUnknownAssignee, "unknown next assignee %q", in.NextAssigneeID)
		}
		if _, ok := h.Role(next.RoleCode); !ok {
			return Outcome{}, invalid(ReasonUnknownAssignee, "next assignee %q has unknown role %q", next.ID, next.RoleCode)
		}
		if next.ID == env.Actor.ID {
			return Outcome{}, invalid(ReasonSelfAssignment, "cannot hand application %s to yourself", app.ID)
		}
	} else if in.NextAssigneeID != "" {
		return Outcome{}, invalid(ReasonUnexpectedAssignee, "%s does not take a next assignee", in.Action)
	}

	return apply(app, in, env, newStatus, movement), nil
}

func apply(app *types.Application, in ActionInput, env TransitionEnv, newStatus catalog.StatusCode, movement catalog.Movement) Outcome {
	next := app.Clone()
	entry := types.HistoryEntry{
		ApplicationID:  app.ID,
		Sequence:       len(app.History) + 1,
		PreviousUserID: app.CurrentUserID,
		PreviousRoleID: app.CurrentRoleID,
		ActionTaken:    in.Action,
		StatusBefore:   app.StatusCode,
		StatusAfter:    newStatus,
		Remarks:        strings.TrimSpace(in.Remarks),
		CreatedAt:      in.At,
	}
	var effects []Effect

	switch movement {
	case catalog.MoveHandover:
		next.PreviousUserID, next.PreviousRoleID = app.CurrentUserID, app.CurrentRoleID
		next.CurrentUserID, next.CurrentRoleID = env.NextAssignee.ID, env.NextAssignee.RoleCode
		entry.NextUserID, entry.NextRoleID = next.CurrentUserID, next.CurrentRoleID
		effects = append(effects, Effect{Kind: EffectNotifyAssignee, UserID: next.CurrentUserID, RoleID: next.CurrentRoleID})
	case catalog.MoveInPlace:
		entry.NextUserID, entry.NextRoleID = app.CurrentUserID, app.CurrentRoleID
	case catalog.MoveTerminal:
		next.PreviousUserID, next.PreviousRoleID = app.CurrentUserID, app.CurrentRoleID
		next.CurrentUserID, next.CurrentRoleID = "", ""
		effects = append(effects, Effect{Kind: EffectNotifyApplicant, UserID: app.ApplicantID})
	}

	next.StatusCode = newStatus
	setFlags(&next, in.Action, newStatus)
	next.Version = app.Version + 1
	next.UpdatedAt = in.At
	next.History = append(next.History, entry.Clone())

	return Outcome{
		ExpectedVersion: app.Version,
		Application:     next,
		Entry:           entry,
		Effects:         effects,
	}
}

// setFlags keeps the denormalized booleans consistent with status.
// IsReEnquiry holds exactly while the status is RE_ENQUIRY; the report
// flags are sticky once their action has run.
func setFlags(app *types.Application, action catalog.ActionCode, status catalog.StatusCode) {
	app.IsPending = !status.Terminal() && status != catalog.StatusDraft
	app.IsApproved = status == catalog.StatusApproved || status == catalog.StatusDisposed
	app.IsRejected = status == catalog.StatusRejected
	app.IsReEnquiry = status == catalog.StatusReEnquiry

	switch status {
	case catalog.StatusReEnquiry:
		if action == catalog.ActionReEnquiry {
			app.IsReEnquiryDone = false
		}
	case catalog.StatusReEnquiryDone:
		app.IsReEnquiryDone = true
	}
	if action == catalog.ActionGenerateGroundReport || status == catalog.StatusGroundReportGenerated {
		app.IsGroundReportGenerated = true
	}
	if action == catalog.ActionGenerateFLAF || status == catalog.StatusFLAFGenerated {
		app.IsFLAFGenerated = true
	}
}

func artifactSatisfied(req roles.ArtifactRequirement, app *types.Application, in ActionInput, env TransitionEnv) (bool, error) {
	for _, a := range in.Attachments {
		if a.Kind == req.Kind {
			return true, nil
		}
	}
	if req.SatisfiedWhen == "" {
		return false, nil
	}
	ev := env.Evaluator
	if ev == nil {
		ev = rules.NewExprEvaluator()
	}
	ok, err := ev.Evaluate(req.SatisfiedWhen, Facts(app, in, env.Actor))
	if err != nil {
		return false, fmt.Errorf("artifact requirement %s/%s: %w", req.Role, req.Action, err)
	}
	return ok, nil
}

// Facts is the predicate environment for artifact requirements. The key
// set is fixed so compiled predicates can be reused.
func Facts(app *types.Application, in ActionInput, actor types.User) rules.Facts {
	kinds := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		kinds = append(kinds, a.Kind)
	}
	return rules.Facts{
		"role":                    actor.RoleCode,
		"action":                  in.Action.String(),
		"status":                  app.StatusCode.String(),
		"ground_report_generated": app.IsGroundReportGenerated,
		"flaf_generated":          app.IsFLAFGenerated,
		"re_enquiry_done":         app.IsReEnquiryDone,
		"history_length":          len(app.History),
		"attachment_kinds":        kinds,
	}
}
