package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/license-workflow/catalog"
	"github.com/songzhibin97/license-workflow/roles"
	"github.com/songzhibin97/license-workflow/types"
)

var (
	applicant = types.User{ID: "P1", Name: "Asha", RoleCode: "APPLICANT"}
	sho       = types.User{ID: "U1", Name: "Ravi", RoleCode: "SHO"}
	acp       = types.User{ID: "U2", Name: "Kiran", RoleCode: "ACP"}
	dcp       = types.User{ID: "U3", Name: "Neha", RoleCode: "DCP"}
	zs        = types.User{ID: "U4", Name: "Imran", RoleCode: "ZS"}
	jcp       = types.User{ID: "U5", Name: "Latha", RoleCode: "JCP"}
	cp        = types.User{ID: "U6", Name: "Meera", RoleCode: "CP"}
)

// heldBy returns an application in status held by holder, with two prior
// history entries.
func heldBy(status catalog.StatusCode, holder, previous types.User) *types.Application {
	return &types.Application{
		ID:             "A7",
		ApplicantID:    applicant.ID,
		StatusCode:     status,
		CurrentUserID:  holder.ID,
		CurrentRoleID:  holder.RoleCode,
		PreviousUserID: previous.ID,
		PreviousRoleID: previous.RoleCode,
		IsPending:      status != catalog.StatusDraft,
		Version:        3,
		History: []types.HistoryEntry{
			{ID: 1, ApplicationID: "A7", Sequence: 1, PreviousUserID: applicant.ID, PreviousRoleID: "APPLICANT",
				ActionTaken: catalog.ActionForward, StatusBefore: catalog.StatusDraft, StatusAfter: catalog.StatusForwarded,
				NextUserID: sho.ID, NextRoleID: "SHO", Remarks: "filed"},
			{ID: 2, ApplicationID: "A7", Sequence: 2, PreviousUserID: previous.ID, PreviousRoleID: previous.RoleCode,
				ActionTaken: catalog.ActionForward, StatusBefore: catalog.StatusForwarded, StatusAfter: status,
				NextUserID: holder.ID, NextRoleID: holder.RoleCode, Remarks: "seen"},
		},
	}
}

func envFor(actor types.User, next *types.User) TransitionEnv {
	return TransitionEnv{Actor: actor, NextAssignee: next}
}

func TestTransitionScenarioForwardHandsOver(t *testing.T) {
	app := heldBy(catalog.StatusForwarded, zs, dcp)
	before := app.Clone()

	out, err := Transition(app, ActionInput{
		Action: catalog.ActionForward, Remarks: "ok", NextAssigneeID: acp.ID, At: 5000,
	}, envFor(zs, &acp))
	require.NoError(t, err)

	got := out.Application
	assert.Contains(t, catalog.Default().BucketsOf(got.StatusCode), catalog.BucketForwarded)
	assert.Equal(t, acp.ID, got.CurrentUserID)
	assert.Equal(t, "ACP", got.CurrentRoleID)
	assert.Equal(t, zs.ID, got.PreviousUserID)
	assert.Equal(t, "ZS", got.PreviousRoleID)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, int64(3), out.ExpectedVersion)
	assert.Equal(t, int64(5000), got.UpdatedAt)

	require.Len(t, got.History, len(before.History)+1)
	assert.Equal(t, before.History, got.History[:len(before.History)])
	assert.Equal(t, out.Entry, got.History[2])
	assert.Equal(t, 3, out.Entry.Sequence)
	assert.Equal(t, zs.ID, out.Entry.PreviousUserID)
	assert.Equal(t, acp.ID, out.Entry.NextUserID)
	assert.Equal(t, "ok", out.Entry.Remarks)

	assert.Equal(t, []Effect{{Kind: EffectNotifyAssignee, UserID: acp.ID, RoleID: "ACP"}}, out.Effects)
	assert.Equal(t, before, *app, "input must not be modified")
}

func TestTransitionScenarioDisposeIsTerminal(t *testing.T) {
	app := heldBy(catalog.StatusRecommended, jcp, zs)

	out, err := Transition(app, ActionInput{Action: catalog.ActionDispose, Remarks: "licence granted"}, envFor(jcp, nil))
	require.NoError(t, err)

	got := out.Application
	assert.Equal(t, catalog.StatusDisposed, got.StatusCode)
	assert.True(t, got.IsApproved)
	assert.False(t, got.IsRejected)
	assert.False(t, got.IsPending)
	assert.Empty(t, got.CurrentUserID)
	assert.Empty(t, got.CurrentRoleID)
	assert.Equal(t, jcp.ID, got.PreviousUserID)
	assert.Empty(t, out.Entry.NextUserID)
	assert.Equal(t, []Effect{{Kind: EffectNotifyApplicant, UserID: applicant.ID}}, out.Effects)

	_, err = Transition(&got, ActionInput{Action: catalog.ActionClose, Remarks: "again"}, envFor(jcp, nil))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, ReasonTerminal, ReasonOf(err))
}

func TestTransitionScenarioGroundReportRequired(t *testing.T) {
	app := heldBy(catalog.StatusForwarded, sho, applicant)
	before := app.Clone()

	_, err := Transition(app, ActionInput{
		Action: catalog.ActionForward, Remarks: "verified", NextAssigneeID: acp.ID,
	}, envFor(sho, &acp))
	require.Error(t, err)
	assert.Equal(t, ReasonMissingArtifact, ReasonOf(err))
	assert.Equal(t, before, *app)

	t.Run("attachment satisfies", func(t *testing.T) {
		out, err := Transition(app, ActionInput{
			Action: catalog.ActionForward, Remarks: "verified", NextAssigneeID: acp.ID,
			Attachments: []types.AttachmentDescriptor{{Kind: "ground_report", Name: "report.pdf"}},
		}, envFor(sho, &acp))
		require.NoError(t, err)
		assert.Equal(t, acp.ID, out.Application.CurrentUserID)
	})

	t.Run("wrong kind does not", func(t *testing.T) {
		_, err := Transition(app, ActionInput{
			Action: catalog.ActionForward, Remarks: "verified", NextAssigneeID: acp.ID,
			Attachments: []types.AttachmentDescriptor{{Kind: "photo"}},
		}, envFor(sho, &acp))
		assert.Equal(t, ReasonMissingArtifact, ReasonOf(err))
	})

	t.Run("generated report waives", func(t *testing.T) {
		generated := app.Clone()
		generated.IsGroundReportGenerated = true
		_, err := Transition(&generated, ActionInput{
			Action: catalog.ActionForward, Remarks: "verified", NextAssigneeID: acp.ID,
		}, envFor(sho, &acp))
		assert.NoError(t, err)
	})
}

func TestTransitionValidation(t *testing.T) {
	inactive := false
	noCancel, err := catalog.New(catalog.Definition{Actions: []catalog.ActionDef{{Code: "CANCEL", Active: &inactive}}})
	require.NoError(t, err)
	mayor := types.User{ID: "U9", RoleCode: "MAYOR"}

	tests := []struct {
		name   string
		app    *types.Application
		in     ActionInput
		env    TransitionEnv
		reason Reason
	}{
		{"missing application", nil,
			ActionInput{Action: catalog.ActionForward, Remarks: "x"}, envFor(sho, nil), ReasonNotFound},
		{"not the holder", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionReturn, Remarks: "x", NextAssigneeID: sho.ID}, envFor(dcp, &sho), ReasonNotAssigned},
		{"holder id with another role", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionReturn, Remarks: "x", NextAssigneeID: sho.ID},
			envFor(types.User{ID: acp.ID, RoleCode: "CP"}, &sho), ReasonNotAssigned},
		{"anonymous actor", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionReturn, Remarks: "x"}, envFor(types.User{}, nil), ReasonNotAssigned},
		{"unknown action", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionCode(99), Remarks: "x"}, envFor(acp, nil), ReasonUnknownAction},
		{"inactive action", heldBy(catalog.StatusDraft, applicant, types.User{}),
			ActionInput{Action: catalog.ActionCancel, Remarks: "x"},
			TransitionEnv{Catalog: noCancel, Actor: applicant}, ReasonUnknownAction},
		{"blank remarks", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionReturn, Remarks: "   ", NextAssigneeID: sho.ID}, envFor(acp, &sho), ReasonMissingRemarks},
		{"not in table", heldBy(catalog.StatusDraft, applicant, types.User{}),
			ActionInput{Action: catalog.ActionApprove, Remarks: "x"}, envFor(applicant, nil), ReasonInvalidTransition},
		{"re-enquiry must be completed", heldBy(catalog.StatusReEnquiry, sho, dcp),
			ActionInput{Action: catalog.ActionForward, Remarks: "x", NextAssigneeID: dcp.ID}, envFor(sho, &dcp), ReasonInvalidTransition},
		{"role lacks capability", heldBy(catalog.StatusForwarded, sho, applicant),
			ActionInput{Action: catalog.ActionApprove, Remarks: "x"}, envFor(sho, nil), ReasonUnauthorized},
		{"applicant cannot approve own", heldBy(catalog.StatusForwarded, applicant, sho),
			ActionInput{Action: catalog.ActionApprove, Remarks: "x"}, envFor(applicant, nil), ReasonUnauthorized},
		{"handover without assignee", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionRecommend, Remarks: "x"}, envFor(acp, nil), ReasonMissingAssignee},
		{"assignee unknown to directory", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionRecommend, Remarks: "x", NextAssigneeID: "ghost"}, envFor(acp, nil), ReasonUnknownAssignee},
		{"resolved user differs", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionRecommend, Remarks: "x", NextAssigneeID: dcp.ID}, envFor(acp, &zs), ReasonUnknownAssignee},
		{"assignee with unknown role", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionRecommend, Remarks: "x", NextAssigneeID: mayor.ID}, envFor(acp, &mayor), ReasonUnknownAssignee},
		{"self assignment", heldBy(catalog.StatusForwarded, acp, sho),
			ActionInput{Action: catalog.ActionRecommend, Remarks: "x", NextAssigneeID: acp.ID}, envFor(acp, &acp), ReasonSelfAssignment},
		{"terminal with assignee", heldBy(catalog.StatusRecommended, cp, jcp),
			ActionInput{Action: catalog.ActionApprove, Remarks: "x", NextAssigneeID: jcp.ID}, envFor(cp, &jcp), ReasonUnexpectedAssignee},
		{"in place with assignee", heldBy(catalog.StatusRecommended, cp, jcp),
			ActionInput{Action: catalog.ActionGenerateFLAF, Remarks: "x", NextAssigneeID: jcp.ID}, envFor(cp, &jcp), ReasonUnexpectedAssignee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before types.Application
			if tt.app != nil {
				before = tt.app.Clone()
			}
			_, err := Transition(tt.app, tt.in, tt.env)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.reason, ReasonOf(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Message)
			if tt.app != nil {
				assert.Equal(t, before, *tt.app)
			}
		})
	}
}

func TestTransitionInPlaceKeepsHolder(t *testing.T) {
	app := heldBy(catalog.StatusForwarded, sho, applicant)

	out, err := Transition(app, ActionInput{Action: catalog.ActionGenerateGroundReport, Remarks: "site visit done"}, envFor(sho, nil))
	require.NoError(t, err)
	got := out.Application
	assert.Equal(t, catalog.StatusGroundReportGenerated, got.StatusCode)
	assert.True(t, got.IsGroundReportGenerated)
	assert.Equal(t, sho.ID, got.CurrentUserID)
	assert.Equal(t, applicant.ID, got.PreviousUserID)
	assert.Equal(t, sho.ID, out.Entry.NextUserID)
	assert.Empty(t, out.Effects)

	// The generated report is sticky and waives the attachment on forward.
	out, err = Transition(&got, ActionInput{Action: catalog.ActionForward, Remarks: "onwards", NextAssigneeID: acp.ID}, envFor(sho, &acp))
	require.NoError(t, err)
	assert.True(t, out.Application.IsGroundReportGenerated)
	assert.Equal(t, catalog.StatusForwarded, out.Application.StatusCode)
	assert.Len(t, out.Application.History, 4)
}

func TestTransitionReEnquiryFlags(t *testing.T) {
	app := heldBy(catalog.StatusForwarded, dcp, acp)

	out, err := Transition(app, ActionInput{Action: catalog.ActionReEnquiry, Remarks: "verify address", NextAssigneeID: sho.ID}, envFor(dcp, &sho))
	require.NoError(t, err)
	enq := out.Application
	assert.Equal(t, catalog.StatusReEnquiry, enq.StatusCode)
	assert.True(t, enq.IsReEnquiry)
	assert.False(t, enq.IsReEnquiryDone)

	out, err = Transition(&enq, ActionInput{Action: catalog.ActionReEnquiryDone, Remarks: "address ok", NextAssigneeID: dcp.ID}, envFor(sho, &dcp))
	require.NoError(t, err)
	done := out.Application
	assert.Equal(t, catalog.StatusReEnquiryDone, done.StatusCode)
	assert.False(t, done.IsReEnquiry)
	assert.True(t, done.IsReEnquiryDone)
	assert.Equal(t, dcp.ID, done.CurrentUserID)
	assert.Equal(t, sho.ID, done.PreviousUserID)
}

func TestTransitionGroundReportDuringReEnquiry(t *testing.T) {
	app := heldBy(catalog.StatusForwarded, dcp, acp)

	out, err := Transition(app, ActionInput{Action: catalog.ActionReEnquiry, Remarks: "verify premises", NextAssigneeID: sho.ID}, envFor(dcp, &sho))
	require.NoError(t, err)
	enq := out.Application

	out, err = Transition(&enq, ActionInput{Action: catalog.ActionGenerateGroundReport, Remarks: "site visited"}, envFor(sho, nil))
	require.NoError(t, err)
	report := out.Application
	assert.Equal(t, catalog.StatusReEnquiry, report.StatusCode)
	assert.True(t, report.IsReEnquiry)
	assert.True(t, report.IsGroundReportGenerated)
	assert.Equal(t, sho.ID, report.CurrentUserID)

	_, err = Transition(&report, ActionInput{Action: catalog.ActionForward, Remarks: "x", NextAssigneeID: dcp.ID}, envFor(sho, &dcp))
	assert.Equal(t, ReasonInvalidTransition, ReasonOf(err))

	out, err = Transition(&report, ActionInput{Action: catalog.ActionReEnquiryDone, Remarks: "premises ok", NextAssigneeID: dcp.ID}, envFor(sho, &dcp))
	require.NoError(t, err)
	done := out.Application
	assert.Equal(t, catalog.StatusReEnquiryDone, done.StatusCode)
	assert.False(t, done.IsReEnquiry)
	assert.True(t, done.IsReEnquiryDone)
	assert.True(t, done.IsGroundReportGenerated)

	out, err = Transition(&done, ActionInput{Action: catalog.ActionForward, Remarks: "onward", NextAssigneeID: zs.ID}, envFor(dcp, &zs))
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusForwarded, out.Application.StatusCode)
	assert.False(t, out.Application.IsReEnquiry)
	assert.Len(t, out.Application.History, 6)
}

func TestTransitionReEnquiryFlagTracksStatus(t *testing.T) {
	h := superHierarchy(t)
	root := types.User{ID: "R1", RoleCode: "ROOT"}
	peer := types.User{ID: "R2", RoleCode: "PEER"}

	for _, from := range catalog.Statuses() {
		for _, action := range catalog.ActionCodes() {
			app := heldBy(from, root, peer)
			app.IsReEnquiry = true
			in := ActionInput{Action: action, Remarks: "r"}
			if action.Movement() == catalog.MoveHandover {
				in.NextAssigneeID = peer.ID
			}
			out, err := Transition(app, in, TransitionEnv{Hierarchy: h, Actor: root, NextAssignee: &peer})
			if err != nil {
				continue
			}
			got := out.Application
			assert.Equal(t, got.StatusCode == catalog.StatusReEnquiry, got.IsReEnquiry, "%s/%s", from, action)
		}
	}
}

func TestTransitionFinalDecisions(t *testing.T) {
	app := heldBy(catalog.StatusFLAFGenerated, cp, jcp)

	approved, err := Transition(app, ActionInput{Action: catalog.ActionApprove, Remarks: "approved"}, envFor(cp, nil))
	require.NoError(t, err)
	assert.True(t, approved.Application.IsApproved)
	assert.False(t, approved.Application.IsRejected)

	rejected, err := Transition(app, ActionInput{Action: catalog.ActionReject, Remarks: "incomplete"}, envFor(cp, nil))
	require.NoError(t, err)
	assert.False(t, rejected.Application.IsApproved)
	assert.True(t, rejected.Application.IsRejected)
	assert.Equal(t, catalog.StatusRejected, rejected.Application.StatusCode)

	closed, err := Transition(app, ActionInput{Action: catalog.ActionClose, Remarks: "withdrawn"}, envFor(cp, nil))
	require.NoError(t, err)
	assert.False(t, closed.Application.IsApproved)
	assert.False(t, closed.Application.IsRejected)
	assert.False(t, closed.Application.IsPending)
}

func TestTransitionApplicantCancelsDraft(t *testing.T) {
	app := heldBy(catalog.StatusDraft, applicant, types.User{})
	app.History = nil

	out, err := Transition(app, ActionInput{Action: catalog.ActionCancel, Remarks: "no longer needed"}, envFor(applicant, nil))
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCancelled, out.Application.StatusCode)
	assert.Equal(t, 1, out.Entry.Sequence)
	assert.Empty(t, out.Application.CurrentUserID)
}

// superHierarchy grants one role every capability so every table entry can
// be exercised.
func superHierarchy(t *testing.T) *roles.Hierarchy {
	all := []string{
		"forward", "return", "red-flag", "recommend", "re-enquiry", "ground-report",
		"flaf", "approve-final", "dispose", "close", "cancel", "complete-re-enquiry",
	}
	h, err := roles.New(roles.Definition{Roles: []roles.RoleDef{
		{Code: "ROOT", Rank: 1, Capabilities: all},
		{Code: "PEER", Rank: 2, Capabilities: all},
	}})
	require.NoError(t, err)
	return h
}

func TestTransitionPropertiesOverWholeTable(t *testing.T) {
	h := superHierarchy(t)
	root := types.User{ID: "R1", RoleCode: "ROOT"}
	peer := types.User{ID: "R2", RoleCode: "PEER"}

	for _, from := range catalog.Statuses() {
		for _, action := range catalog.ActionCodes() {
			app := heldBy(from, root, peer)
			before := app.Clone()
			in := ActionInput{Action: action, Remarks: "r"}
			if action.Movement() == catalog.MoveHandover {
				in.NextAssigneeID = peer.ID
			}

			out, err := Transition(app, in, TransitionEnv{Hierarchy: h, Actor: root, NextAssignee: &peer})
			assert.Equal(t, before, *app)
			if err != nil {
				assert.ErrorIs(t, err, ErrValidation, "%s/%s", from, action)
				continue
			}

			want, ok := NextStatus(from, action)
			require.True(t, ok)
			got := out.Application
			assert.Equal(t, want, got.StatusCode)
			assert.False(t, got.IsApproved && got.IsRejected)
			if got.StatusCode.Terminal() {
				assert.Empty(t, got.CurrentUserID, "%s/%s", from, action)
				assert.False(t, got.IsPending)
			} else {
				assert.NotEmpty(t, got.CurrentUserID, "%s/%s", from, action)
				assert.NotEmpty(t, got.CurrentRoleID, "%s/%s", from, action)
				assert.True(t, got.IsPending)
			}
			require.Len(t, got.History, len(before.History)+1)
			assert.Equal(t, before.History, got.History[:len(before.History)])
			assert.Equal(t, before.Version+1, got.Version)
		}
	}
}

func TestTableCoversEveryLiveStatus(t *testing.T) {
	for _, s := range catalog.Statuses() {
		var outgoing int
		for _, a := range catalog.ActionCodes() {
			if _, ok := NextStatus(s, a); ok {
				outgoing++
			}
		}
		if s.Terminal() {
			assert.Zero(t, outgoing, "terminal %s must have no transitions", s)
		} else {
			assert.NotZero(t, outgoing, "%s has no way out", s)
		}
	}
}

func TestEveryReachableStatusIsBucketed(t *testing.T) {
	cat := catalog.Default()
	reachable := ReachableStatuses()
	require.NotEmpty(t, reachable)
	for _, s := range reachable {
		assert.NotEmpty(t, cat.BucketsOf(s), "status %s has no bucket", s)
	}
	assert.NotEmpty(t, cat.BucketsOf(catalog.StatusDraft))
}

func TestArtifactPredicateErrorIsNotValidation(t *testing.T) {
	h, err := roles.New(roles.Definition{
		Roles: []roles.RoleDef{
			{Code: "SHO", Rank: 1, Capabilities: []string{"forward"}},
			{Code: "ACP", Rank: 2},
		},
		Requirements: []roles.RequirementDef{{Role: "SHO", Action: "FORWARD", Kind: "ground_report", SatisfiedWhen: "role =="}},
	})
	require.NoError(t, err)

	_, err = Transition(heldBy(catalog.StatusForwarded, sho, applicant), ActionInput{
		Action: catalog.ActionForward, Remarks: "x", NextAssigneeID: acp.ID,
	}, TransitionEnv{Hierarchy: h, Actor: sho, NextAssignee: &acp})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestOutcomeStampAndAttachRefs(t *testing.T) {
	out, err := Transition(heldBy(catalog.StatusForwarded, acp, sho), ActionInput{
		Action: catalog.ActionReturn, Remarks: "fix form", NextAssigneeID: sho.ID,
	}, envFor(acp, &sho))
	require.NoError(t, err)

	refs := []types.AttachmentRef{{ID: "r1", Kind: "note", URL: "mem://r1"}}
	out.AttachRefs(refs)
	out.Stamp(99)
	refs[0].URL = "changed"

	last := out.Application.History[len(out.Application.History)-1]
	assert.Equal(t, uint64(99), out.Entry.ID)
	assert.Equal(t, out.Entry, last)
	assert.Equal(t, "mem://r1", last.Attachments[0].URL)

	commit := out.Commit()
	assert.Equal(t, int64(3), commit.ExpectedVersion)
	assert.Equal(t, out.Entry, commit.Entry)
}

func TestFacts(t *testing.T) {
	app := heldBy(catalog.StatusGroundReportGenerated, sho, applicant)
	app.IsGroundReportGenerated = true
	facts := Facts(app, ActionInput{
		Action:      catalog.ActionForward,
		Attachments: []types.AttachmentDescriptor{{Kind: "photo"}},
	}, sho)

	assert.Equal(t, "SHO", facts["role"])
	assert.Equal(t, "FORWARD", facts["action"])
	assert.Equal(t, "GROUND_REPORT_GENERATED", facts["status"])
	assert.Equal(t, true, facts["ground_report_generated"])
	assert.Equal(t, 2, facts["history_length"])
	assert.Equal(t, []string{"photo"}, facts["attachment_kinds"])
}
