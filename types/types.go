package types

import (
	"io"

	"github.com/songzhibin97/license-workflow/catalog"
)

// Application is a license application moving through the review hierarchy.
type Application struct {
	ID             string             `json:"id" db:"id"`
	ApplicantID    string             `json:"applicant_id" db:"applicant_id"`
	StatusCode     catalog.StatusCode `json:"status_code" db:"status_code"`
	CurrentRoleID  string             `json:"current_role_id,omitempty" db:"current_role_id"`
	CurrentUserID  string             `json:"current_user_id,omitempty" db:"current_user_id"`
	PreviousRoleID string             `json:"previous_role_id,omitempty" db:"previous_role_id"`
	PreviousUserID string             `json:"previous_user_id,omitempty" db:"previous_user_id"`

	IsApproved              bool `json:"is_approved" db:"is_approved"`
	IsRejected              bool `json:"is_rejected" db:"is_rejected"`
	IsPending               bool `json:"is_pending" db:"is_pending"`
	IsReEnquiry             bool `json:"is_re_enquiry" db:"is_re_enquiry"`
	IsReEnquiryDone         bool `json:"is_re_enquiry_done" db:"is_re_enquiry_done"`
	IsGroundReportGenerated bool `json:"is_ground_report_generated" db:"is_ground_report_generated"`
	IsFLAFGenerated         bool `json:"is_flaf_generated" db:"is_flaf_generated"`

	// Version is bumped on every accepted transition and used for optimistic commits.
	Version   int64 `json:"version" db:"version"`
	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`

	History     []HistoryEntry  `json:"history,omitempty" db:"-"`
	Attachments []AttachmentRef `json:"attachments,omitempty" db:"-"`
}

// Clone returns a copy that shares no slices with a.
func (a Application) Clone() Application {
	out := a
	if a.History != nil {
		out.History = make([]HistoryEntry, len(a.History))
		for i, h := range a.History {
			out.History[i] = h.Clone()
		}
	}
	if a.Attachments != nil {
		out.Attachments = append([]AttachmentRef(nil), a.Attachments...)
	}
	return out
}

// HistoryEntry is the immutable audit record of one accepted transition.
type HistoryEntry struct {
	ID             uint64             `json:"id" db:"id"`
	ApplicationID  string             `json:"application_id" db:"application_id"`
	Sequence       int                `json:"sequence" db:"sequence"`
	PreviousUserID string             `json:"previous_user_id" db:"previous_user_id"`
	PreviousRoleID string             `json:"previous_role_id" db:"previous_role_id"`
	ActionTaken    catalog.ActionCode `json:"action_taken" db:"action_taken"`
	StatusBefore   catalog.StatusCode `json:"status_before" db:"status_before"`
	StatusAfter    catalog.StatusCode `json:"status_after" db:"status_after"`
	NextUserID     string             `json:"next_user_id,omitempty" db:"next_user_id"`
	NextRoleID     string             `json:"next_role_id,omitempty" db:"next_role_id"`
	Remarks        string             `json:"remarks" db:"remarks"`
	Attachments    []AttachmentRef    `json:"attachments,omitempty" db:"-"`
	CreatedAt      int64              `json:"created_at" db:"created_at"`
}

// Clone returns a copy that shares no slices with h.
func (h HistoryEntry) Clone() HistoryEntry {
	out := h
	if h.Attachments != nil {
		out.Attachments = append([]AttachmentRef(nil), h.Attachments...)
	}
	return out
}

// User is an officer or applicant known to the directory.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	RoleCode string `json:"role_code" yaml:"role"`
}

// AttachmentDescriptor describes a document to hand to the attachment store.
// The engine never reads Body.
type AttachmentDescriptor struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Body        io.Reader `json:"-"`
}

// AttachmentRef is the stable reference returned by the attachment store.
type AttachmentRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Commit is what the persistence store applies atomically: the new
// application state and the history entry appended by the transition.
type Commit struct {
	ExpectedVersion int64        `json:"expected_version"`
	Application     Application  `json:"application"`
	Entry           HistoryEntry `json:"entry"`
}
