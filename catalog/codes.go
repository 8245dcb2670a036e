package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusCode is the workflow status of an application. The set is closed:
// every switch over StatusCode lists all values, and Statuses returns them.
type StatusCode int

const (
	StatusDraft                 StatusCode = 1
	StatusForwarded             StatusCode = 2
	StatusReturned              StatusCode = 3
	StatusRedFlagged            StatusCode = 4
	StatusRecommended           StatusCode = 5
	StatusNotRecommended        StatusCode = 6
	StatusReEnquiry             StatusCode = 7
	StatusReEnquiryDone         StatusCode = 8
	StatusGroundReportGenerated StatusCode = 9
	StatusFLAFGenerated         StatusCode = 10
	StatusApproved              StatusCode = 11
	StatusRejected              StatusCode = 12
	StatusDisposed              StatusCode = 13
	StatusClosed                StatusCode = 14
	StatusCancelled             StatusCode = 15
)

// Statuses returns every status code in numeric order.
func Statuses() []StatusCode {
	return []StatusCode{
		StatusDraft, StatusForwarded, StatusReturned, StatusRedFlagged,
		StatusRecommended, StatusNotRecommended, StatusReEnquiry, StatusReEnquiryDone,
		StatusGroundReportGenerated, StatusFLAFGenerated, StatusApproved, StatusRejected,
		StatusDisposed, StatusClosed, StatusCancelled,
	}
}

// String returns the stable key of the status, e.g. "FORWARDED".
func (s StatusCode) String() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusForwarded:
		return "FORWARDED"
	case StatusReturned:
		return "RETURNED"
	case StatusRedFlagged:
		return "RED_FLAGGED"
	case StatusRecommended:
		return "RECOMMENDED"
	case StatusNotRecommended:
		return "NOT_RECOMMENDED"
	case StatusReEnquiry:
		return "RE_ENQUIRY"
	case StatusReEnquiryDone:
		return "RE_ENQUIRY_DONE"
	case StatusGroundReportGenerated:
		return "GROUND_REPORT_GENERATED"
	case StatusFLAFGenerated:
		return "FLAF_GENERATED"
	case StatusApproved:
		return "APPROVED"
	case StatusRejected:
		return "REJECTED"
	case StatusDisposed:
		return "DISPOSED"
	case StatusClosed:
		return "CLOSED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "STATUS(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the known status codes.
func (s StatusCode) Valid() bool {
	return s >= StatusDraft && s <= StatusCancelled
}

// Terminal reports whether no further responsibility transfer happens from s.
func (s StatusCode) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusDisposed, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus accepts either the key ("FORWARDED") or the numeric code ("2").
func ParseStatus(v string) (StatusCode, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if s := StatusCode(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("%w: status %q", ErrUnknownCode, v)
	}
	for _, s := range Statuses() {
		if strings.EqualFold(s.String(), v) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: status %q", ErrUnknownCode, v)
}

// ActionCode is a decision an officer can submit.
type ActionCode int

const (
	ActionForward              ActionCode = 1
	ActionReturn               ActionCode = 2
	ActionRedFlag              ActionCode = 3
	ActionRecommend            ActionCode = 4
	ActionNotRecommend         ActionCode = 5
	ActionReEnquiry            ActionCode = 6
	ActionReEnquiryDone        ActionCode = 7
	ActionGenerateGroundReport ActionCode = 8
	ActionGenerateFLAF         ActionCode = 9
	ActionApprove              ActionCode = 10
	ActionReject               ActionCode = 11
	ActionDispose              ActionCode = 12
	ActionClose                ActionCode = 13
	ActionCancel               ActionCode = 14
)

// ActionCodes returns every action code in numeric order.
func ActionCodes() []ActionCode {
	return []ActionCode{
		ActionForward, ActionReturn, ActionRedFlag, ActionRecommend, ActionNotRecommend,
		ActionReEnquiry, ActionReEnquiryDone, ActionGenerateGroundReport, ActionGenerateFLAF,
		ActionApprove, ActionReject, ActionDispose, ActionClose, ActionCancel,
	}
}

// String returns the stable key of the action, e.g. "FORWARD".
func (a ActionCode) String() string {
	switch a {
	case ActionForward:
		return "FORWARD"
	case ActionReturn:
		return "RETURN"
	case ActionRedFlag:
		return "RED_FLAG"
	case ActionRecommend:
		return "RECOMMEND"
	case ActionNotRecommend:
		return "NOT_RECOMMEND"
	case ActionReEnquiry:
		return "RE_ENQUIRY"
	case ActionReEnquiryDone:
		return "RE_ENQUIRY_DONE"
	case ActionGenerateGroundReport:
		return "GENERATE_GROUND_REPORT"
	case ActionGenerateFLAF:
		return "GENERATE_FLAF"
	case ActionApprove:
		return "APPROVE"
	case ActionReject:
		return "REJECT"
	case ActionDispose:
		return "DISPOSE"
	case ActionClose:
		return "CLOSE"
	case ActionCancel:
		return "CANCEL"
	}
	return "ACTION(" + strconv.Itoa(int(a)) + ")"
}

// Valid reports whether a is one of the known action codes.
func (a ActionCode) Valid() bool {
	return a >= ActionForward && a <= ActionCancel
}

// ParseAction accepts either the key ("FORWARD") or the numeric code ("1").
func ParseAction(v string) (ActionCode, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if a := ActionCode(n); a.Valid() {
			return a, nil
		}
		return 0, fmt.Errorf("%w: action %q", ErrUnknownCode, v)
	}
	for _, a := range ActionCodes() {
		if strings.EqualFold(a.String(), v) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: action %q", ErrUnknownCode, v)
}

// Movement describes what an action does with responsibility.
type Movement int

const (
	// MoveHandover passes the application to a chosen next assignee.
	MoveHandover Movement = iota + 1
	// MoveInPlace keeps the application with the acting officer.
	MoveInPlace
	// MoveTerminal ends the workflow and clears the assignee.
	MoveTerminal
)

// Movement returns how a moves responsibility.
func (a ActionCode) Movement() Movement {
	switch a {
	case ActionForward, ActionReturn, ActionRedFlag, ActionRecommend,
		ActionNotRecommend, ActionReEnquiry, ActionReEnquiryDone:
		return MoveHandover
	case ActionGenerateGroundReport, ActionGenerateFLAF:
		return MoveInPlace
	case ActionApprove, ActionReject, ActionDispose, ActionClose, ActionCancel:
		return MoveTerminal
	}
	return 0
}
