package workflow

import "github.com/songzhibin97/license-workflow/catalog"

type tableKey struct {
	from   catalog.StatusCode
	action catalog.ActionCode
}

// transitions is the fixed (status, action) -> status table.
var transitions = buildTable()

func buildTable() map[tableKey]catalog.StatusCode {
	t := make(map[tableKey]catalog.StatusCode)
	for _, from := range catalog.Statuses() {
		if from.Terminal() {
			continue
		}
		switch from {
		case catalog.StatusDraft:
			t[tableKey{from, catalog.ActionForward}] = catalog.StatusForwarded
			t[tableKey{from, catalog.ActionCancel}] = catalog.StatusCancelled
		case catalog.StatusReEnquiry:
			// The report is filed without leaving the re-enquiry, which
			// only RE_ENQUIRY_DONE completes.
			t[tableKey{from, catalog.ActionReEnquiryDone}] = catalog.StatusReEnquiryDone
			t[tableKey{from, catalog.ActionGenerateGroundReport}] = catalog.StatusReEnquiry
		default:
			for _, a := range catalog.ActionCodes() {
				if a == catalog.ActionReEnquiryDone {
					continue
				}
				t[tableKey{from, a}] = resultOf(a)
			}
		}
	}
	return t
}

// resultOf is the status an action leads to from an ordinary in-review status.
func resultOf(a catalog.ActionCode) catalog.StatusCode {
	switch a {
	case catalog.ActionForward:
		return catalog.StatusForwarded
	case catalog.ActionReturn:
		return catalog.StatusReturned
	case catalog.ActionRedFlag:
		return catalog.StatusRedFlagged
	case catalog.ActionRecommend:
		return catalog.StatusRecommended
	case catalog.ActionNotRecommend:
		return catalog.StatusNotRecommended
	case catalog.ActionReEnquiry:
		return catalog.StatusReEnquiry
	case catalog.ActionReEnquiryDone:
		return catalog.StatusReEnquiryDone
	case catalog.ActionGenerateGroundReport:
		return catalog.StatusGroundReportGenerated
	case catalog.ActionGenerateFLAF:
		return catalog.StatusFLAFGenerated
	case catalog.ActionApprove:
		return catalog.StatusApproved
	case catalog.ActionReject:
		return catalog.StatusRejected
	case catalog.ActionDispose:
		return catalog.StatusDisposed
	case catalog.ActionClose:
		return catalog.StatusClosed
	case catalog.ActionCancel:
		return catalog.StatusCancelled
	}
	panic("workflow: action without a resulting status: " + a.String())
}

// NextStatus returns the status reached by submitting action from status.
func NextStatus(from catalog.StatusCode, action catalog.ActionCode) (catalog.StatusCode, bool) {
	to, ok := transitions[tableKey{from, action}]
	return to, ok
}

// ReachableStatuses returns every status that appears as a transition target.
func ReachableStatuses() []catalog.StatusCode {
	seen := make(map[catalog.StatusCode]bool)
	var out []catalog.StatusCode
	for _, s := range catalog.Statuses() {
		for _, a := range catalog.ActionCodes() {
			if to, ok := NextStatus(s, a); ok && !seen[to] {
				seen[to] = true
				out = append(out, to)
			}
		}
	}
	return out
}
