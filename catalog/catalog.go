package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// Bucket keys used by listing screens.
const (
	BucketDraft        = "draft"
	BucketPending      = "pending"
	BucketForwarded    = "forwarded"
	BucketReturned     = "returned"
	BucketRedFlagged   = "red-flagged"
	BucketReEnquiry    = "re-enquiry"
	BucketGroundReport = "ground-report"
	BucketSent         = "sent"
	BucketApproved     = "approved"
	BucketRejected     = "rejected"
	BucketDisposed     = "disposed"
	BucketClosed       = "closed"
	BucketCancelled    = "cancelled"
)

// Perspective selects which assignee an inbox filter matches for a bucket.
type Perspective string

const (
	// PerspectiveCurrent matches the officer currently responsible.
	PerspectiveCurrent Perspective = "current"
	// PerspectivePrevious matches the officer who handed the application on.
	PerspectivePrevious Perspective = "previous"
)

var (
	ErrUnknownCode     = errors.New("unknown code")
	ErrActionNotFound  = errors.New("action not found")
	ErrUnbucketed      = errors.New("status is not covered by any bucket")
	ErrDuplicateBucket = errors.New("duplicate bucket key")
)

// Status is a catalog entry for a status code.
type Status struct {
	Code  StatusCode
	Label string
}

// Action is a catalog entry for an action code.
type Action struct {
	Code        ActionCode
	DisplayName string
	Priority    int
	Active      bool

	order int
}

// Bucket groups status codes under a listing key.
type Bucket struct {
	Key         string
	Label       string
	Perspective Perspective
	Codes       map[StatusCode]struct{}
}

// Catalog is the read-only vocabulary of statuses, actions and buckets.
// Build it once with New or Default and share it.
type Catalog struct {
	statuses map[StatusCode]Status
	actions  map[ActionCode]Action
	ordered  []Action
	buckets  map[string]Bucket
	keys     []string
	byStatus map[StatusCode][]string
}

// Definition is the configurable part of the catalog. Codes are referenced by
// key and must exist in the closed enumerations.
type Definition struct {
	Statuses []StatusDef `yaml:"statuses" validate:"dive"`
	Actions  []ActionDef `yaml:"actions" validate:"dive"`
	Buckets  []BucketDef `yaml:"buckets" validate:"dive"`
}

type StatusDef struct {
	Code  string `yaml:"code" validate:"required"`
	Label string `yaml:"label"`
}

type ActionDef struct {
	Code     string `yaml:"code" validate:"required"`
	Label    string `yaml:"label"`
	Priority *int   `yaml:"priority"`
	Active   *bool  `yaml:"active"`
}

type BucketDef struct {
	Key         string   `yaml:"key" validate:"required"`
	Label       string   `yaml:"label"`
	Perspective string   `yaml:"perspective" validate:"omitempty,oneof=current previous"`
	Statuses    []string `yaml:"statuses" validate:"required,min=1"`
}

// New builds a catalog from the defaults overlaid with def. Bucket definitions,
// when present, replace the default bucket table entirely.
func New(def Definition) (*Catalog, error) {
	c := &Catalog{
		statuses: make(map[StatusCode]Status),
		actions:  make(map[ActionCode]Action),
		buckets:  make(map[string]Bucket),
		byStatus: make(map[StatusCode][]string),
	}
	for _, s := range Statuses() {
		c.statuses[s] = Status{Code: s, Label: defaultStatusLabels[s]}
	}
	for i, a := range ActionCodes() {
		d := defaultActions[a]
		c.actions[a] = Action{Code: a, DisplayName: d.label, Priority: d.priority, Active: true, order: i}
	}

	for _, sd := range def.Statuses {
		code, err := ParseStatus(sd.Code)
		if err != nil {
			return nil, err
		}
		if sd.Label != "" {
			st := c.statuses[code]
			st.Label = sd.Label
			c.statuses[code] = st
		}
	}
	for _, ad := range def.Actions {
		code, err := ParseAction(ad.Code)
		if err != nil {
			return nil, err
		}
		act := c.actions[code]
		if ad.Label != "" {
			act.DisplayName = ad.Label
		}
		if ad.Priority != nil {
			act.Priority = *ad.Priority
		}
		if ad.Active != nil {
			act.Active = *ad.Active
		}
		c.actions[code] = act
	}

	buckets := def.Buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	for _, bd := range buckets {
		if _, dup := c.buckets[bd.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBucket, bd.Key)
		}
		b := Bucket{
			Key:         bd.Key,
			Label:       bd.Label,
			Perspective: Perspective(bd.Perspective),
			Codes:       make(map[StatusCode]struct{}, len(bd.Statuses)),
		}
		if b.Perspective == "" {
			b.Perspective = PerspectiveCurrent
		}
		for _, raw := range bd.Statuses {
			code, err := ParseStatus(raw)
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", bd.Key, err)
			}
			if _, seen := b.Codes[code]; !seen {
				b.Codes[code] = struct{}{}
				c.byStatus[code] = append(c.byStatus[code], b.Key)
			}
		}
		c.buckets[b.Key] = b
		c.keys = append(c.keys, b.Key)
	}

	for _, s := range Statuses() {
		if len(c.byStatus[s]) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnbucketed, s)
		}
	}

	c.ordered = make([]Action, 0, len(c.actions))
	for _, a := range c.actions {
		c.ordered = append(c.ordered, a)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if c.ordered[i].Priority != c.ordered[j].Priority {
			return c.ordered[i].Priority < c.ordered[j].Priority
		}
		return c.ordered[i].order < c.ordered[j].order
	})
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(Definition{})
	if err != nil {
		panic(fmt.Sprintf("default catalog is invalid: %v", err))
	}
	return c
}

// ResolveAction returns the active catalog entry for code.
func (c *Catalog) ResolveAction(code ActionCode) (Action, error) {
	a, ok := c.actions[code]
	if !ok || !a.Active {
		return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, code)
	}
	return a, nil
}

// Actions returns the active actions ordered by priority, ties broken by
// catalog order.
func (c *Catalog) Actions() []Action {
	out := make([]Action, 0, len(c.ordered))
	for _, a := range c.ordered {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Status returns the catalog entry for code.
func (c *Catalog) Status(code StatusCode) (Status, bool) {
	s, ok := c.statuses[code]
	return s, ok
}

// BucketsOf returns every bucket key containing status.
func (c *Catalog) BucketsOf(status StatusCode) []string {
	return append([]string(nil), c.byStatus[status]...)
}

// CodesForBucket returns the status codes of a bucket. An unknown key yields
// an empty set.
func (c *Catalog) CodesForBucket(key string) map[StatusCode]struct{} {
	b, ok := c.buckets[key]
	if !ok {
		return map[StatusCode]struct{}{}
	}
	out := make(map[StatusCode]struct{}, len(b.Codes))
	for code := range b.Codes {
		out[code] = struct{}{}
	}
	return out
}

// Bucket returns the bucket for key.
func (c *Catalog) Bucket(key string) (Bucket, bool) {
	b, ok := c.buckets[key]
	return b, ok
}

// BucketKeys returns every bucket key in definition order.
func (c *Catalog) BucketKeys() []string {
	return append([]string(nil), c.keys...)
}

var defaultStatusLabels = map[StatusCode]string{
	StatusDraft:                 "Draft",
	StatusForwarded:             "Forwarded",
	StatusReturned:              "Returned",
	StatusRedFlagged:            "Red Flagged",
	StatusRecommended:           "Recommended",
	StatusNotRecommended:        "Not Recommended",
	StatusReEnquiry:             "Re-Enquiry",
	StatusReEnquiryDone:         "Re-Enquiry Done",
	StatusGroundReportGenerated: "Ground Report Generated",
	StatusFLAFGenerated:         "FLAF Generated",
	StatusApproved:              "Approved",
	StatusRejected:              "Rejected",
	StatusDisposed:              "Disposed",
	StatusClosed:                "Closed",
	StatusCancelled:             "Cancelled",
}

var defaultActions = map[ActionCode]struct {
	label    string
	priority int
}{
	ActionForward:              {"Forward", 10},
	ActionRecommend:            {"Recommend", 20},
	ActionNotRecommend:         {"Not Recommend", 30},
	ActionReturn:               {"Return", 40},
	ActionRedFlag:              {"Red Flag", 50},
	ActionReEnquiry:            {"Re-Enquiry", 60},
	ActionReEnquiryDone:        {"Re-Enquiry Done", 70},
	ActionGenerateGroundReport: {"Generate Ground Report", 80},
	ActionGenerateFLAF:         {"Generate FLAF", 90},
	ActionApprove:              {"Approve", 100},
	ActionReject:               {"Reject", 110},
	ActionDispose:              {"Dispose", 120},
	ActionClose:                {"Close", 130},
	ActionCancel:               {"Cancel", 140},
}

var inProgress = []string{
	"FORWARDED", "RETURNED", "RED_FLAGGED", "RECOMMENDED", "NOT_RECOMMENDED",
	"RE_ENQUIRY", "RE_ENQUIRY_DONE", "GROUND_REPORT_GENERATED", "FLAF_GENERATED",
}

var defaultBuckets = []BucketDef{
	{Key: BucketDraft, Label: "Drafts", Statuses: []string{"DRAFT"}},
	{Key: BucketPending, Label: "Pending", Statuses: inProgress},
	{Key: BucketForwarded, Label: "Forwarded", Statuses: []string{"FORWARDED", "RECOMMENDED", "NOT_RECOMMENDED", "RE_ENQUIRY_DONE"}},
	{Key: BucketReturned, Label: "Returned", Statuses: []string{"RETURNED"}},
	{Key: BucketRedFlagged, Label: "Red Flagged", Statuses: []string{"RED_FLAGGED"}},
	{Key: BucketReEnquiry, Label: "Re-Enquiry", Statuses: []string{"RE_ENQUIRY", "RE_ENQUIRY_DONE"}},
	{Key: BucketGroundReport, Label: "Ground Report", Statuses: []string{"GROUND_REPORT_GENERATED"}},
	{Key: BucketSent, Label: "Sent", Perspective: string(PerspectivePrevious), Statuses: []string{
		"FORWARDED", "RETURNED", "RED_FLAGGED", "RECOMMENDED", "NOT_RECOMMENDED", "RE_ENQUIRY", "RE_ENQUIRY_DONE",
	}},
	{Key: BucketApproved, Label: "Approved", Statuses: []string{"APPROVED"}},
	{Key: BucketRejected, Label: "Rejected", Statuses: []string{"REJECTED"}},
	{Key: BucketDisposed, Label: "Disposed", Statuses: []string{"DISPOSED"}},
	{Key: BucketClosed, Label: "Closed", Statuses: []string{"CLOSED"}},
	{Key: BucketCancelled, Label: "Cancelled", Statuses: []string{"CANCELLED"}},
}
