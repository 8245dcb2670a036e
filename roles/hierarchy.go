package roles

import (
	"errors"
	"fmt"
	"sort"

	"github.com/songzhibin97/license-workflow/catalog"
)

// Capability gates which actions a role may submit.
type Capability string

const (
	CanForward           Capability = "forward"
	CanReturn            Capability = "return"
	CanRedFlag           Capability = "red-flag"
	CanRecommend         Capability = "recommend"
	CanReEnquiry         Capability = "re-enquiry"
	CanGenerateGround    Capability = "ground-report"
	CanGenerateFLAF      Capability = "flaf"
	CanApproveFinal      Capability = "approve-final"
	CanDispose           Capability = "dispose"
	CanClose             Capability = "close"
	CanCancel            Capability = "cancel"
	CanCompleteReEnquiry Capability = "complete-re-enquiry"
)

var capabilities = map[Capability]struct{}{
	CanForward: {}, CanReturn: {}, CanRedFlag: {}, CanRecommend: {}, CanReEnquiry: {},
	CanGenerateGround: {}, CanGenerateFLAF: {}, CanApproveFinal: {}, CanDispose: {},
	CanClose: {}, CanCancel: {}, CanCompleteReEnquiry: {},
}

// RequiredCapability returns the capability an action needs.
func RequiredCapability(a catalog.ActionCode) Capability {
	switch a {
	case catalog.ActionForward:
		return CanForward
	case catalog.ActionReturn:
		return CanReturn
	case catalog.ActionRedFlag:
		return CanRedFlag
	case catalog.ActionRecommend, catalog.ActionNotRecommend:
		return CanRecommend
	case catalog.ActionReEnquiry:
		return CanReEnquiry
	case catalog.ActionReEnquiryDone:
		return CanCompleteReEnquiry
	case catalog.ActionGenerateGroundReport:
		return CanGenerateGround
	case catalog.ActionGenerateFLAF:
		return CanGenerateFLAF
	case catalog.ActionApprove, catalog.ActionReject:
		return CanApproveFinal
	case catalog.ActionDispose:
		return CanDispose
	case catalog.ActionClose:
		return CanClose
	case catalog.ActionCancel:
		return CanCancel
	}
	return ""
}

var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrDuplicateRole     = errors.New("duplicate role")
)

// Role is a reviewer role in the hierarchy.
type Role struct {
	Code         string
	Label        string
	Rank         int
	Capabilities map[Capability]struct{}
}

// Has reports whether the role carries c.
func (r Role) Has(c Capability) bool {
	_, ok := r.Capabilities[c]
	return ok
}

// ArtifactRequirement names a document a role must supply before an action
// is accepted. SatisfiedWhen, if set, is a predicate over application facts
// that waives the requirement (for example, a ground report already on file).
type ArtifactRequirement struct {
	Role          string
	Action        catalog.ActionCode
	Kind          string
	SatisfiedWhen string
}

type requirementKey struct {
	role   string
	action catalog.ActionCode
}

// Hierarchy is the ordered, read-only set of roles.
type Hierarchy struct {
	roles        map[string]Role
	ordered      []Role
	requirements map[requirementKey]ArtifactRequirement
}

// Definition is the configurable form of a hierarchy.
type Definition struct {
	Roles        []RoleDef        `yaml:"roles" validate:"dive"`
	Requirements []RequirementDef `yaml:"artifact_requirements" validate:"dive"`
}

type RoleDef struct {
	Code         string   `yaml:"code" validate:"required"`
	Label        string   `yaml:"label"`
	Rank         int      `yaml:"rank" validate:"gte=0"`
	Capabilities []string `yaml:"capabilities"`
}

type RequirementDef struct {
	Role          string `yaml:"role" validate:"required"`
	Action        string `yaml:"action" validate:"required"`
	Kind          string `yaml:"kind" validate:"required"`
	SatisfiedWhen string `yaml:"satisfied_when"`
}

// New builds a hierarchy from def. An empty role list selects the defaults.
func New(def Definition) (*Hierarchy, error) {
	if len(def.Roles) == 0 {
		def.Roles = defaultRoles
		if len(def.Requirements) == 0 {
			def.Requirements = defaultRequirements
		}
	}

	h := &Hierarchy{
		roles:        make(map[string]Role, len(def.Roles)),
		requirements: make(map[requirementKey]ArtifactRequirement),
	}
	for _, rd := range def.Roles {
		if _, dup := h.roles[rd.Code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, rd.Code)
		}
		r := Role{Code: rd.Code, Label: rd.Label, Rank: rd.Rank, Capabilities: make(map[Capability]struct{})}
		for _, c := range rd.Capabilities {
			if _, ok := capabilities[Capability(c)]; !ok {
				return nil, fmt.Errorf("role %s: %w: %s", rd.Code, ErrUnknownCapability, c)
			}
			r.Capabilities[Capability(c)] = struct{}{}
		}
		h.roles[r.Code] = r
		h.ordered = append(h.ordered, r)
	}
	sort.SliceStable(h.ordered, func(i, j int) bool { return h.ordered[i].Rank < h.ordered[j].Rank })

	for _, qd := range def.Requirements {
		if _, ok := h.roles[qd.Role]; !ok {
			return nil, fmt.Errorf("artifact requirement: %w: %s", ErrUnknownRole, qd.Role)
		}
		action, err := catalog.ParseAction(qd.Action)
		if err != nil {
			return nil, fmt.Errorf("artifact requirement: %w", err)
		}
		h.requirements[requirementKey{qd.Role, action}] = ArtifactRequirement{
			Role:          qd.Role,
			Action:        action,
			Kind:          qd.Kind,
			SatisfiedWhen: qd.SatisfiedWhen,
		}
	}
	return h, nil
}

// Default returns the built-in hierarchy.
func Default() *Hierarchy {
	h, err := New(Definition{})
	if err != nil {
		panic(fmt.Sprintf("default hierarchy is invalid: %v", err))
	}
	return h
}

// Role returns the role for code.
func (h *Hierarchy) Role(code string) (Role, bool) {
	r, ok := h.roles[code]
	return r, ok
}

// Roles returns all roles ordered by rank.
func (h *Hierarchy) Roles() []Role {
	return append([]Role(nil), h.ordered...)
}

// CanSubmit reports whether roleCode may submit action.
func (h *Hierarchy) CanSubmit(roleCode string, action catalog.ActionCode) bool {
	r, ok := h.roles[roleCode]
	if !ok {
		return false
	}
	need := RequiredCapability(action)
	return need != "" && r.Has(need)
}

// RequiresArtifact returns the artifact roleCode must attach for action, or nil.
func (h *Hierarchy) RequiresArtifact(roleCode string, action catalog.ActionCode) *ArtifactRequirement {
	req, ok := h.requirements[requirementKey{roleCode, action}]
	if !ok {
		return nil
	}
	return &req
}

// Requirements returns every artifact requirement.
func (h *Hierarchy) Requirements() []ArtifactRequirement {
	out := make([]ArtifactRequirement, 0, len(h.requirements))
	for _, r := range h.requirements {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Action < out[j].Action
	})
	return out
}

var defaultRoles = []RoleDef{
	{Code: "APPLICANT", Label: "Applicant", Rank: 0, Capabilities: []string{"forward", "cancel"}},
	{Code: "SHO", Label: "Station House Officer", Rank: 1, Capabilities: []string{
		"forward", "return", "red-flag", "ground-report", "complete-re-enquiry",
	}},
	{Code: "ACP", Label: "Assistant Commissioner", Rank: 2, Capabilities: []string{
		"forward", "return", "red-flag", "recommend", "complete-re-enquiry",
	}},
	{Code: "DCP", Label: "Deputy Commissioner", Rank: 3, Capabilities: []string{
		"forward", "return", "red-flag", "recommend", "re-enquiry", "complete-re-enquiry",
	}},
	{Code: "ZS", Label: "Zonal Superintendent", Rank: 4, Capabilities: []string{
		"forward", "return", "recommend", "re-enquiry", "flaf", "complete-re-enquiry",
	}},
	{Code: "JCP", Label: "Joint Commissioner", Rank: 5, Capabilities: []string{
		"forward", "return", "recommend", "re-enquiry", "dispose", "close",
	}},
	{Code: "CP", Label: "Commissioner", Rank: 6, Capabilities: []string{
		"return", "re-enquiry", "approve-final", "dispose", "close", "flaf",
	}},
}

var defaultRequirements = []RequirementDef{
	{Role: "SHO", Action: "FORWARD", Kind: "ground_report", SatisfiedWhen: "ground_report_generated"},
}
