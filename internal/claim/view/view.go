// Package view derives the role-specific read models of the claim list pages:
// visibility, sections, search, pagination and the status timeline.
package view

import (
	"sort"
	"strings"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
)

// Page sizes of the claims list and the dashboard.
const (
	ClaimsPageSize    = 10
	DashboardPageSize = 5
)

// Section 列表分区
type Section string

const (
	SectionApprover        Section = "approver"
	SectionInsurerReview   Section = "insurer_review"
	SectionOthers          Section = "others"
	SectionDraft           Section = "draft"
	SectionPendingApprover Section = "pending_approver"
	SectionPendingInsurer  Section = "pending_insurer"
	SectionPendingManager  Section = "pending_manager"
)

// ClaimsSections is the section order of the claims page.
var ClaimsSections = []Section{SectionApprover, SectionInsurerReview, SectionOthers}

// DashboardSections is the section order of the dashboard.
var DashboardSections = []Section{
	SectionDraft, SectionPendingApprover, SectionPendingInsurer, SectionPendingManager, SectionOthers,
}

// Filter narrows a claim collection. Zero fields match everything.
type Filter struct {
	Statuses       []entity.Status
	CreatedByEmail string
	ApproverID     string
	CategoryMain   string
	CategorySub    string
	Query          string
}

// Match reports whether c passes every set criterion.
func (f Filter) Match(c *entity.Claim) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedByEmail != "" && !strings.EqualFold(f.CreatedByEmail, c.CreatedByEmail) {
		return false
	}
	if f.ApproverID != "" && f.ApproverID != c.ApproverID {
		return false
	}
	if f.CategoryMain != "" && f.CategoryMain != c.CategoryMain {
		return false
	}
	if f.CategorySub != "" && f.CategorySub != c.CategorySub {
		return false
	}
	return f.Query == "" || MatchQuery(c, f.Query)
}

// MatchQuery is the free-text search of the list pages.
func MatchQuery(c *entity.Claim, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	fields := []string{
		c.CreatedByName,
		c.DocNum,
		c.Form().Cause,
		string(c.Status),
		c.InsurerComment,
	}
	if c.SubmittedAt != nil {
		fields = append(fields, c.SubmittedAt.Format("2006-01-02"))
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Visible is the list visibility rule. Drafts belong to their creator only; the
// insurance and manager roles never see drafts or claims still waiting for the
// first-line approver unless they are that approver.
func Visible(actor workflow.Actor, c *entity.Claim) bool {
	if actor.IsCreator(c) {
		return true
	}
	if c.Status == entity.StatusDraft {
		return false
	}
	if actor.IsApprover(c) {
		return true
	}
	switch actor.Role {
	case entity.RoleInsurance, entity.RoleManager:
		return c.Status != entity.StatusPendingApproverReview
	}
	return false
}

// Select returns the claims the actor may see that also pass f, newest first.
func Select(actor workflow.Actor, claims []*entity.Claim, f Filter) []*entity.Claim {
	out := make([]*entity.Claim, 0, len(claims))
	for _, c := range claims {
		if Visible(actor, c) && f.Match(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Page is one page of a claim list.
type Page struct {
	Items      []*entity.Claim `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

// Paginate cuts page (1-based) out of claims. Out of range pages are empty.
func Paginate(claims []*entity.Claim, page, size int) Page {
	if size <= 0 {
		size = ClaimsPageSize
	}
	if page < 1 {
		page = 1
	}
	p := Page{
		Items:      []*entity.Claim{},
		Page:       page,
		PageSize:   size,
		Total:      len(claims),
		TotalPages: (len(claims) + size - 1) / size,
	}
	start := (page - 1) * size
	if start >= len(claims) {
		return p
	}
	end := start + size
	if end > len(claims) {
		end = len(claims)
	}
	p.Items = claims[start:end]
	return p
}

// ClaimsSection assigns a visible claim to its section on the claims page.
func ClaimsSection(actor workflow.Actor, c *entity.Claim) Section {
	switch {
	case c.Status != entity.StatusDraft && actor.IsApprover(c):
		return SectionApprover
	case actor.Role == entity.RoleInsurance && c.Status == entity.StatusPendingInsurerReview:
		return SectionInsurerReview
	}
	return SectionOthers
}

// DashboardSection assigns a visible claim to its dashboard section. The second
// result is false for claims the dashboard does not show at all.
func DashboardSection(actor workflow.Actor, c *entity.Claim) (Section, bool) {
	own := actor.IsCreator(c)
	switch c.Status {
	case entity.StatusDraft:
		return SectionDraft, own
	case entity.StatusPendingApproverReview:
		if own || actor.IsApprover(c) {
			return SectionPendingApprover, true
		}
	case entity.StatusPendingInsurerReview:
		if actor.Role == entity.RoleInsurance {
			return SectionPendingInsurer, true
		}
	case entity.StatusPendingManagerReview:
		if actor.Role == entity.RoleManager {
			return SectionPendingManager, true
		}
	case entity.StatusRejected, entity.StatusCompleted:
		return "", false
	}
	if actor.Role == entity.RoleUser && !own {
		return "", false
	}
	return SectionOthers, true
}

// Sections groups the visible claims into pages per section.
type Sections map[Section]Page

// BuildClaimsPage partitions the visible claims for the claims page.
func BuildClaimsPage(actor workflow.Actor, claims []*entity.Claim, f Filter, pages map[Section]int) Sections {
	groups := make(map[Section][]*entity.Claim, len(ClaimsSections))
	for _, c := range Select(actor, claims, f) {
		s := ClaimsSection(actor, c)
		groups[s] = append(groups[s], c)
	}
	out := make(Sections, len(ClaimsSections))
	for _, s := range ClaimsSections {
		out[s] = Paginate(groups[s], pages[s], ClaimsPageSize)
	}
	return out
}

// BuildDashboard partitions the visible claims for the dashboard.
func BuildDashboard(actor workflow.Actor, claims []*entity.Claim, q string, pages map[Section]int) Sections {
	groups := make(map[Section][]*entity.Claim, len(DashboardSections))
	for _, c := range Select(actor, claims, Filter{Query: q}) {
		if s, ok := DashboardSection(actor, c); ok {
			groups[s] = append(groups[s], c)
		}
	}
	out := make(Sections, len(DashboardSections))
	for _, s := range DashboardSections {
		out[s] = Paginate(groups[s], pages[s], DashboardPageSize)
	}
	return out
}

// StepState 时间线节点状态
type StepState string

const (
	StepDone     StepState = "done"
	StepCurrent  StepState = "current"
	StepPending  StepState = "pending"
	StepRejected StepState = "rejected"
)

// Step is one node of the claim timeline.
type Step struct {
	Status entity.Status `json:"status"`
	Date   *time.Time    `json:"date,omitempty"`
	State  StepState     `json:"state"`
}

// TimelineSteps are the milestones shown on the claim timeline, in order.
var TimelineSteps = []entity.Status{
	entity.StatusPendingApproverReview,
	entity.StatusPendingInsurerReview,
	entity.StatusPendingInsurerForm,
	entity.StatusPendingManagerReview,
	entity.StatusPendingUserConfirm,
	entity.StatusCompleted,
}

// Timeline renders the progress of c over TimelineSteps.
func Timeline(c *entity.Claim) []Step {
	current := c.Status
	if current == entity.StatusAwaitingEvidence {
		current = entity.StatusPendingInsurerReview
	}
	pos := -1
	for i, s := range TimelineSteps {
		if s == current {
			pos = i
		}
	}

	steps := make([]Step, 0, len(TimelineSteps)+1)
	for i, s := range TimelineSteps {
		st := Step{Status: s, State: StepPending}
		if d, ok := c.StatusDates[s]; ok {
			d := d
			st.Date = &d
		}
		switch {
		case c.Status == entity.StatusRejected:
			if st.Date != nil {
				st.State = StepDone
			}
		case i < pos:
			st.State = StepDone
		case i == pos:
			st.State = StepCurrent
			if s == entity.StatusCompleted {
				st.State = StepDone
			}
		}
		steps = append(steps, st)
	}
	if c.Status == entity.StatusRejected {
		st := Step{Status: entity.StatusRejected, State: StepRejected}
		if d, ok := c.StatusDates[entity.StatusRejected]; ok {
			st.Date = &d
		}
		steps = append(steps, st)
	}
	return steps
}
