package domain

import (
	"slices"
	"strings"
	"time"

	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/internal/pipeline"

	"github.com/google/uuid"
)

// groupNamespace seeds name-based group ids so the same user, company and
// title always map to the same group.
var groupNamespace = uuid.MustParse("6f1c8a2e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// EmailIDsByStatus buckets member email ids by the status each email reported.
type EmailIDsByStatus map[emaildomain.ApplicationStatus][]string

// ApplicationGroup is the deduplicated view of one application across all
// emails that concern it.
type ApplicationGroup struct {
	ID               string                        `json:"id" gorm:"primaryKey"`
	UserID           string                        `json:"user_id" gorm:"index;not null"`
	CompanyTitle     string                        `json:"company_title" gorm:"index"`
	JobTitle         string                        `json:"job_title"`
	PlaceholderTitle bool                          `json:"placeholder_title"`
	EmailIDs         EmailIDsByStatus              `json:"email_ids" gorm:"type:text;serializer:json"`
	LastUpdated      time.Time                     `json:"last_updated" gorm:"index"`
	LastEmailSubject string                        `json:"last_email_subject"`
	LastStatus       emaildomain.ApplicationStatus `json:"last_status"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

// GroupChangeEvent is published after every committed write to a group.
type GroupChangeEvent struct {
	Op     pipeline.ChangeOp `json:"op"`
	Before *ApplicationGroup `json:"before,omitempty"`
	After  *ApplicationGroup `json:"after,omitempty"`
}

// Normalize lowercases s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GroupKey derives the deterministic group id for a user, company and title.
func GroupKey(userID, company, title string) string {
	name := userID + "\x00" + Normalize(company) + "\x00" + Normalize(title)
	return uuid.NewSHA1(groupNamespace, []byte(name)).String()
}

// SuccessorKey is the id of a group opened by emailID when the group at
// GroupKey for the same role already exists but cannot take the email.
func SuccessorKey(userID, company, title, emailID string) string {
	return GroupKey(userID, company, title+"\x00"+emailID)
}

// PlaceholderTitle returns the synthetic title used when an email names no
// role. It is unique per email and stable across redelivery.
func PlaceholderTitle(emailID string) string {
	return "untitled-" + uuid.NewSHA1(groupNamespace, []byte(emailID)).String()
}

// NewGroup creates a group seeded with a single email.
func NewGroup(e *emaildomain.EmailRecord) *ApplicationGroup {
	title := e.JobTitle
	placeholder := false
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle(e.ID)
		placeholder = true
	}
	return &ApplicationGroup{
		ID:               GroupKey(e.UserID, e.CompanyTitle, title),
		UserID:           e.UserID,
		CompanyTitle:     e.CompanyTitle,
		JobTitle:         title,
		PlaceholderTitle: placeholder,
		EmailIDs:         EmailIDsByStatus{e.ApplicationStatus: {e.ID}},
		LastUpdated:      e.SentOn,
		LastEmailSubject: e.Subject,
		LastStatus:       e.ApplicationStatus,
	}
}

// Contains reports whether emailID is a member under any status.
func (g *ApplicationGroup) Contains(emailID string) bool {
	for _, ids := range g.EmailIDs {
		if slices.Contains(ids, emailID) {
			return true
		}
	}
	return false
}

// AllEmailIDs flattens the status buckets in status order.
func (g *ApplicationGroup) AllEmailIDs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, status := range g.statusKeys() {
		for _, id := range g.EmailIDs[status] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (g *ApplicationGroup) statusKeys() []emaildomain.ApplicationStatus {
	keys := slices.Clone(emaildomain.Statuses)
	for status := range g.EmailIDs {
		if !slices.Contains(keys, status) {
			keys = append(keys, status)
		}
	}
	return keys
}

// Merge adds e under its status bucket and refreshes the last_* fields when
// e is the newest member. A titled email replaces a placeholder title.
// Merging the same email twice is a no-op.
func (g *ApplicationGroup) Merge(e *emaildomain.EmailRecord) {
	if g.EmailIDs == nil {
		g.EmailIDs = EmailIDsByStatus{}
	}
	if !slices.Contains(g.EmailIDs[e.ApplicationStatus], e.ID) {
		g.EmailIDs[e.ApplicationStatus] = append(g.EmailIDs[e.ApplicationStatus], e.ID)
	}
	if g.PlaceholderTitle && strings.TrimSpace(e.JobTitle) != "" {
		g.JobTitle = e.JobTitle
		g.PlaceholderTitle = false
	}
	if g.LastUpdated.IsZero() || e.SentOn.After(g.LastUpdated) {
		g.LastUpdated = e.SentOn
		g.LastEmailSubject = e.Subject
		g.LastStatus = e.ApplicationStatus
	}
}

// Clone returns a deep copy, used to capture the before image of a write.
func (g *ApplicationGroup) Clone() *ApplicationGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.EmailIDs = make(EmailIDsByStatus, len(g.EmailIDs))
	for status, ids := range g.EmailIDs {
		c.EmailIDs[status] = slices.Clone(ids)
	}
	return &c
}
