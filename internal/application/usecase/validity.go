package usecase

import (
	appdomain "jobtrack-backend/internal/application/domain"
	emaildomain "jobtrack-backend/internal/email/domain"
)

// Validity reports whether e may be merged into g.
type Validity func(g *appdomain.ApplicationGroup, e *emaildomain.EmailRecord) bool

// AlwaysValid accepts every candidate.
func AlwaysValid(*appdomain.ApplicationGroup, *emaildomain.EmailRecord) bool {
	return true
}

// ChronologicalValidity refuses to reopen a finished application: an
// acknowledgment sent after the group reached Complete or Rejected starts a
// new application instead.
func ChronologicalValidity(g *appdomain.ApplicationGroup, e *emaildomain.EmailRecord) bool {
	if !g.LastStatus.Terminal() || g.LastUpdated.IsZero() {
		return true
	}
	if e.ApplicationStatus != emaildomain.StatusAcknowledged {
		return true
	}
	return !e.SentOn.After(g.LastUpdated)
}
