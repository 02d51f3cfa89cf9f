package domain

import (
	"strconv"
	"time"

	"jobtrack-backend/internal/pipeline"

	"github.com/google/uuid"
)

// recordNamespace seeds record id suffixes.
var recordNamespace = uuid.MustParse("3a7e9c41-5b2d-5f80-b6c3-1d4e7f9a2c08")

// ApplicationStatus is the hiring stage a single email reports.
type ApplicationStatus string

const (
	StatusAcknowledged       ApplicationStatus = "Acknowledged"
	StatusInterviewRequested ApplicationStatus = "InterviewRequested"
	StatusProceed            ApplicationStatus = "Proceed"
	StatusOfferExtended      ApplicationStatus = "OfferExtended"
	StatusComplete           ApplicationStatus = "Complete"
	StatusRejected           ApplicationStatus = "Rejected"
)

// Statuses lists every status in pipeline order.
var Statuses = []ApplicationStatus{
	StatusAcknowledged,
	StatusInterviewRequested,
	StatusProceed,
	StatusOfferExtended,
	StatusComplete,
	StatusRejected,
}

func (s ApplicationStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further stage can follow s.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusComplete || s == StatusRejected
}

// EmailRecord is one classified job-application signal extracted from an
// email. A single message can yield several records.
type EmailRecord struct {
	ID                string            `json:"id" gorm:"primaryKey"`
	UserID            string            `json:"user_id" gorm:"index;not null"`
	CompanyTitle      string            `json:"company_title"`
	JobTitle          string            `json:"job_title"`
	ApplicationStatus ApplicationStatus `json:"application_status"`
	Confidence        float64           `json:"confidence"`
	GroupID           string            `json:"group_id" gorm:"index"`
	SourceBlobRef     string            `json:"source_blob_ref" gorm:"index"`
	SentOn            time.Time         `json:"sent_on"`
	Subject           string            `json:"subject"`
	From              string            `json:"from"`
	Preview           string            `json:"preview"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// EmailChangeEvent is published after every committed write to an EmailRecord.
type EmailChangeEvent struct {
	Op     pipeline.ChangeOp `json:"op"`
	Before *EmailRecord      `json:"before,omitempty"`
	After  *EmailRecord      `json:"after,omitempty"`
}

// Record returns the most recent image carried by the event.
func (e EmailChangeEvent) Record() *EmailRecord {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// RecordID derives the id of the index-th application found in a message.
// The suffix is name based, so reclassifying the same message reproduces it.
func RecordID(messageID string, index int, company, title string) string {
	name := messageID + "\x00" + strconv.Itoa(index) + "\x00" + company + "\x00" + title
	return messageID + "-" + uuid.NewSHA1(recordNamespace, []byte(name)).String()
}
