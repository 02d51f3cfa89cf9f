package ai

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

// SystemInstructions frames the classification task and pins the output
// schema. Providers without structured output support rely on it alone.
var SystemInstructions = `You classify emails for a job seeker's application tracker.

Decide whether the email concerns one or more job applications the recipient submitted.
For each distinct application mentioned, report the company, the role, the current stage and your confidence.

Respond with a single JSON object and nothing else, using exactly this shape:
{
  "is_job_application": boolean,
  "applications": [
    {
      "company_title": string,       // hiring company, never the job board
      "job_title": string,           // exact role name, "" when the email does not name one
      "confidence": number,          // 0.0 to 1.0
      "application_status": string   // one of: ` + strings.Join(ApplicationStatuses, ", ") + `
    }
  ]
}

Status guide:
- Acknowledged: application received or under review
- InterviewRequested: asks to schedule or confirms an interview or assessment
- Proceed: moving to a later round without a specific interview request
- OfferExtended: an offer is made
- Complete: the process finished without rejection (e.g. offer accepted, position closed for you)
- Rejected: the application was declined

When the email is not about the recipient's own application (newsletters, job alerts, marketing), return {"is_job_application": false, "applications": []}.`

// ParseClassification decodes and validates model output. Surrounding prose
// or code fences are tolerated; schema violations are not. A tuple without a
// company is skipped and counted rather than failing its siblings.
func ParseClassification(raw string) (*Classification, error) {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}
	text = text[start : end+1]

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, ok := fields["is_job_application"]; !ok {
		return nil, fmt.Errorf("%w: missing is_job_application", ErrMalformedResponse)
	}

	var out Classification
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !out.IsJobApplication {
		out.Applications = nil
		return &out, nil
	}
	kept := out.Applications[:0]
	for i, app := range out.Applications {
		if err := validateSignal(app); err != nil {
			return nil, fmt.Errorf("%w: applications[%d]: %v", ErrMalformedResponse, i, err)
		}
		app.CompanyTitle = strings.TrimSpace(app.CompanyTitle)
		app.JobTitle = strings.TrimSpace(app.JobTitle)
		if app.CompanyTitle == "" {
			out.Skipped++
			continue
		}
		kept = append(kept, app)
	}
	out.Applications = kept
	return &out, nil
}

func validateSignal(app ApplicationSignal) error {
	if !slices.Contains(ApplicationStatuses, app.ApplicationStatus) {
		return fmt.Errorf("unknown application_status %q", app.ApplicationStatus)
	}
	if math.IsNaN(app.Confidence) || app.Confidence < 0 || app.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", app.Confidence)
	}
	return nil
}
