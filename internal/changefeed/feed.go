// Package changefeed publishes committed record writes so downstream
// stages can react to them.
package changefeed

import (
	"context"

	appdomain "jobtrack-backend/internal/application/domain"
	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/pkg/queue"

	"github.com/rs/zerolog"
)

// Feed implements the email and group repository change notifiers.
type Feed struct {
	publisher  queue.Publisher
	emailTopic string
	groupTopic string
	log        zerolog.Logger
}

func New(publisher queue.Publisher, emailTopic, groupTopic string, log zerolog.Logger) *Feed {
	return &Feed{
		publisher:  publisher,
		emailTopic: emailTopic,
		groupTopic: groupTopic,
		log:        log,
	}
}

// EmailChanged publishes the event. The write has already committed, so a
// publish failure is logged and not returned.
func (f *Feed) EmailChanged(ctx context.Context, event emaildomain.EmailChangeEvent) {
	rec := event.Record()
	if rec == nil {
		return
	}
	if err := f.publisher.Publish(ctx, f.emailTopic, event); err != nil {
		f.log.Error().Err(err).
			Str("op", string(event.Op)).
			Str("email_id", rec.ID).
			Msg("failed to publish email change")
	}
}

func (f *Feed) GroupChanged(ctx context.Context, event appdomain.GroupChangeEvent) {
	id := ""
	switch {
	case event.After != nil:
		id = event.After.ID
	case event.Before != nil:
		id = event.Before.ID
	default:
		return
	}
	if err := f.publisher.Publish(ctx, f.groupTopic, event); err != nil {
		f.log.Error().Err(err).
			Str("op", string(event.Op)).
			Str("group_id", id).
			Msg("failed to publish group change")
	}
}
