package usecase

import (
	"context"
	"fmt"

	appdomain "jobtrack-backend/internal/application/domain"
	emaildomain "jobtrack-backend/internal/email/domain"
	userRepo "jobtrack-backend/internal/user/repository"
	"jobtrack-backend/pkg/fcm"

	"github.com/rs/zerolog"
)

// PushSender delivers a notification to device tokens and reports the
// tokens that were rejected.
type PushSender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// PushStatusNotifier sends a push notification to the user's devices when
// an application moves to a new stage.
type PushStatusNotifier struct {
	tokens userRepo.DeviceTokenRepository
	sender PushSender
	log    zerolog.Logger
}

func NewPushStatusNotifier(tokens userRepo.DeviceTokenRepository, sender PushSender, log zerolog.Logger) *PushStatusNotifier {
	return &PushStatusNotifier{tokens: tokens, sender: sender, log: log}
}

func (n *PushStatusNotifier) StatusChanged(ctx context.Context, before, after *appdomain.ApplicationGroup) {
	log := n.log.With().Str("user_id", after.UserID).Str("group_id", after.ID).Logger()

	tokens, err := n.tokens.GetTokensByUserID(ctx, after.UserID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load device tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}
	values := make([]string, 0, len(tokens))
	for _, t := range tokens {
		values = append(values, t.Token)
	}

	failed, err := n.sender.SendToDevices(ctx, values, fcm.NotificationData{
		Title: after.CompanyTitle,
		Body:  statusMessage(after),
		Data: map[string]string{
			"type":            "application_status",
			"group_id":        after.ID,
			"status":          string(after.LastStatus),
			"previous_status": string(before.LastStatus),
		},
		ClickAction: fmt.Sprintf("/applications/%s", after.ID),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to send status notification")
		return
	}
	for _, token := range failed {
		if err := n.tokens.DeleteToken(ctx, token); err != nil {
			log.Warn().Err(err).Msg("failed to remove stale device token")
		}
	}
}

func statusMessage(g *appdomain.ApplicationGroup) string {
	title := g.JobTitle
	if g.PlaceholderTitle {
		title = "your application"
	}
	switch g.LastStatus {
	case emaildomain.StatusInterviewRequested:
		return fmt.Sprintf("Interview requested for %s", title)
	case emaildomain.StatusOfferExtended:
		return fmt.Sprintf("Offer received for %s", title)
	case emaildomain.StatusRejected:
		return fmt.Sprintf("Update on %s: not moving forward", title)
	case emaildomain.StatusComplete:
		return fmt.Sprintf("%s is complete", title)
	case emaildomain.StatusProceed:
		return fmt.Sprintf("%s moved to the next stage", title)
	default:
		return fmt.Sprintf("%s: %s", title, g.LastStatus)
	}
}
