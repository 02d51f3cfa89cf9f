package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/rs/zerolog"
)

// Forwarder re-sends misdirected mail to the user's real mailbox.
type Forwarder struct {
	ses    sesiface.SESAPI
	sender string
	log    zerolog.Logger
}

func NewSESForwarder(sess *session.Session, sender string, log zerolog.Logger) *Forwarder {
	return NewForwarder(ses.New(sess), sender, log)
}

func NewForwarder(api sesiface.SESAPI, sender string, log zerolog.Logger) *Forwarder {
	return &Forwarder{ses: api, sender: sender, log: log}
}

// Forward rewrites raw for recipient and sends it.
func (f *Forwarder) Forward(ctx context.Context, raw []byte, recipient string) error {
	data := RewriteForForward(raw, f.sender, recipient)
	out, err := f.ses.SendRawEmailWithContext(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(f.sender),
		Destinations: aws.StringSlice([]string{recipient}),
		RawMessage:   &ses.RawMessage{Data: data},
	})
	if err != nil {
		return fmt.Errorf("ses send raw email: %w", err)
	}
	f.log.Info().Str("recipient", recipient).Str("ses_message_id", aws.StringValue(out.MessageId)).Msg("forwarded misdirected mail")
	return nil
}
