package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// multicaster is the part of the messaging client used here.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messaging multicaster
	log       zerolog.Logger
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string, log zerolog.Logger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Info().Msg("FCM client initialized")
	return &Client{messaging: messagingClient, log: log}, nil
}

// NotificationData contains the data to send in a push notification
type NotificationData struct {
	Title string
	Body  string
	Data  map[string]string // Custom data payload
	// ClickAction is the path opened when the notification is clicked
	ClickAction string
}

// SendToDevices sends a push notification to multiple device tokens.
// It returns the tokens that failed to receive the notification.
func (c *Client) SendToDevices(ctx context.Context, tokens []string, notification NotificationData) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	data := make(map[string]string, len(notification.Data)+1)
	for k, v := range notification.Data {
		data[k] = v
	}
	if notification.ClickAction != "" {
		data["click_action"] = notification.ClickAction
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: notification.Title,
				Body:  notification.Body,
				Icon:  "/icon-192.svg",
			},
		},
	}

	response, err := c.messaging.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	c.log.Debug().Int("success", response.SuccessCount).Int("failure", response.FailureCount).Msg("multicast sent")

	var failedTokens []string
	for i, resp := range response.Responses {
		if i < len(tokens) && !resp.Success {
			failedTokens = append(failedTokens, tokens[i])
			c.log.Warn().Err(resp.Error).Str("token", truncateToken(tokens[i])).Msg("failed to send to device")
		}
	}
	return failedTokens, nil
}

func truncateToken(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}
