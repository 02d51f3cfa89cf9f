package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Handler processes one message body. Returning an error asks for
// redelivery; returning nil acknowledges the message.
type Handler func(ctx context.Context, data []byte) error

// JSONHandler decodes the body into T before calling fn. Bodies that do not
// decode can never succeed, so they are logged and acknowledged.
func JSONHandler[T any](log zerolog.Logger, fn func(ctx context.Context, msg T) error) Handler {
	return func(ctx context.Context, data []byte) error {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Int("bytes", len(data)).Msg("dropping undecodable message")
			return nil
		}
		return fn(ctx, msg)
	}
}

// Router maps topic names to handlers. It is shared by the pull
// subscribers and the push endpoint.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Handle(topic string, h Handler) {
	r.handlers[topic] = h
}

// Topics returns the registered topic names in sorted order.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// ErrUnknownTopic is returned by Dispatch for a topic with no handler.
var ErrUnknownTopic = errors.New("no handler registered for topic")

func (r *Router) Dispatch(ctx context.Context, topic string, data []byte) error {
	h, ok := r.handlers[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return h(ctx, data)
}

// PushEnvelope is the body Pub/Sub posts to push subscription endpoints.
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
