package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// Publisher puts one JSON-encoded message on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, v interface{}) error
}

// NewClient connects to Pub/Sub. An empty credentialsFile uses the default
// credential chain (or PUBSUB_EMULATOR_HOST).
func NewClient(ctx context.Context, projectID, credentialsFile string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}

// PubSub publishes to and consumes from Pub/Sub topics. Subscriptions are
// named topic + suffix, e.g. "classify-sub".
type PubSub struct {
	client      *pubsub.Client
	suffix      string
	maxInFlight int
	log         zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func New(client *pubsub.Client, subscriptionSuffix string, maxInFlight int, log zerolog.Logger) *PubSub {
	if subscriptionSuffix == "" {
		subscriptionSuffix = "-sub"
	}
	return &PubSub{
		client:      client,
		suffix:      subscriptionSuffix,
		maxInFlight: maxInFlight,
		log:         log,
		topics:      make(map[string]*pubsub.Topic),
	}
}

// Publish encodes v as JSON and waits for the server to accept it.
func (p *PubSub) Publish(ctx context.Context, topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}
	t, err := p.topic(ctx, topic)
	if err != nil {
		return err
	}
	id, err := t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.log.Debug().Str("topic", topic).Str("message_id", id).Msg("published")
	return nil
}

func (p *PubSub) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}

	t := p.client.Topic(name)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", name, err)
	}
	if !exists {
		if t, err = p.client.CreateTopic(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", name, err)
		}
		p.log.Info().Str("topic", name).Msg("created topic")
	}
	p.topics[name] = t
	return t, nil
}

// subscription returns the topic's subscription, creating both if needed.
func (p *PubSub) subscription(ctx context.Context, topicName string) (*pubsub.Subscription, error) {
	subName := topicName + p.suffix
	sub := p.client.Subscription(subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", subName, err)
	}
	if exists {
		return sub, nil
	}

	topic, err := p.topic(ctx, topicName)
	if err != nil {
		return nil, err
	}
	sub, err = p.client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", subName, err)
	}
	p.log.Info().Str("subscription", subName).Msg("created subscription")
	return sub, nil
}

// Subscribe blocks receiving messages for topic until ctx is done. A nil
// handler result acks the message; an error nacks it for redelivery.
func (p *PubSub) Subscribe(ctx context.Context, topic string, h Handler) error {
	sub, err := p.subscription(ctx, topic)
	if err != nil {
		return err
	}
	if p.maxInFlight > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = p.maxInFlight
	}

	log := p.log.With().Str("topic", topic).Logger()
	log.Info().Str("subscription", sub.ID()).Msg("listening for messages")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := h(ctx, msg.Data); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("handler failed, message will be redelivered")
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive on %s stopped: %w", topic, err)
	}
	return nil
}

// Run subscribes every topic registered on r and blocks until ctx is done
// or one subscription fails.
func (p *PubSub) Run(ctx context.Context, r *Router) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range r.Topics() {
		h := r.handlers[topic]
		g.Go(func() error {
			return p.Subscribe(ctx, topic, h)
		})
	}
	return g.Wait()
}

// Close flushes pending publishes and releases the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}
