package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	userdomain "jobtrack-backend/internal/user/domain"
	"jobtrack-backend/internal/pipeline"
	"jobtrack-backend/pkg/mailparser"
	"jobtrack-backend/pkg/queue"

	"github.com/rs/zerolog"
)

const cleanupTimeout = 30 * time.Second

type IntakeConfig struct {
	ClassifyTopic string
}

// IntakeUsecase moves one inbound message into the user's area of the
// object store and queues it for classification.
type IntakeUsecase struct {
	store     ObjectStore
	parser    *mailparser.Parser
	users     *UserResolver
	records   RecordLookup
	forwarder Forwarder
	images    *ImageRehoster
	publisher queue.Publisher
	topic     string
	log       zerolog.Logger
}

func NewIntakeUsecase(
	store ObjectStore,
	parser *mailparser.Parser,
	users *UserResolver,
	records RecordLookup,
	forwarder Forwarder,
	images *ImageRehoster,
	publisher queue.Publisher,
	cfg IntakeConfig,
	log zerolog.Logger,
) *IntakeUsecase {
	return &IntakeUsecase{
		store:     store,
		parser:    parser,
		users:     users,
		records:   records,
		forwarder: forwarder,
		images:    images,
		publisher: publisher,
		topic:     cfg.ClassifyTopic,
		log:       log,
	}
}

// Handle is the queue entry point. The inbound object is gone once Process
// returns, so a failure is logged and the notification acknowledged.
func (u *IntakeUsecase) Handle(ctx context.Context, n pipeline.InboundNotification) error {
	err := u.Process(ctx, n)
	switch {
	case err == nil:
	case IsDropped(err):
		u.log.Warn().Err(err).Str("object_key", n.ObjectKey).Msg("dropping inbound message")
	default:
		u.log.Error().Err(err).Str("object_key", n.ObjectKey).Msg("intake failed")
	}
	return nil
}

// Process runs intake for one notification. The inbound object is deleted
// on every path.
func (u *IntakeUsecase) Process(ctx context.Context, n pipeline.InboundNotification) error {
	if n.ObjectKey == "" {
		return fmt.Errorf("%w: empty object key", pipeline.ErrMalformedInput)
	}
	log := u.log.With().Str("object_key", n.ObjectKey).Logger()
	defer u.cleanup(ctx, n.ObjectKey, log)

	raw, err := u.store.Get(ctx, n.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to read inbound object: %w", err)
	}

	parsed, err := u.parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrMalformedInput, err)
	}

	target := parsed.DeliveredTo
	if target == "" && len(parsed.To) > 0 {
		target = parsed.To[0]
	}
	source := parsed.From
	if target == "" || source == "" {
		return pipeline.ErrMissingAddress
	}

	user, err := u.users.Resolve(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("%w: %s", pipeline.ErrUserNotFound, target)
	}

	messageID := parsed.ID
	if messageID == "" {
		messageID = contentID(raw)
	}
	key := user.ID + "/" + messageID
	log = log.With().Str("user_id", user.ID).Str("key", key).Logger()

	duplicate, err := u.isDuplicate(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("duplicate check failed, treating as new")
	}

	if misdirected(user, source, append([]string{target}, parsed.To...)) {
		if err := u.forwarder.Forward(ctx, raw, user.Email); err != nil {
			return fmt.Errorf("failed to forward misdirected mail: %w", err)
		}
		log.Info().Str("from", source).Str("to", target).Msg("forwarded misdirected mail")
		return nil
	}

	if parsed.HTML != "" && u.images != nil {
		if err := u.storeHTML(ctx, user.ID, messageID, parsed); err != nil {
			log.Warn().Err(err).Msg("failed to store rehosted html")
		}
	}
	u.storeNested(ctx, user.ID, messageID, parsed, log)

	if err := u.store.PutArchive(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	if duplicate {
		log.Info().Msg("duplicate message, skipping classification")
		return nil
	}
	msg := pipeline.ClassificationMessage{ObjectKey: key, UserID: user.ID}
	if err := u.publisher.Publish(ctx, u.topic, msg); err != nil {
		return fmt.Errorf("failed to queue classification: %w", err)
	}
	log.Info().Str("subject", parsed.Subject).Msg("queued message for classification")
	return nil
}

func (u *IntakeUsecase) isDuplicate(ctx context.Context, key string) (bool, error) {
	stored, err := u.store.Exists(ctx, key)
	if err != nil || !stored {
		return false, err
	}
	return u.records.ExistsBySource(ctx, key)
}

func (u *IntakeUsecase) storeHTML(ctx context.Context, userID, messageID string, parsed *mailparser.ParsedEmail) error {
	rewritten, err := u.images.Rewrite(ctx, userID, messageID, parsed)
	if err != nil {
		return err
	}
	return u.store.Put(ctx, userID+"/"+messageID+".html", []byte(rewritten), "text/html; charset=utf-8")
}

func (u *IntakeUsecase) storeNested(ctx context.Context, userID, messageID string, parsed *mailparser.ParsedEmail, log zerolog.Logger) {
	n := 0
	for _, att := range parsed.Attachments {
		if !att.IsMessage() || len(att.Data) == 0 {
			continue
		}
		key := fmt.Sprintf("nested/%s/%s/%d.eml", userID, messageID, n)
		n++
		if err := u.store.Put(ctx, key, att.Data, "message/rfc822"); err != nil {
			log.Warn().Err(err).Str("nested_key", key).Msg("failed to store nested message")
		}
	}
}

func (u *IntakeUsecase) cleanup(ctx context.Context, key string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := u.store.Delete(ctx, key); err != nil {
		log.Error().Err(err).Msg("failed to delete inbound object")
	}
}

// misdirected reports mail that reached the user's app address without
// passing through one of the user's own mailboxes: neither the sender nor
// any recipient is a registered address.
func misdirected(user *userdomain.User, source string, recipients []string) bool {
	if user.OwnsSource(source) {
		return false
	}
	return !slices.ContainsFunc(recipients, user.OwnsSource)
}

// contentID names messages that carry no usable id so that redelivery of
// the same bytes still lands on the same key.
func contentID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256_" + hex.EncodeToString(sum[:16])
}

// IsDropped reports errors that end processing of a message without retry.
func IsDropped(err error) bool {
	return errors.Is(err, pipeline.ErrMalformedInput) ||
		errors.Is(err, pipeline.ErrMissingAddress) ||
		errors.Is(err, pipeline.ErrUserNotFound)
}
