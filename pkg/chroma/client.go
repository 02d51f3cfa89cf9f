package chroma

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jobtrack-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// collectionNamespace seeds per-user collection names.
var collectionNamespace = uuid.MustParse("0b6f4d8e-2c1a-5f3e-9d7b-4a6c8e0f2b1d")

// Document is one indexed email: caller-supplied vector, text and flat metadata.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]interface{}
}

// Match is one nearest-neighbour result.
type Match struct {
	ID       string
	Distance float64
	Metadata map[string]interface{}
}

// Client keeps one collection per user. Collections are created on first
// write and cached for the life of the process.
type Client struct {
	client chroma.Client
	log    zerolog.Logger

	mu          sync.Mutex
	collections map[string]chroma.Collection
}

func NewChromaClient(cfg *config.Config, log zerolog.Logger) (*Client, error) {
	var opts []chroma.ClientOption
	if cfg.ChromaAPIKey != "" {
		baseURL := cfg.ChromaBaseURL
		if baseURL == "" {
			baseURL = chroma.ChromaCloudEndpoint
		}
		opts = append(opts, chroma.WithBaseURL(baseURL), chroma.WithCloudAPIKey(cfg.ChromaAPIKey))
	} else {
		opts = append(opts, chroma.WithBaseURL(cfg.ChromaBaseURL))
	}
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	} else if cfg.ChromaTenant != "" {
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	log.Info().Str("base_url", cfg.ChromaBaseURL).Msg("initialized Chroma client")
	return &Client{
		client:      client,
		log:         log,
		collections: make(map[string]chroma.Collection),
	}, nil
}

// CollectionName maps a user id onto a valid, stable collection name.
func CollectionName(userID string) string {
	return "emails-" + uuid.NewSHA1(collectionNamespace, []byte(userID)).String()
}

// collection returns the user's collection. With create unset a missing
// collection yields (nil, nil).
func (c *Client) collection(ctx context.Context, userID string, create bool) (chroma.Collection, error) {
	name := CollectionName(userID)

	c.mu.Lock()
	col, ok := c.collections[name]
	c.mu.Unlock()
	if ok {
		return col, nil
	}

	var err error
	if create {
		// Vectors always come from the caller; the hash function only stops
		// the client from loading its default model.
		col, err = c.client.GetOrCreateCollection(ctx, name,
			chroma.WithHNSWSpaceCreate(embeddings.COSINE),
			chroma.WithEmbeddingFunctionCreate(embeddings.NewConsistentHashEmbeddingFunction()),
		)
		if err == nil {
			c.log.Info().Str("collection", name).Str("user_id", userID).Msg("search collection ready")
		}
	} else {
		col, err = c.client.GetCollection(ctx, name)
		if err != nil && IsNotFound(err) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}

	c.mu.Lock()
	c.collections[name] = col
	c.mu.Unlock()
	return col, nil
}

// forget drops a cached collection so the next call looks it up again.
func (c *Client) forget(userID string) {
	c.mu.Lock()
	delete(c.collections, CollectionName(userID))
	c.mu.Unlock()
}

// IsNotFound reports whether err means the collection does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404")
}

func (c *Client) Exists(ctx context.Context, userID, id string) (bool, error) {
	col, err := c.collection(ctx, userID, false)
	if err != nil || col == nil {
		return false, err
	}
	res, err := col.Get(ctx, chroma.WithIDsGet(chroma.DocumentID(id)))
	if err != nil {
		return false, fmt.Errorf("failed to look up document: %w", err)
	}
	return len(res.GetIDs()) > 0, nil
}

// Get returns the stored document including its vector, or nil when absent.
func (c *Client) Get(ctx context.Context, userID, id string) (*Document, error) {
	col, err := c.collection(ctx, userID, false)
	if err != nil || col == nil {
		return nil, err
	}
	res, err := col.Get(ctx,
		chroma.WithIDsGet(chroma.DocumentID(id)),
		chroma.WithIncludeGet(chroma.IncludeEmbeddings, chroma.IncludeDocuments, chroma.IncludeMetadatas),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	ids := res.GetIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	doc := &Document{ID: string(ids[0])}
	if docs := res.GetDocuments(); len(docs) > 0 && docs[0] != nil {
		doc.Text = docs[0].ContentString()
	}
	if embs := res.GetEmbeddings(); len(embs) > 0 && embs[0] != nil {
		doc.Embedding = embs[0].ContentAsFloat32()
	}
	if metas := res.GetMetadatas(); len(metas) > 0 {
		doc.Metadata, err = metadataToMap(metas[0])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Add indexes a new document, creating the user's collection if needed.
func (c *Client) Add(ctx context.Context, userID string, doc Document) error {
	return c.write(ctx, userID, doc, false)
}

// Upsert replaces the document with the same id or adds it.
func (c *Client) Upsert(ctx context.Context, userID string, doc Document) error {
	return c.write(ctx, userID, doc, true)
}

func (c *Client) write(ctx context.Context, userID string, doc Document, upsert bool) error {
	metadata, err := chroma.NewDocumentMetadataFromMap(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	opts := []chroma.CollectionAddOption{
		chroma.WithIDs(chroma.DocumentID(doc.ID)),
		chroma.WithTexts(doc.Text),
		chroma.WithMetadatas(metadata),
		chroma.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(doc.Embedding)),
	}

	// A cached collection may have been dropped server side; reopen once.
	for attempt := 0; attempt < 2; attempt++ {
		col, err := c.collection(ctx, userID, true)
		if err != nil {
			return err
		}
		if upsert {
			err = col.Upsert(ctx, opts...)
		} else {
			err = col.Add(ctx, opts...)
		}
		if err == nil {
			return nil
		}
		if attempt == 0 && IsNotFound(err) {
			c.log.Warn().Str("user_id", userID).Msg("collection vanished, recreating")
			c.forget(userID)
			continue
		}
		return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document. A user without a collection has nothing to
// delete, which is not an error.
func (c *Client) Delete(ctx context.Context, userID, id string) error {
	col, err := c.collection(ctx, userID, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(id))); err != nil {
		if IsNotFound(err) {
			c.forget(userID)
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Query returns up to n documents closest to vector within the user's
// collection, nearest first.
func (c *Client) Query(ctx context.Context, userID string, vector []float32, n int) ([]Match, error) {
	col, err := c.collection(ctx, userID, false)
	if err != nil || col == nil {
		return nil, err
	}
	results, err := col.Query(ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(n),
		chroma.WithWhereQuery(chroma.EqString("user_id", userID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	var distances embeddings.Distances
	if groups := results.GetDistancesGroups(); len(groups) > 0 {
		distances = groups[0]
	}
	var metadatas chroma.DocumentMetadatas
	if groups := results.GetMetadatasGroups(); len(groups) > 0 {
		metadatas = groups[0]
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id)}
		if i < len(distances) {
			m.Distance = float64(distances[i])
		}
		if i < len(metadatas) {
			if m.Metadata, err = metadataToMap(metadatas[i]); err != nil {
				return nil, err
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func metadataToMap(md chroma.DocumentMetadata) (map[string]interface{}, error) {
	if md == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return out, nil
}
