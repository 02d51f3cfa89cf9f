package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"jobtrack-backend/pkg/mailparser"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

var errUnsupportedSource = errors.New("unsupported image source")

// ImageRehoster copies every image referenced by an HTML body into object
// storage and points the HTML at the copies.
type ImageRehoster struct {
	store       ObjectStore
	fetcher     ImageFetcher
	placeholder string
	concurrency int
	log         zerolog.Logger
}

func NewImageRehoster(store ObjectStore, fetcher ImageFetcher, placeholder string, concurrency int, log zerolog.Logger) *ImageRehoster {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &ImageRehoster{
		store:       store,
		fetcher:     fetcher,
		placeholder: placeholder,
		concurrency: concurrency,
		log:         log,
	}
}

// Rewrite returns the HTML of email with each <img src> replaced by its
// rehosted URL. An image that cannot be rehosted gets the placeholder;
// one failure never affects the others.
func (r *ImageRehoster) Rewrite(ctx context.Context, userID, messageID string, email *mailparser.ParsedEmail) (string, error) {
	doc, err := html.Parse(strings.NewReader(email.HTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var images []*html.Attribute
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			for i := range n.Attr {
				if strings.EqualFold(n.Attr[i].Key, "src") && strings.TrimSpace(n.Attr[i].Val) != "" {
					images = append(images, &n.Attr[i])
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	sources := make([]string, 0, len(images))
	index := make(map[string]int)
	for _, attr := range images {
		src := strings.TrimSpace(attr.Val)
		if _, ok := index[src]; !ok {
			index[src] = len(sources)
			sources = append(sources, src)
		}
	}

	urls := make([]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			u, err := r.rehost(gctx, userID, messageID, src, email)
			switch {
			case errors.Is(err, errUnsupportedSource):
				urls[i] = src
			case err != nil:
				r.log.Warn().Err(err).Str("src", truncateSource(src)).Msg("image rehost failed, using placeholder")
				urls[i] = r.placeholder
			default:
				urls[i] = u
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, attr := range images {
		attr.Val = urls[index[strings.TrimSpace(attr.Val)]]
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func (r *ImageRehoster) rehost(ctx context.Context, userID, messageID, src string, email *mailparser.ParsedEmail) (string, error) {
	var (
		data        []byte
		contentType string
	)
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "cid:"):
		att, ok := email.FindAttachmentByContentID(src[len("cid:"):])
		if !ok {
			return "", fmt.Errorf("no inline part for %s", src)
		}
		data, contentType = att.Data, att.ContentType
	case strings.HasPrefix(lower, "data:"):
		var err error
		if data, contentType, err = decodeDataURL(src); err != nil {
			return "", err
		}
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		img, err := r.fetcher.Fetch(ctx, src)
		if err != nil {
			return "", err
		}
		data, contentType = img.Data, img.ContentType
	default:
		return "", errUnsupportedSource
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty image for %s", truncateSource(src))
	}

	key := imageKey(userID, messageID, src, contentType)
	if err := r.store.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return r.store.PublicURL(key), nil
}

// imageKey is stable per source so redelivery overwrites the same object.
func imageKey(userID, messageID, src, contentType string) string {
	sum := sha1.Sum([]byte(src))
	ext := ""
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("images/%s/%s/%s%s", userID, messageID, hex.EncodeToString(sum[:8]), ext)
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(src string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(src[len("data:"):], ",")
	if !ok {
		return nil, "", errors.New("malformed data url")
	}
	contentType := "text/plain"
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		isBase64 = true
		meta = strings.TrimSuffix(meta, ";base64")
	}
	if meta != "" {
		contentType = meta
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		return data, contentType, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return []byte(data), contentType, nil
}

func truncateSource(src string) string {
	if len(src) > 80 {
		return src[:80] + "..."
	}
	return src
}
