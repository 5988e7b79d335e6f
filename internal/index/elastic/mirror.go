// Package elastic mirrors indexed pages into Elasticsearch and serves the
// cross-date archive search.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/textsearch"
)

// DefaultIndex is used when Config.Index is empty.
const DefaultIndex = "gazette-pages"

// Config holds connection settings.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Timeout   time.Duration
}

// Client wraps go-elasticsearch for page documents.
type Client struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
	links   gazette.LinkBuilder
	logger  *zap.Logger
}

type pageDocument struct {
	PublicationDate civil.Date `json:"publication_date"`
	PageNumber      int        `json:"page_number"`
	Content         string     `json:"content"`
	SearchText      string     `json:"search_text"`
}

// SearchParams narrow an archive search.
type SearchParams struct {
	Query string
	Exact bool
	From  int
	Size  int
	Start *civil.Date
	End   *civil.Date
}

// SearchResult bundles hits and the total count.
type SearchResult struct {
	Total int64               `json:"total"`
	Items []gazette.Highlight `json:"items"`
}

// New creates the client.
func New(cfg Config, links gazette.LinkBuilder, logger *zap.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("search.addresses is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{es: es, index: cfg.Index, timeout: cfg.Timeout, links: links, logger: logger}, nil
}

// Health checks cluster connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("cluster health bad: %s", readError(res))
	}
	return nil
}

// MirrorPages indexes every page under a deterministic ID so re-ingesting a
// date overwrites the earlier copy.
func (c *Client) MirrorPages(ctx context.Context, pages []gazette.Page) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for _, p := range pages {
		payload, err := json.Marshal(pageDocument{
			PublicationDate: p.PublicationDate,
			PageNumber:      p.PageNumber,
			Content:         p.Content,
			SearchText:      textsearch.SearchText(p.Content),
		})
		if err != nil {
			return fmt.Errorf("marshal page: %w", err)
		}
		req := esapi.IndexRequest{
			Index:      c.index,
			DocumentID: DocumentID(p.PublicationDate, p.PageNumber),
			Body:       bytes.NewReader(payload),
			Refresh:    "false",
		}
		res, err := req.Do(ctx, c.es)
		if err != nil {
			return fmt.Errorf("index page %d: %w", p.PageNumber, err)
		}
		if res.IsError() {
			msg := readError(res)
			res.Body.Close()
			return fmt.Errorf("index page %d failed: %s", p.PageNumber, msg)
		}
		res.Body.Close()
	}
	c.logger.Debug("pages mirrored", zap.Int("count", len(pages)))
	return nil
}

// Search runs a term query across every mirrored date, newest first.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	q, err := textsearch.Compile(gazette.Term{Text: params.Query, Exact: params.Exact})
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	folded := strings.Join(q.Tokens, " ")
	must := map[string]any{
		"match": map[string]any{
			"search_text": map[string]any{"query": folded, "operator": "and"},
		},
	}
	if q.Exact {
		must = map[string]any{
			"match_phrase": map[string]any{"search_text": folded},
		}
	}
	boolQuery := map[string]any{"must": []map[string]any{must}}
	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.String()
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.String()
		}
		boolQuery["filter"] = []map[string]any{
			{"range": map[string]any{"publication_date": rangeQuery}},
		}
	}
	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"publication_date": map[string]any{"order": "desc"}},
			{"page_number": map[string]any{"order": "asc"}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", readError(res))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source pageDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]gazette.Highlight, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		doc := hit.Source
		items = append(items, gazette.Highlight{
			Page:     doc.PageNumber,
			Content:  textsearch.Excerpt(doc.Content, textsearch.Tokenize(doc.Content), q, textsearch.DefaultWindow),
			Term:     params.Query,
			PageLink: c.links.PageLink(doc.PublicationDate, doc.PageNumber),
		})
	}
	return &SearchResult{Total: parsed.Hits.Total.Value, Items: items}, nil
}

// DocumentID is the mirror key of one page.
func DocumentID(date civil.Date, page int) string {
	return fmt.Sprintf("%s-%d", date, page)
}

func readError(res *esapi.Response) string {
	data, _ := io.ReadAll(res.Body)
	return strings.TrimSpace(string(data))
}
