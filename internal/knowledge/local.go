package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
)

// LocalRetriever searches the curated medical corpus indexed in Typesense.
// Chunks carry a source document name and chunk number; the synthetic
// local:// URL keeps citation handling uniform with web results.
type LocalRetriever struct {
	client     *typesense.Client
	collection string
}

// NewLocalRetriever connects to a Typesense server.
func NewLocalRetriever(serverURL, apiKey, collection string) *LocalRetriever {
	client := typesense.NewClient(
		typesense.WithServer(serverURL),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
	return &LocalRetriever{client: client, collection: collection}
}

// InitSchema ensures the corpus collection exists.
func (r *LocalRetriever) InitSchema(ctx context.Context) error {
	if _, err := r.client.Collection(r.collection).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: r.collection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "source", Type: "string", Facet: pointer.True()},
			{Name: "chunk", Type: "int32"},
			{Name: "text", Type: "string"},
		},
	}
	if _, err := r.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("create corpus collection: %w", err)
	}
	return nil
}

// Health checks connectivity to the search server.
func (r *LocalRetriever) Health(ctx context.Context) error {
	if _, err := r.client.Health(ctx, 2*time.Second); err != nil {
		return fmt.Errorf("typesense health: %w", err)
	}
	return nil
}

const snippetMaxLen = 400

// Retrieve returns the top corpus chunks matching the query.
func (r *LocalRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Source, error) {
	params := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("text"),
		PerPage: pointer.Int(limit),
	}

	result, err := r.client.Collection(r.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("corpus search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	sources := make([]Source, 0, len(*result.Hits))
	for i, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document

		sourceName, _ := doc["source"].(string)
		if sourceName == "" {
			sourceName = "local_corpus"
		}
		text, _ := doc["text"].(string)
		chunkNo := i
		if v, ok := doc["chunk"].(float64); ok {
			chunkNo = int(v)
		}

		snippet := text
		if len(snippet) > snippetMaxLen {
			snippet = snippet[:snippetMaxLen]
		}

		sources = append(sources, Source{
			Title:   fmt.Sprintf("%s (chunk %d)", sourceName, chunkNo),
			URL:     fmt.Sprintf("local://%s#chunk=%d", sourceName, chunkNo),
			Snippet: snippet,
		})
	}
	return sources, nil
}
