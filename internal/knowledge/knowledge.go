// Package knowledge answers informational questions from an in-memory bleve
// index of policy documents.
package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/triage"
	"gopkg.in/yaml.v3"
)

//go:embed policies.yaml
var defaultDocuments []byte

const (
	replyGreeting = "Hello! I'm here to help with your orders, returns, refunds, exchanges and cancellations. What can I do for you today?"
	replyNoAnswer = "I couldn't find a policy that answers that. Could you rephrase your question, or share your Order ID so I can look into it?"
)

// Document is one indexed policy section.
type Document struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Tags  []string `yaml:"tags" json:"tags"`
	Body  string   `yaml:"body" json:"body"`
}

type documentSet struct {
	Documents []Document `yaml:"documents"`
}

// Hit is a scored search result.
type Hit struct {
	Document Document
	Score    float64
}

// Base is a searchable set of policy documents.
type Base struct {
	index bleve.Index
	mu    sync.RWMutex
	docs  map[string]Document
}

// NewDefault builds a base from the bundled policy documents.
func NewDefault() (*Base, error) {
	return Parse(defaultDocuments)
}

// Load reads documents from a YAML file.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	return Parse(data)
}

// Parse builds a base from YAML bytes.
func Parse(data []byte) (*Base, error) {
	var set documentSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if len(set.Documents) == 0 {
		return nil, fmt.Errorf("knowledge base has no documents")
	}
	return New(set.Documents...)
}

// New indexes docs into a memory-only index.
func New(docs ...Document) (*Base, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	b := &Base{index: index, docs: make(map[string]Document, len(docs))}
	for _, d := range docs {
		if err := b.Add(d); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Add indexes d, replacing any document with the same id.
func (b *Base) Add(d Document) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[d.ID] = d
	return b.index.Index(d.ID, map[string]interface{}{
		"title": d.Title,
		"tags":  strings.Join(d.Tags, " "),
		"body":  d.Body,
	})
}

// Search returns up to k documents matching q, best first.
func (b *Base) Search(ctx context.Context, q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 3
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		d, ok := b.docs[h.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{Document: d, Score: h.Score})
	}
	return out, nil
}

// AnswerInformational implements the orchestrator contract.
func (b *Base) AnswerInformational(ctx context.Context, query string, _ []conversation.Message) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" || (triage.IsGreeting(q) && !strings.Contains(strings.ToLower(q), "policy")) {
		return replyGreeting, nil
	}
	hits, err := b.Search(ctx, q, 1)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return replyNoAnswer, nil
	}
	d := hits[0].Document
	return fmt.Sprintf("%s: %s", d.Title, d.Body), nil
}

// Close releases the index.
func (b *Base) Close() error {
	return b.index.Close()
}
