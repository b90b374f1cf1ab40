package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

// indexSpec describes one Meilisearch index and the result type its hits
// map back to.
type indexSpec struct {
	uid        string
	result     ResultType
	filterable []string
	searchable []string
}

var indexSpecs = []indexSpec{
	{
		uid:        "devflow_questions",
		result:     ResultQuestion,
		filterable: []string{"authorId", "tagNames"},
		searchable: []string{"title", "content", "tagNames"},
	},
	{
		uid:        "devflow_tags",
		result:     ResultTag,
		filterable: []string{"questions"},
		searchable: []string{"name"},
	},
}

func indexFor(t ResultType) string {
	for _, spec := range indexSpecs {
		if spec.result == t {
			return spec.uid
		}
	}
	return ""
}

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the question and tag
// indexes. The client starts unhealthy if the initial connection fails; the
// background monitor picks Meilisearch up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}
	go m.monitor()
	return m
}

func (m *Meili) configureIndexes() {
	for _, spec := range indexSpecs {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: spec.uid, PrimaryKey: "id"}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", spec.uid, err)
		}
		index := m.client.Index(spec.uid)
		filterable := make([]interface{}, len(spec.filterable))
		for i, attr := range spec.filterable {
			filterable[i] = attr
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", spec.uid, err)
		}
		searchable := spec.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", spec.uid, err)
		}
	}
}

// monitor polls Meilisearch and reconfigures the indexes after an outage,
// since a fresh instance may have come up without them.
func (m *Meili) monitor() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			recovered := err == nil && !m.healthy.Load()
			m.healthy.Store(err == nil)
			if recovered {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search fans a query out across the question and tag indexes (or just the
// one named by q.FilterType) with a single multi-search call.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, spec := range indexSpecs {
		if q.FilterType != "" && q.FilterType != spec.result {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              spec.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		var rtyp ResultType
		for _, spec := range indexSpecs {
			if spec.uid == sr.IndexUID {
				rtyp = spec.result
			}
		}
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: hitField(hit, "id")}
	switch rtyp {
	case ResultQuestion:
		r.Title = hitField(hit, "title")
		r.Snippet = hitField(hit, "content")
	case ResultTag:
		r.Title = hitField(hit, "name")
	}
	return r
}

// hitField prefers the highlighted _formatted value and falls back to the
// raw document field.
func hitField(hit meili.Hit, key string) string {
	if raw, ok := hit["_formatted"]; ok {
		var formatted map[string]string
		if err := json.Unmarshal(raw, &formatted); err == nil {
			if v := strings.TrimSpace(formatted[key]); v != "" {
				return v
			}
		}
	}
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// IndexQuestion adds or updates a question in the search index.
func (m *Meili) IndexQuestion(q QuestionRecord) error {
	return m.addDocuments(ResultQuestion, []QuestionRecord{q})
}

// IndexTag adds or updates a tag in the search index.
func (m *Meili) IndexTag(t TagRecord) error {
	return m.addDocuments(ResultTag, []TagRecord{t})
}

// DeleteQuestion removes a question from the search index.
func (m *Meili) DeleteQuestion(id string) error {
	_, err := m.client.Index(indexFor(ResultQuestion)).DeleteDocument(id, nil)
	return err
}

// IndexQuestions bulk-indexes questions, typically during a reindex.
func (m *Meili) IndexQuestions(questions []QuestionRecord) error {
	if len(questions) == 0 {
		return nil
	}
	return m.addDocuments(ResultQuestion, questions)
}

// IndexTags bulk-indexes tags.
func (m *Meili) IndexTags(tags []TagRecord) error {
	if len(tags) == 0 {
		return nil
	}
	return m.addDocuments(ResultTag, tags)
}

func (m *Meili) addDocuments(t ResultType, docs any) error {
	_, err := m.client.Index(indexFor(t)).AddDocuments(docs, nil)
	return err
}
