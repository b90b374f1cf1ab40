package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across questions and tags using
// plainto_tsquery and ts_rank, with ts_headline for question snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultQuestion {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'question'::text AS type, q.id, q.title,
				ts_headline('english', coalesce(q.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(q.fts, %s) AS rank
			FROM questions q
			WHERE q.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTag {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'tag'::text AS type, t.id, t.name AS title,
				''::text AS snippet,
				ts_rank(to_tsvector('simple', t.name), %s) AS rank
			FROM tags t
			WHERE t.name ILIKE '%%' || $1 || '%%'`, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]QuestionRecord, []TagRecord, error) {
	questionRows, err := p.db.QueryContext(ctx, `
		SELECT q.id, q.title, q.content, q.author_id,
			coalesce(string_agg(t.name, ','), '')
		FROM questions q
		LEFT JOIN tag_questions tq ON tq.question_id = q.id
		LEFT JOIN tags t ON t.id = tq.tag_id
		GROUP BY q.id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}
	defer questionRows.Close()

	questions := make([]QuestionRecord, 0)
	for questionRows.Next() {
		var q QuestionRecord
		var names string
		if err := questionRows.Scan(&q.ID, &q.Title, &q.Content, &q.AuthorID, &names); err != nil {
			return nil, nil, fmt.Errorf("scan question: %w", err)
		}
		if names != "" {
			q.TagNames = strings.Split(names, ",")
		}
		questions = append(questions, q)
	}
	if err := questionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate questions: %w", err)
	}

	tagRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.questions
		FROM tags t
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tags: %w", err)
	}
	defer tagRows.Close()

	tags := make([]TagRecord, 0)
	for tagRows.Next() {
		var t TagRecord
		if err := tagRows.Scan(&t.ID, &t.Name, &t.Questions); err != nil {
			return nil, nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := tagRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tags: %w", err)
	}

	return questions, tags, nil
}
