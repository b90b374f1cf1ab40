package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const questionColumns = `id, title, content, author_id, tags_json, answers, views, upvotes, downvotes, created_at, updated_at`

type questionScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row questionScanner) (Question, error) {
	var item Question
	var tagsRaw []byte
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.AuthorID,
		&tagsRaw,
		&item.Answers,
		&item.Views,
		&item.Upvotes,
		&item.Downvotes,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Question{}, err
	}
	if err := json.Unmarshal(tagsRaw, &item.TagIDs); err != nil {
		return Question{}, fmt.Errorf("decode question tags: %w", err)
	}
	if item.TagIDs == nil {
		item.TagIDs = []string{}
	}
	return item, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id=$1`, questionID))
}

// GetQuestionWithTags loads a question together with its linked tag
// documents, ordered by link creation so the display order is stable.
func (s *PostgresStore) GetQuestionWithTags(ctx context.Context, questionID string) (Question, []Tag, error) {
	question, err := s.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, nil, err
	}
	tags, err := questionTags(ctx, s.db, questionID)
	if err != nil {
		return Question{}, nil, err
	}
	return question, tags, nil
}

func questionTags(ctx context.Context, q queryer, questionID string) ([]Tag, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.name, t.questions, t.created_at, t.updated_at
		FROM tag_questions tq
		JOIN tags t ON t.id = tq.tag_id
		WHERE tq.question_id=$1
		ORDER BY tq.created_at ASC, t.name ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list question tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.Questions, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question tags: %w", err)
	}
	return items, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListQuestions returns one page of questions plus the total match count for
// the same filter, which the caller uses to decide whether a next page
// exists.
func (s *PostgresStore) ListQuestions(ctx context.Context, params ListQuestionsParams) ([]Question, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if params.Query != "" {
		where = append(where, fmt.Sprintf("(title ILIKE '%%' || $%d || '%%' OR content ILIKE '%%' || $%d || '%%')", argN, argN))
		args = append(args, params.Query)
		argN++
	}
	if params.TagID != "" {
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM tag_questions tq WHERE tq.question_id = questions.id AND tq.tag_id = $%d)", argN))
		args = append(args, params.TagID)
		argN++
	}
	if params.Unanswered {
		where = append(where, "answers = 0")
	}

	var order string
	switch params.Sort {
	case "unanswered":
		order = "answers ASC, created_at DESC"
	case "popular":
		order = "upvotes DESC, created_at DESC"
	default: // "newest" and anything else
		order = "created_at DESC"
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM questions WHERE "+whereClause, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	skip := params.Skip
	if skip < 0 {
		skip = 0
	}

	query := fmt.Sprintf(
		"SELECT %s FROM questions WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		questionColumns, whereClause, order, argN, argN+1,
	)
	args = append(args, limit, skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate questions: %w", err)
	}
	return items, total, nil
}

// ListTagsForQuestions batch-loads the tag documents for a page of
// questions, keyed by question id.
func (s *PostgresStore) ListTagsForQuestions(ctx context.Context, questionIDs []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag)
	if len(questionIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(questionIDs))
	args := make([]any, len(questionIDs))
	for i, id := range questionIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT tq.question_id, t.id, t.name, t.questions, t.created_at, t.updated_at
		FROM tag_questions tq
		JOIN tags t ON t.id = tq.tag_id
		WHERE tq.question_id IN (%s)
		ORDER BY tq.created_at ASC, t.name ASC
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("list tags for questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var questionID string
		var item Tag
		if err := rows.Scan(&questionID, &item.ID, &item.Name, &item.Questions, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page tag: %w", err)
		}
		result[questionID] = append(result[questionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page tags: %w", err)
	}
	return result, nil
}

// IncrementQuestionViews bumps the view counter atomically and returns the
// new value. Returns sql.ErrNoRows when the question does not exist.
func (s *PostgresStore) IncrementQuestionViews(ctx context.Context, questionID string) (int, error) {
	var views int
	err := s.db.QueryRowContext(ctx, `
		UPDATE questions SET views = views + 1 WHERE id=$1 RETURNING views
	`, questionID).Scan(&views)
	if err != nil {
		return 0, err
	}
	return views, nil
}
