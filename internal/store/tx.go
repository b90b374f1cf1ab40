package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"devflow/api/internal/util"
)

// QuestionTx is the unit of work for the question lifecycle. Every method
// runs on one open transaction; the writes become visible together on
// commit or not at all.
type QuestionTx interface {
	InsertQuestion(ctx context.Context, question Question) (Question, error)
	GetQuestionWithTags(ctx context.Context, questionID string) (Question, []Tag, error)
	UpdateQuestionContent(ctx context.Context, questionID, title, content string) error
	SetQuestionTags(ctx context.Context, questionID string, tagIDs []string) (time.Time, error)
	UpsertTagWithIncrement(ctx context.Context, name string) (Tag, error)
	InsertTagLinks(ctx context.Context, questionID string, tagIDs []string) error
	DeleteTagLinks(ctx context.Context, questionID string, tagIDs []string) error
	DecrementTagCounts(ctx context.Context, tagIDs []string) error
}

// WithTx runs fn inside one transaction. Any error (or panic) rolls the
// whole unit back; a nil return commits it. The commit/rollback decision is
// made here, never by fn, so every exit path releases the transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx QuestionTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&questionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	done = true
	return nil
}

type questionTx struct {
	tx *sql.Tx
}

// InsertQuestion writes the row and returns it with the timestamps the
// database assigned, so response payloads carry the persisted values.
func (q *questionTx) InsertQuestion(ctx context.Context, question Question) (Question, error) {
	tagIDs := question.TagIDs
	if tagIDs == nil {
		tagIDs = []string{}
	}
	encoded, err := json.Marshal(tagIDs)
	if err != nil {
		return Question{}, fmt.Errorf("encode question tags: %w", err)
	}
	if err := q.tx.QueryRowContext(ctx, `
		INSERT INTO questions (id, title, content, author_id, tags_json)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at, updated_at
	`, question.ID, question.Title, question.Content, question.AuthorID, string(encoded)).
		Scan(&question.CreatedAt, &question.UpdatedAt); err != nil {
		return Question{}, fmt.Errorf("insert question: %w", err)
	}
	return question, nil
}

// GetQuestionWithTags loads the question row FOR UPDATE so concurrent edits
// of the same question serialize on the row lock.
func (q *questionTx) GetQuestionWithTags(ctx context.Context, questionID string) (Question, []Tag, error) {
	question, err := scanQuestion(q.tx.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id=$1 FOR UPDATE`, questionID))
	if err != nil {
		return Question{}, nil, err
	}
	tags, err := questionTags(ctx, q.tx, questionID)
	if err != nil {
		return Question{}, nil, err
	}
	return question, tags, nil
}

// UpdateQuestionContent writes title and content together, matching the
// edit contract: both fields move as a pair even when only one changed.
func (q *questionTx) UpdateQuestionContent(ctx context.Context, questionID, title, content string) error {
	if _, err := q.tx.ExecContext(ctx, `
		UPDATE questions SET title=$2, content=$3, updated_at=NOW() WHERE id=$1
	`, questionID, title, content); err != nil {
		return fmt.Errorf("update question content: %w", err)
	}
	return nil
}

// SetQuestionTags writes the denormalized tag list. It is the final write of
// both the create and edit paths, so it returns the advanced updated_at for
// the caller's payload.
func (q *questionTx) SetQuestionTags(ctx context.Context, questionID string, tagIDs []string) (time.Time, error) {
	if tagIDs == nil {
		tagIDs = []string{}
	}
	encoded, err := json.Marshal(tagIDs)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode question tags: %w", err)
	}
	var updatedAt time.Time
	if err := q.tx.QueryRowContext(ctx, `
		UPDATE questions SET tags_json=$2::jsonb, updated_at=NOW() WHERE id=$1
		RETURNING updated_at
	`, questionID, string(encoded)).Scan(&updatedAt); err != nil {
		return time.Time{}, fmt.Errorf("set question tags: %w", err)
	}
	return updatedAt, nil
}

// UpsertTagWithIncrement is the atomic lookup-or-create-and-increment:
// one statement either inserts a new tag with a counter of 1 or bumps the
// existing row found via the unique lower(name) index. The stored casing is
// whatever the first insert used; a conflicting insert never rewrites it.
func (q *questionTx) UpsertTagWithIncrement(ctx context.Context, name string) (Tag, error) {
	var tag Tag
	err := q.tx.QueryRowContext(ctx, `
		INSERT INTO tags (id, name, questions)
		VALUES ($1, $2, 1)
		ON CONFLICT ((lower(name))) DO UPDATE SET questions = tags.questions + 1, updated_at = NOW()
		RETURNING id, name, questions, created_at, updated_at
	`, util.NewID("tag"), name).Scan(&tag.ID, &tag.Name, &tag.Questions, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return Tag{}, fmt.Errorf("upsert tag %q: %w", name, err)
	}
	return tag, nil
}

func (q *questionTx) InsertTagLinks(ctx context.Context, questionID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	values := make([]string, len(tagIDs))
	args := make([]any, 0, len(tagIDs)*2+1)
	args = append(args, questionID)
	for i, tagID := range tagIDs {
		values[i] = fmt.Sprintf("($%d, $%d, $1)", len(args)+1, len(args)+2)
		args = append(args, util.NewID("tql"), tagID)
	}
	if _, err := q.tx.ExecContext(ctx, `
		INSERT INTO tag_questions (id, tag_id, question_id)
		VALUES `+strings.Join(values, ", "), args...); err != nil {
		return fmt.Errorf("insert tag links: %w", err)
	}
	return nil
}

func (q *questionTx) DeleteTagLinks(ctx context.Context, questionID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	if _, err := q.tx.ExecContext(ctx, `
		DELETE FROM tag_questions WHERE question_id=$1 AND tag_id = ANY($2)
	`, questionID, tagIDs); err != nil {
		return fmt.Errorf("delete tag links: %w", err)
	}
	return nil
}

// DecrementTagCounts lowers each counter by one, floored at zero. Tags stay
// around at zero; they are never deleted.
func (q *questionTx) DecrementTagCounts(ctx context.Context, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	if _, err := q.tx.ExecContext(ctx, `
		UPDATE tags SET questions = GREATEST(questions - 1, 0), updated_at = NOW() WHERE id = ANY($1)
	`, tagIDs); err != nil {
		return fmt.Errorf("decrement tag counts: %w", err)
	}
	return nil
}
