package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"devflow/api/internal/apperr"
	"devflow/api/internal/gate"
	"devflow/api/internal/search"
	"devflow/api/internal/store"
	"devflow/api/internal/util"
)

// Reserved filter words select a sort instead of a tag. Any other filter
// value is treated as a tag id.
var reservedFilters = map[string]struct{}{
	"newest":      {},
	"unanswered":  {},
	"popular":     {},
	"recommended": {},
}

// CreateQuestion inserts a question, resolves every submitted tag name to a
// tag row (creating or incrementing atomically), links them, and writes the
// denormalized tag list — all in one transaction.
func (s *Service) CreateQuestion(ctx context.Context, session Session, params gate.AskQuestionParams) (map[string]any, error) {
	if err := s.gate.Check(params, s.principal(session), true); err != nil {
		return nil, err
	}

	question := store.Question{
		ID:       util.NewID("q"),
		Title:    strings.TrimSpace(params.Title),
		Content:  params.Content,
		AuthorID: session.UserID,
	}
	names := dedupeTagNames(params.Tags)

	var tags []store.Tag
	err := s.store.WithTx(ctx, func(tx store.QuestionTx) error {
		inserted, err := tx.InsertQuestion(ctx, question)
		if err != nil {
			return err
		}
		question = inserted

		tagIDs := make([]string, 0, len(names))
		for _, name := range names {
			tag, err := tx.UpsertTagWithIncrement(ctx, name)
			if err != nil {
				return err
			}
			tags = append(tags, tag)
			tagIDs = append(tagIDs, tag.ID)
		}

		if err := tx.InsertTagLinks(ctx, question.ID, tagIDs); err != nil {
			return err
		}
		question.TagIDs = tagIDs
		updatedAt, err := tx.SetQuestionTags(ctx, question.ID, tagIDs)
		if err != nil {
			return err
		}
		question.UpdatedAt = updatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.indexQuestion(question, tags)
	author, _ := s.store.GetUserByID(ctx, session.UserID)
	return questionPayload(question, tags, author), nil
}

// EditQuestion rewrites title/content and reconciles the tag set against
// the stored links. The question row is locked for the duration, removals
// happen before additions, and a failure anywhere rolls everything back.
func (s *Service) EditQuestion(ctx context.Context, session Session, params gate.EditQuestionParams) (map[string]any, error) {
	if err := s.gate.Check(params, s.principal(session), true); err != nil {
		return nil, err
	}

	var (
		question store.Question
		tags     []store.Tag
	)
	err := s.store.WithTx(ctx, func(tx store.QuestionTx) error {
		current, currentTags, err := tx.GetQuestionWithTags(ctx, params.QuestionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("Question not found")
			}
			return err
		}
		if current.AuthorID != session.UserID {
			return apperr.Forbidden("You are not allowed to edit this question")
		}

		title := strings.TrimSpace(params.Title)
		if current.Title != title || current.Content != params.Content {
			if err := tx.UpdateQuestionContent(ctx, current.ID, title, params.Content); err != nil {
				return err
			}
			current.Title = title
			current.Content = params.Content
		}

		desired := dedupeTagNames(params.Tags)
		desiredSet := make(map[string]struct{}, len(desired))
		for _, name := range desired {
			desiredSet[strings.ToLower(name)] = struct{}{}
		}
		currentSet := make(map[string]store.Tag, len(currentTags))
		for _, tag := range currentTags {
			currentSet[strings.ToLower(tag.Name)] = tag
		}

		var removeIDs []string
		kept := make([]store.Tag, 0, len(currentTags))
		for _, tag := range currentTags {
			if _, ok := desiredSet[strings.ToLower(tag.Name)]; ok {
				kept = append(kept, tag)
			} else {
				removeIDs = append(removeIDs, tag.ID)
			}
		}
		var toAdd []string
		for _, name := range desired {
			if _, ok := currentSet[strings.ToLower(name)]; !ok {
				toAdd = append(toAdd, name)
			}
		}

		// Removals first so a tag dropped and re-added under a different
		// casing resolves against the surviving row.
		if err := tx.DeleteTagLinks(ctx, current.ID, removeIDs); err != nil {
			return err
		}
		if err := tx.DecrementTagCounts(ctx, removeIDs); err != nil {
			return err
		}

		finalTags := kept
		addedIDs := make([]string, 0, len(toAdd))
		for _, name := range toAdd {
			tag, err := tx.UpsertTagWithIncrement(ctx, name)
			if err != nil {
				return err
			}
			finalTags = append(finalTags, tag)
			addedIDs = append(addedIDs, tag.ID)
		}
		if err := tx.InsertTagLinks(ctx, current.ID, addedIDs); err != nil {
			return err
		}

		finalIDs := make([]string, len(finalTags))
		for i, tag := range finalTags {
			finalIDs[i] = tag.ID
		}
		updatedAt, err := tx.SetQuestionTags(ctx, current.ID, finalIDs)
		if err != nil {
			return err
		}
		current.UpdatedAt = updatedAt

		current.TagIDs = finalIDs
		question = current
		tags = finalTags
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.indexQuestion(question, tags)
	author, _ := s.store.GetUserByID(ctx, question.AuthorID)
	return questionPayload(question, tags, author), nil
}

func (s *Service) GetQuestion(ctx context.Context, session Session, params gate.GetQuestionParams) (map[string]any, error) {
	if err := s.gate.Check(params, s.principal(session), false); err != nil {
		return nil, err
	}

	question, tags, err := s.store.GetQuestionWithTags(ctx, params.QuestionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Question not found")
		}
		return nil, err
	}
	author, err := s.store.GetUserByID(ctx, question.AuthorID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return questionPayload(question, tags, author), nil
}

// ListQuestions serves the paginated home listing. The filter parameter is
// overloaded: reserved words pick a sort, anything else narrows to a tag.
func (s *Service) ListQuestions(ctx context.Context, session Session, params gate.PaginatedSearchParams) (map[string]any, error) {
	if err := s.gate.Check(params, s.principal(session), false); err != nil {
		return nil, err
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	skip := (page - 1) * pageSize

	filter := strings.ToLower(strings.TrimSpace(params.Filter))

	// Personalized feeds are not computed yet; the filter exists so clients
	// can already link to it.
	if filter == "recommended" {
		return map[string]any{
			"questions": []map[string]any{},
			"isNext":    false,
			"total":     0,
		}, nil
	}

	listParams := store.ListQuestionsParams{
		Query: strings.TrimSpace(params.Query),
		Skip:  skip,
		Limit: pageSize,
	}
	if _, reserved := reservedFilters[filter]; reserved {
		listParams.Sort = filter
		listParams.Unanswered = filter == "unanswered"
	} else if filter != "" {
		listParams.TagID = strings.TrimSpace(params.Filter)
	}

	questions, total, err := s.store.ListQuestions(ctx, listParams)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	tagsByQuestion, err := s.store.ListTagsForQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}

	authors := make(map[string]store.User)
	payloads := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		author, ok := authors[q.AuthorID]
		if !ok {
			author, err = s.store.GetUserByID(ctx, q.AuthorID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			authors[q.AuthorID] = author
		}
		payloads = append(payloads, questionPayload(q, tagsByQuestion[q.ID], author))
	}

	return map[string]any{
		"questions": payloads,
		"isNext":    total > skip+len(questions),
		"total":     total,
	}, nil
}

// IncrementViews bumps the view counter and returns the new value.
func (s *Service) IncrementViews(ctx context.Context, questionID string) (map[string]any, error) {
	views, err := s.store.IncrementQuestionViews(ctx, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Question not found")
		}
		return nil, err
	}
	return map[string]any{"views": views}, nil
}

func (s *Service) ListTags(ctx context.Context, params gate.PaginatedSearchParams) (map[string]any, error) {
	if err := s.gate.Check(params, gate.Principal{}, false); err != nil {
		return nil, err
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	skip := (page - 1) * pageSize

	tags, total, err := s.store.ListTags(ctx, strings.TrimSpace(params.Query), skip, pageSize)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, len(tags))
	for i, tag := range tags {
		payloads[i] = tagPayload(tag)
	}
	return map[string]any{
		"tags":   payloads,
		"isNext": total > skip+len(tags),
		"total":  total,
	}, nil
}

func (s *Service) GetTag(ctx context.Context, tagID string) (map[string]any, error) {
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Tag not found")
		}
		return nil, err
	}
	return tagPayload(tag), nil
}

// dedupeTagNames trims and de-duplicates case-insensitively, preserving the
// casing and order of each name's first occurrence.
func dedupeTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (s *Service) indexQuestion(question store.Question, tags []store.Tag) {
	if s.search == nil {
		return
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	s.search.IndexQuestion(search.QuestionRecord{
		ID:       question.ID,
		Title:    question.Title,
		Content:  question.Content,
		TagNames: names,
		AuthorID: question.AuthorID,
	})
	for _, tag := range tags {
		s.search.IndexTag(search.TagRecord{ID: tag.ID, Name: tag.Name, Questions: tag.Questions})
	}
}

func questionPayload(question store.Question, tags []store.Tag, author store.User) map[string]any {
	tagPayloads := make([]map[string]any, len(tags))
	for i, tag := range tags {
		tagPayloads[i] = tagPayload(tag)
	}
	return map[string]any{
		"id":      question.ID,
		"title":   question.Title,
		"content": question.Content,
		"author": map[string]any{
			"id":    question.AuthorID,
			"name":  author.Name,
			"image": author.Image,
		},
		"tags":      tagPayloads,
		"answers":   question.Answers,
		"views":     question.Views,
		"upvotes":   question.Upvotes,
		"downvotes": question.Downvotes,
		"createdAt": question.CreatedAt,
		"updatedAt": question.UpdatedAt,
	}
}

func tagPayload(tag store.Tag) map[string]any {
	return map[string]any{
		"id":        tag.ID,
		"name":      tag.Name,
		"questions": tag.Questions,
	}
}
