package store

import "time"

type User struct {
	ID         string
	Name       string
	Username   string
	Email      string
	Bio        string
	Image      string
	Location   string
	Portfolio  string
	Reputation int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Account links a user to a sign-in method. Credentials accounts carry a
// bcrypt hash; OAuth accounts carry the provider's account id instead.
type Account struct {
	ID                string
	UserID            string
	Name              string
	Image             string
	PasswordHash      string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
}

// Question is the core document. TagIDs is the denormalized tag-reference
// list; at transaction boundaries it always equals the set of TagQuestion
// links for this question.
type Question struct {
	ID        string
	Title     string
	Content   string
	AuthorID  string
	TagIDs    []string
	Answers   int
	Views     int
	Upvotes   int
	Downvotes int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tag names are unique case-insensitively; the casing of the first insert
// wins. Questions is a denormalized counter of live links, never below 0.
type Tag struct {
	ID        string
	Name      string
	Questions int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TagQuestion is one question-tag association. Links are inserted and
// deleted, never updated.
type TagQuestion struct {
	ID         string
	TagID      string
	QuestionID string
	CreatedAt  time.Time
}

// ListQuestionsParams drives the read-side listing query.
type ListQuestionsParams struct {
	Query      string // case-insensitive substring over title and content
	TagID      string // exact tag-membership filter
	Unanswered bool   // restrict to answers = 0
	Sort       string // "newest", "unanswered", "popular" or empty
	Skip       int
	Limit      int
}
