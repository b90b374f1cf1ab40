package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultQuestion ResultType = "question"
	ResultTag      ResultType = "tag"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the global search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexQuestion(q QuestionRecord) error
	IndexTag(t TagRecord) error
	DeleteQuestion(id string) error
}

// QuestionRecord is the data we index for a question.
type QuestionRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	TagNames []string `json:"tagNames"`
	AuthorID string   `json:"authorId"`
}

// TagRecord is the data we index for a tag.
type TagRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Questions int    `json:"questions"`
}
