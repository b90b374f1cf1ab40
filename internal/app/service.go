package app

import (
	"context"
	"errors"
	"time"

	"devflow/api/internal/auth"
	"devflow/api/internal/authpw"
	"devflow/api/internal/config"
	"devflow/api/internal/gate"
	"devflow/api/internal/search"
	"devflow/api/internal/store"
	"devflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Username     string
	Image        string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the storage surface the service depends on. PostgresStore
// implements all of it; tests substitute a fake.
type dataStore interface {
	WithTx(ctx context.Context, fn func(tx store.QuestionTx) error) error
	GetQuestion(ctx context.Context, questionID string) (store.Question, error)
	GetQuestionWithTags(ctx context.Context, questionID string) (store.Question, []store.Tag, error)
	ListQuestions(ctx context.Context, params store.ListQuestionsParams) ([]store.Question, int, error)
	ListTagsForQuestions(ctx context.Context, questionIDs []string) (map[string][]store.Tag, error)
	IncrementQuestionViews(ctx context.Context, questionID string) (int, error)
	ListTags(ctx context.Context, query string, skip, limit int) ([]store.Tag, int, error)
	GetTag(ctx context.Context, tagID string) (store.Tag, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, otherwise the
// Postgres store serves this interface too.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexQuestion(q search.QuestionRecord)
	IndexTag(t search.TagRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchService
	gate     *gate.Gate
	auth     *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		gate:     gate.New(),
		auth:     authpw.NewService(dataStore),
	}
	// Assign only a non-nil pointer: a nil *search.Service stored in the
	// interface field would slip past the s.search == nil guards.
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

// NewWithSessionStore wires an external session backend (Redis) in place of
// the Postgres fallback.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	svc := New(cfg, dataStore, searchSvc)
	svc.sessions = sessions
	return svc
}

func (s *Service) SignUp(ctx context.Context, params gate.SignUpParams) (Session, error) {
	if err := s.gate.Check(params, gate.Principal{}, false); err != nil {
		return Session{}, err
	}
	user, err := s.auth.SignUpWithCredentials(ctx, authpw.SignUpRequest{
		Name:     params.Name,
		Username: params.Username,
		Email:    params.Email,
		Password: params.Password,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, params gate.SignInParams) (Session, error) {
	if err := s.gate.Check(params, gate.Principal{}, false); err != nil {
		return Session{}, err
	}
	user, err := s.auth.SignInWithCredentials(ctx, params.Email, params.Password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignInOAuth(ctx context.Context, req authpw.OAuthRequest) (Session, error) {
	user, err := s.auth.SignInWithOAuth(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis backend stores only the user id; refill the profile fields
	// before reissuing claims.
	if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = full
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Image: user.Image,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Username:     user.Username,
		Image:        user.Image,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Username:  user.Username,
		Image:     user.Image,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) principal(session Session) gate.Principal {
	return gate.Principal{ID: session.UserID, Name: session.UserName, Image: session.Image}
}

// GlobalSearch runs free-text search across questions and tags.
func (s *Service) GlobalSearch(ctx context.Context, text, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	q := search.Query{Text: text, Limit: limit, Offset: offset}
	switch filterType {
	case "question":
		q.FilterType = search.ResultQuestion
	case "tag":
		q.FilterType = search.ResultTag
	case "":
	default:
		return search.Response{}, errors.New("unknown search type")
	}
	return s.search.Search(q), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
