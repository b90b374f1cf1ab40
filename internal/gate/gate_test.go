package gate

import (
	"errors"
	"strings"
	"testing"

	"devflow/api/internal/apperr"
)

func validAsk() AskQuestionParams {
	return AskQuestionParams{
		Title:   "How do I read a file line by line?",
		Content: "bufio.Scanner or bufio.Reader?",
		Tags:    []string{"go", "io"},
	}
}

func TestCheckAcceptsValidParams(t *testing.T) {
	g := New()
	if err := g.Check(validAsk(), Principal{ID: "usr_1"}, true); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestCheckRejectsAnonymousWhenAuthorized(t *testing.T) {
	g := New()
	err := g.Check(validAsk(), Principal{}, true)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindUnauthorized {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestCheckCollectsFieldErrors(t *testing.T) {
	g := New()
	err := g.Check(AskQuestionParams{Title: "short", Content: "", Tags: nil}, Principal{ID: "usr_1"}, true)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	for _, field := range []string{"title", "content", "tags"} {
		if _, ok := appErr.Fields[field]; !ok {
			t.Errorf("missing field %q in %v", field, appErr.Fields)
		}
	}
	if !strings.Contains(appErr.Message, "Content is required") {
		t.Errorf("message = %q, want a 'Content is required' clause", appErr.Message)
	}
}

func TestCheckLimitsTagCountAndLength(t *testing.T) {
	g := New()

	tooMany := validAsk()
	tooMany.Tags = make([]string, 31)
	for i := range tooMany.Tags {
		tooMany.Tags[i] = "t"
	}
	if err := g.Check(tooMany, Principal{ID: "usr_1"}, true); err == nil {
		t.Error("accepted 31 tags")
	}

	tooLong := validAsk()
	tooLong.Tags = []string{strings.Repeat("x", 31)}
	if err := g.Check(tooLong, Principal{ID: "usr_1"}, true); err == nil {
		t.Error("accepted a 31-character tag")
	}
}

func TestUsernameCharset(t *testing.T) {
	g := New()
	params := SignUpParams{
		Name:     "Ada",
		Username: "ada lovelace",
		Email:    "ada@example.com",
		Password: "s3cret-pass",
	}
	err := g.Check(params, Principal{}, false)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if _, ok := appErr.Fields["username"]; !ok {
		t.Errorf("missing username field: %v", appErr.Fields)
	}

	params.Username = "ada_lovelace-99"
	if err := g.Check(params, Principal{}, false); err != nil {
		t.Fatalf("valid username rejected: %v", err)
	}
}
