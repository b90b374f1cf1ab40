// Package gate is the validation/authorization front door for service
// operations. Handlers hand it raw params plus whatever principal the
// session layer resolved; it returns typed, validated params or a tagged
// apperr failure. Operations behind the gate perform no shape validation of
// their own.
package gate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"devflow/api/internal/apperr"
)

// Principal is the authenticated identity performing an operation. A zero
// ID means "not signed in".
type Principal struct {
	ID    string
	Name  string
	Image string
}

type AskQuestionParams struct {
	Title   string   `json:"title" validate:"required,min=10,max=150"`
	Content string   `json:"content" validate:"required"`
	Tags    []string `json:"tags" validate:"required,min=1,max=30,dive,required,max=30"`
}

type EditQuestionParams struct {
	QuestionID string   `json:"questionId" validate:"required"`
	Title      string   `json:"title" validate:"required,min=10,max=150"`
	Content    string   `json:"content" validate:"required"`
	Tags       []string `json:"tags" validate:"required,min=1,max=30,dive,required,max=30"`
}

type GetQuestionParams struct {
	QuestionID string `json:"questionId" validate:"required"`
}

type PaginatedSearchParams struct {
	Page     int    `json:"page" validate:"min=0"`
	PageSize int    `json:"pageSize" validate:"min=0,max=100"`
	Query    string `json:"query"`
	Filter   string `json:"filter"`
	Sort     string `json:"sort"`
}

type SignUpParams struct {
	Name     string `json:"name" validate:"required,max=50"`
	Username string `json:"username" validate:"required,min=3,max=30,alphanum_dash"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type SignInParams struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type Gate struct {
	validate *validator.Validate
}

func New() *Gate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("alphanum_dash", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			default:
				return false
			}
		}
		return true
	})
	return &Gate{validate: v}
}

// Check validates params against their schema tags and, when authorize is
// set, requires a resolved principal. Failures come back as apperr values;
// storage is never touched on the failure path.
func (g *Gate) Check(params any, principal Principal, authorize bool) error {
	if params != nil {
		if err := g.validate.Struct(params); err != nil {
			invalid, ok := err.(validator.ValidationErrors)
			if !ok {
				return apperr.Internal("schema validation failed")
			}
			fields := make(map[string][]string)
			for _, fieldErr := range invalid {
				name := lowerFirst(fieldErr.Field())
				fields[name] = append(fields[name], messageFor(fieldErr))
			}
			return apperr.Validation(fields)
		}
	}
	if authorize && principal.ID == "" {
		return apperr.Unauthorized("You must be logged in")
	}
	return nil
}

func lowerFirst(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func messageFor(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "Required"
	case "min":
		if fieldErr.Kind().String() == "slice" {
			return fmt.Sprintf("must contain at least %s item(s)", fieldErr.Param())
		}
		return fmt.Sprintf("must be at least %s characters long", fieldErr.Param())
	case "max":
		if fieldErr.Kind().String() == "slice" {
			return fmt.Sprintf("cannot contain more than %s items", fieldErr.Param())
		}
		return fmt.Sprintf("cannot exceed %s characters", fieldErr.Param())
	case "email":
		return "must be a valid email address"
	case "alphanum_dash":
		return "can only contain letters, numbers, underscores and hyphens"
	default:
		return "is invalid"
	}
}
