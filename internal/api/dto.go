package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type registerRequest struct {
	Name      string `json:"name" validate:"max=200"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	Anonymous bool   `json:"anonymous"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createUserRequest struct {
	registerRequest
	Role models.Role `json:"role" validate:"required,oneof=admin student teacher_analyst teacher_respondent"`
}

type questionRequest struct {
	Title      string                  `json:"title" validate:"required,max=500"`
	Type       models.QuestionType     `json:"type" validate:"required"`
	Options    []models.Option         `json:"options" validate:"dive"`
	Validation *models.ValidationRules `json:"validation"`
}

func (q questionRequest) input() services.QuestionInput {
	return services.QuestionInput{Title: q.Title, Type: q.Type, Options: q.Options, Validation: q.Validation}
}

type formQuestionRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Required   bool   `json:"required"`
}

type formRequest struct {
	Title         string                `json:"title" validate:"required,max=500"`
	Description   string                `json:"description" validate:"max=5000"`
	Mode          models.FormMode       `json:"mode" validate:"omitempty,oneof=form diary"`
	Questions     []formQuestionRequest `json:"questions" validate:"dive"`
	AssignedUsers []string              `json:"assigned_users"`
}

func (f formRequest) input() services.FormInput {
	in := services.FormInput{Title: f.Title, Description: f.Description, Mode: f.Mode, AssignedUsers: f.AssignedUsers}
	for _, q := range f.Questions {
		in.Questions = append(in.Questions, services.FormQuestionInput{QuestionID: q.QuestionID, Required: q.Required})
	}
	return in
}

type assignRequest struct {
	UserIDs []string `json:"user_ids" validate:"required"`
}

// answersRequest leaves Answers nil when the field is absent or null so the
// ledger can report it.
type answersRequest struct {
	Answers []models.Answer `json:"answers"`
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
// Failures come back as invalid ServiceErrors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid json: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return services.NewInvalidError(err.Error())
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return services.NewInvalidError(field + " required")
	case "email":
		return services.NewInvalidError("invalid email")
	case "oneof":
		return services.NewInvalidError(fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	case "min", "max":
		return services.NewInvalidError(fmt.Sprintf("%s length must be %s %s", field, fe.Tag(), fe.Param()))
	}
	return services.NewInvalidError("invalid " + field)
}
