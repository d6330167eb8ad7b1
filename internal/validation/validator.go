package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Report JSON names so error details match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return phoneRegex.MatchString(value)
	})

	v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		switch value := fl.Field().Interface().(type) {
		case string:
			return entity.Stage(value).Valid()
		case entity.Stage:
			return value.Valid()
		}
		return false
	})

	return &Validator{v: v}
}

func (v *Validator) Struct(s interface{}) error {
	return v.v.Struct(s)
}

// Details flattens validation errors into field -> failed tag.
func (v *Validator) Details(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	details := make(map[string]string, len(ve))
	for _, fe := range ve {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
