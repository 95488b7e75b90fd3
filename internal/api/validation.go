package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// fieldError はリクエストの不正箇所1件。
type fieldError struct {
	// Field はJSON上のフィールドパス（例: users[2]）。
	Field string `json:"field"`
	// Message は不正の内容。
	Message string `json:"message"`
}

var registerOnce sync.Once

// registerJSONFieldNames は検証エラーのフィールド名をJSONのキー名にする。
func registerJSONFieldNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return f.Name
			default:
				return name
			}
		})
	})
}

// validationDetails はバインドエラーをフィールドごとの詳細に変換する。
func validationDetails(err error) []fieldError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError{
				Field:   fieldPath(fe.Namespace()),
				Message: describe(fe),
			})
		}
		return details
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return []fieldError{{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be of type %s", jsonTypeName(typeErr.Type)),
		}}
	}

	return []fieldError{{Message: "request body must be a valid JSON object"}}
}

// fieldPath は "notifyRequest.users[0]" から構造体名を除いたパスを返す。
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if isList {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
}

func jsonTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "number"
	default:
		return t.String()
	}
}
