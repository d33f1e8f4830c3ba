// Package validation checks incoming DTOs against the `validate` struct
// tags of their class before the DTO is mapped onto an entity.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

var defaultValidator = New()

// Default returns the shared validator
func Default() *Validator {
	return defaultValidator
}

// Validator wraps a go-playground validator configured to report client
// (json) property names
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the built-in rules
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// RegisterValidation adds a custom rule usable from `validate` tags
func (v *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return v.validate.RegisterValidation(tag, fn)
}

// ValidateDto validates an incoming DTO. Schema-driven DTOs are checked
// property by property: on update only the properties the client sent, on
// create every writable property, so `required` catches missing ones.
// Plain struct DTOs are validated as a whole. The returned error is a
// *ValidationErrors when the DTO is invalid.
func (v *Validator) ValidateDto(ctx context.Context, class *schema.Class, dto any, kind hooks.SaveKind) error {
	errs := NewValidationErrors()

	if obj := mapping.ObjectOf(dto); obj != nil {
		for _, p := range class.Properties {
			if p.Validate == "" || !clientWritable(class, p) {
				continue
			}
			v.validateProperty(ctx, obj, p, kind, errs)
		}
	} else if err := v.validate.StructCtx(ctx, dto); err != nil {
		if !collect(err, "", errs) {
			return err
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (v *Validator) validateProperty(ctx context.Context, obj *mapping.Object, p *schema.Property, kind hooks.SaveKind, errs *ValidationErrors) {
	value, touched, err := obj.Value(p)
	if err != nil {
		errs.Add(p.JSONName, fmt.Sprintf("is not a valid %s", describeType(p.Type)))
		return
	}
	if !touched && kind == hooks.Update {
		return
	}

	if p.IsNavigation() {
		// Nested relations are validated by their own class; only presence
		// is checked here.
		if hasRule(p.Validate, "required") && (value == nil || isNullJSON(value)) {
			errs.Add(p.JSONName, "is required")
		}
		return
	}

	if value == nil {
		value = reflect.Zero(p.Type).Interface()
	}
	if err := v.validate.VarCtx(ctx, value, p.Validate); err != nil {
		if !collect(err, p.JSONName, errs) {
			errs.Add(p.JSONName, err.Error())
		}
	}
}

// Var validates a single value against a tag
func (v *Validator) Var(ctx context.Context, value any, tag string) error {
	errs := NewValidationErrors()
	if err := v.validate.VarCtx(ctx, value, tag); err != nil {
		if !collect(err, "", errs) {
			return err
		}
		return errs
	}
	return nil
}

// collect adds validator field errors to errs. It returns false when err is
// not a validation failure.
func collect(err error, field string, errs *ValidationErrors) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		name := field
		if name == "" {
			name = fe.Field()
		}
		errs.Add(name, Message(fe))
	}
	return true
}

// Message renders a validator field error as a client-facing sentence
func Message(fe validator.FieldError) string {
	param := fe.Param()
	sized := fe.Kind() == reflect.String
	counted := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map || fe.Kind() == reflect.Array

	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url", "http_url", "uri":
		return "must be a valid URL"
	case "e164":
		return "must be a valid phone number in E.164 format (+[country code][number])"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.Join(strings.Fields(param), ", "))
	case "min":
		switch {
		case sized:
			return fmt.Sprintf("must be at least %s characters long", param)
		case counted:
			return fmt.Sprintf("must contain at least %s items", param)
		}
		return fmt.Sprintf("must be at least %s", param)
	case "max":
		switch {
		case sized:
			return fmt.Sprintf("must be at most %s characters long", param)
		case counted:
			return fmt.Sprintf("must contain at most %s items", param)
		}
		return fmt.Sprintf("must be at most %s", param)
	case "len":
		if counted {
			return fmt.Sprintf("must contain exactly %s items", param)
		}
		return fmt.Sprintf("must be exactly %s characters long", param)
	case "gt":
		return fmt.Sprintf("must be greater than %s", param)
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", param)
	case "lt":
		return fmt.Sprintf("must be less than %s", param)
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", param)
	}
	if param != "" {
		return fmt.Sprintf("failed the '%s=%s' rule", fe.Tag(), param)
	}
	return fmt.Sprintf("failed the '%s' rule", fe.Tag())
}

func clientWritable(class *schema.Class, p *schema.Property) bool {
	switch {
	case p.Internal, p.ReadOnly, p.Unmapped:
		return false
	case p.Kind == schema.KindCollection:
		return false
	case p.IsKey && class.KeyGenerated:
		return false
	}
	return true
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		name, _, _ := strings.Cut(r, "=")
		if name == rule {
			return true
		}
	}
	return false
}

func isNullJSON(v any) bool {
	if raw, ok := v.(json.RawMessage); ok {
		return strings.TrimSpace(string(raw)) == "null"
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func describeType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "list"
	}
	return strings.ToLower(t.Name())
}
