package validation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/hooks"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

type article struct {
	ID       int
	Title    string  `json:"title" validate:"required,min=5"`
	Email    string  `json:"email" validate:"omitempty,email"`
	Rating   int     `json:"rating" validate:"gte=0,lte=5"`
	Slug     string  `json:"slug" crud:"readonly" validate:"required"`
	Subtitle *string `json:"subtitle" validate:"omitempty,max=10"`
}

type signup struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"e164"`
}

func articleClass(t *testing.T) *schema.Class {
	t.Helper()
	reg := schema.NewRegistry()
	class, err := reg.Register(&article{})
	require.NoError(t, err)
	return class
}

func fieldsOf(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected *ValidationErrors, got %v", err)
	return verrs.Fields
}

func TestValidateDto_CreateChecksMissingFields(t *testing.T) {
	class := articleClass(t)
	dto := mapping.NewObject(class).Set("rating", 3)

	err := New().ValidateDto(context.Background(), class, dto, hooks.Create)
	fields := fieldsOf(t, err)

	assert.Equal(t, []string{"is required"}, fields["title"])
	assert.NotContains(t, fields, "slug", "read-only properties never come from the client")
	assert.NotContains(t, fields, "email")
	assert.NotContains(t, fields, "rating")
}

func TestValidateDto_UpdateChecksOnlySentFields(t *testing.T) {
	class := articleClass(t)
	dto := mapping.NewObject(class).Set("rating", 9)

	err := New().ValidateDto(context.Background(), class, dto, hooks.Update)
	fields := fieldsOf(t, err)

	assert.Len(t, fields, 1)
	assert.Equal(t, []string{"must be less than or equal to 5"}, fields["rating"])
}

func TestValidateDto_DecodedPayload(t *testing.T) {
	class := articleClass(t)
	var dto mapping.Object
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Tiny","email":"nope","subtitle":null}`), &dto))

	fields := fieldsOf(t, Default().ValidateDto(context.Background(), class, &dto, hooks.Update))

	assert.Equal(t, []string{"must be at least 5 characters long"}, fields["title"])
	assert.Equal(t, []string{"must be a valid email address"}, fields["email"])
	assert.NotContains(t, fields, "subtitle")
}

func TestValidateDto_InvalidValueType(t *testing.T) {
	class := articleClass(t)
	var dto mapping.Object
	require.NoError(t, json.Unmarshal([]byte(`{"rating":"lots"}`), &dto))

	fields := fieldsOf(t, New().ValidateDto(context.Background(), class, &dto, hooks.Update))
	assert.Equal(t, []string{"is not a valid integer"}, fields["rating"])
}

func TestValidateDto_Valid(t *testing.T) {
	class := articleClass(t)
	dto := mapping.NewObject(class).
		Set("title", "A long title").
		Set("email", "someone@example.com").
		Set("rating", 4)

	assert.NoError(t, New().ValidateDto(context.Background(), class, dto, hooks.Create))
}

func TestValidateDto_PlainStruct(t *testing.T) {
	reg := schema.NewRegistry()
	class, err := reg.Register(&signup{})
	require.NoError(t, err)

	err = New().ValidateDto(context.Background(), class, &signup{Phone: "555-1234"}, hooks.Create)
	fields := fieldsOf(t, err)

	assert.Equal(t, []string{"is required"}, fields["name"])
	assert.Contains(t, fields["phone"][0], "E.164")
}

func TestValidator_CustomRule(t *testing.T) {
	v := New()
	require.NoError(t, v.RegisterValidation("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	}))

	assert.NoError(t, v.Var(context.Background(), 4, "even"))

	err := v.Var(context.Background(), 3, "even")
	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, 1, verrs.Count())
	for _, msgs := range verrs.Fields {
		assert.Equal(t, []string{"failed the 'even' rule"}, msgs)
	}
}
