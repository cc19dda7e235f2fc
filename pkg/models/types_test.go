package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePropertyType(t *testing.T) {
	tests := []struct {
		raw  string
		want PropertyType
	}{
		{raw: "string", want: PropertyTypeString},
		{raw: "Number", want: PropertyTypeNumber},
		{raw: "integer", want: PropertyTypeNumber},
		{raw: "null,boolean", want: PropertyTypeBoolean},
		{raw: " array , null", want: PropertyTypeArray},
		{raw: "object", want: PropertyTypeObject},
		{raw: "null", want: ""},
		{raw: "", want: ""},
		{raw: "datetime", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePropertyType(tt.raw))
		})
	}
}

func TestPropertyTypeOptions(t *testing.T) {
	options := PropertyTypeOptions()
	assert.Len(t, options, 5)
	for _, option := range options {
		assert.True(t, option.Type.IsValid())
		assert.NotEmpty(t, option.Color)
	}
}
