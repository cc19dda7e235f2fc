package models

import "strings"

// PropertyType is the closed set of categories a property record can carry
type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeArray   PropertyType = "array"
	PropertyTypeObject  PropertyType = "object"
)

// PropertyTypeOption is one selectable category with its display color
type PropertyTypeOption struct {
	Type  PropertyType
	Color string
}

// PropertyTypeOptions lists the categories in display order
func PropertyTypeOptions() []PropertyTypeOption {
	return []PropertyTypeOption{
		{Type: PropertyTypeString, Color: "blue"},
		{Type: PropertyTypeNumber, Color: "green"},
		{Type: PropertyTypeBoolean, Color: "yellow"},
		{Type: PropertyTypeArray, Color: "red"},
		{Type: PropertyTypeObject, Color: "purple"},
	}
}

// IsValid reports whether t is one of the known categories
func (t PropertyType) IsValid() bool {
	switch t {
	case PropertyTypeString, PropertyTypeNumber, PropertyTypeBoolean, PropertyTypeArray, PropertyTypeObject:
		return true
	}
	return false
}

// NormalizePropertyType maps an upstream type spelling to a known category.
// Unions such as "string,null" resolve to their first known member; unknown input yields "".
func NormalizePropertyType(raw string) PropertyType {
	for _, part := range strings.Split(raw, ",") {
		candidate := PropertyType(strings.ToLower(strings.TrimSpace(part)))
		if candidate == "integer" {
			candidate = PropertyTypeNumber
		}
		if candidate.IsValid() {
			return candidate
		}
	}
	return ""
}
