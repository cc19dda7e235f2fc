package models

import "time"

// TrackingPlan is a named grouping of expected analytics events in the source catalog
type TrackingPlan struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event belongs to exactly one tracking plan
type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// PropertyNames are the property names the event's rules reference, sorted and unique
	PropertyNames []string `json:"property_names,omitempty"`
}

// EventDetail is a single event as returned by the catalog, with its raw document kept for shaping
type EventDetail struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Document    []byte `json:"-"`
}

// Property is a globally defined, typed event attribute
type Property struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        PropertyType `json:"type,omitempty"`
}

// Collection is the destination-side read model of a database
type Collection struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Archived       bool       `json:"archived"`
	CreatedTime    *time.Time `json:"created_time,omitempty"`
	LastEditedTime *time.Time `json:"last_edited_time,omitempty"`
}

// DestinationRecord pairs a destination-assigned id with the logical name used to reconcile it
type DestinationRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
