package estuary

import "github.com/cohenjo/plansync/pkg/models"

// Request bodies for the workspace API. Field names follow the wire format.

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Type string      `json:"type,omitempty"`
	Text textContent `json:"text"`
}

type pageParent struct {
	Type   string `json:"type,omitempty"`
	PageID string `json:"page_id"`
}

type databaseParent struct {
	DatabaseID string `json:"database_id"`
}

type selectOption struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type createDatabaseRequest struct {
	Parent     pageParent             `json:"parent"`
	Title      []richText             `json:"title"`
	Properties map[string]interface{} `json:"properties"`
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

type createPageRequest struct {
	Parent     databaseParent         `json:"parent"`
	Properties map[string]interface{} `json:"properties"`
}

type relationRef struct {
	ID string `json:"id"`
}

type objectResponse struct {
	Object string `json:"object"`
	ID     string `json:"id"`
}

type databaseResponse struct {
	Object         string     `json:"object"`
	ID             string     `json:"id"`
	Archived       bool       `json:"archived"`
	Title          []richText `json:"title"`
	CreatedTime    string     `json:"created_time"`
	LastEditedTime string     `json:"last_edited_time"`
}

func textValue(s string) []richText {
	return []richText{{Text: textContent{Content: s}}}
}

func propertiesCollectionSchema() map[string]interface{} {
	options := make([]selectOption, 0, len(models.PropertyTypeOptions()))
	for _, option := range models.PropertyTypeOptions() {
		options = append(options, selectOption{Name: string(option.Type), Color: option.Color})
	}
	return map[string]interface{}{
		"Name":        map[string]interface{}{"title": struct{}{}},
		"Type":        map[string]interface{}{"select": map[string]interface{}{"options": options}},
		"Description": map[string]interface{}{"rich_text": struct{}{}},
	}
}

func planCollectionSchema(propertiesCollectionID string) map[string]interface{} {
	return map[string]interface{}{
		"Event Name":        map[string]interface{}{"title": struct{}{}},
		"Event Description": map[string]interface{}{"rich_text": struct{}{}},
		"Event Properties": map[string]interface{}{
			"relation": map[string]interface{}{
				"database_id":     propertiesCollectionID,
				"type":            "single_property",
				"single_property": struct{}{},
			},
		},
	}
}

func propertyRecordFields(name string, propType models.PropertyType, description string) map[string]interface{} {
	fields := map[string]interface{}{
		"Name":        map[string]interface{}{"title": textValue(name)},
		"Description": map[string]interface{}{"rich_text": textValue(description)},
	}
	if propType != "" {
		fields["Type"] = map[string]interface{}{"select": selectOption{Name: string(propType)}}
	}
	return fields
}

func eventRecordFields(name, description string, referencedIDs []string) map[string]interface{} {
	relation := make([]relationRef, 0, len(referencedIDs))
	for _, id := range referencedIDs {
		relation = append(relation, relationRef{ID: id})
	}
	return map[string]interface{}{
		"Event Name":        map[string]interface{}{"title": textValue(name)},
		"Event Description": map[string]interface{}{"rich_text": textValue(description)},
		"Event Properties":  map[string]interface{}{"relation": relation},
	}
}
