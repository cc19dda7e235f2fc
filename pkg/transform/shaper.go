package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pquerna/ffjson/ffjson"
	kazaam "github.com/qntfy/kazaam/v4"
)

// PropertiesPath is where the catalog nests the per-property rule definitions of an event
const PropertiesPath = "rules.properties.properties.properties"

// Operation is one kazaam operation, e.g. {"operation":"shift","spec":{"output":"input"}}
type Operation struct {
	Operation string                 `json:"operation"`
	Spec      map[string]interface{} `json:"spec"`
	Require   bool                   `json:"require,omitempty"`
}

// DefaultEventDetailOperations flatten an event detail into {id, name, description, properties}
func DefaultEventDetailOperations() []Operation {
	return []Operation{
		{
			Operation: "shift",
			Spec: map[string]interface{}{
				"id":          "id",
				"name":        "name",
				"description": "description",
				"properties":  PropertiesPath,
			},
		},
	}
}

// ShapedEvent is the flat form produced by the event detail operations
type ShapedEvent struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Properties  map[string]interface{} `json:"properties"`
}

// Shaper reshapes catalog documents with a fixed kazaam spec
type Shaper struct {
	spec string
	k    *kazaam.Kazaam
}

// NewShaper compiles operations into a shaper
func NewShaper(operations []Operation) (*Shaper, error) {
	if len(operations) == 0 {
		return nil, ErrOperationRequired
	}
	spec, err := ffjson.Marshal(operations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return NewShaperFromSpec(string(spec))
}

// NewShaperFromSpec compiles a raw kazaam spec string
func NewShaperFromSpec(spec string) (*Shaper, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, ErrOperationRequired
	}
	k, err := kazaam.NewKazaam(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return &Shaper{spec: spec, k: k}, nil
}

// NewEventDetailShaper returns a shaper for the default event detail layout
func NewEventDetailShaper() (*Shaper, error) {
	return NewShaper(DefaultEventDetailOperations())
}

// Spec returns the compiled spec string
func (s *Shaper) Spec() string {
	return s.spec
}

// Transform applies the spec to a JSON document
func (s *Shaper) Transform(document []byte) ([]byte, error) {
	if len(document) == 0 {
		return nil, ErrInvalidInput
	}
	out, err := s.k.Transform(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}
	return out, nil
}

// ShapeEvent transforms an event detail document and decodes the flat result
func (s *Shaper) ShapeEvent(document []byte) (*ShapedEvent, error) {
	out, err := s.Transform(document)
	if err != nil {
		return nil, err
	}

	var generic map[string]interface{}
	if err := ffjson.Unmarshal(out, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	shaped := &ShapedEvent{}
	shaped.ID, _ = generic["id"].(string)
	shaped.Name, _ = generic["name"].(string)
	shaped.Description, _ = generic["description"].(string)

	switch props := generic["properties"].(type) {
	case nil:
	case map[string]interface{}:
		shaped.Properties = props
	default:
		return nil, fmt.Errorf("%w: properties is %T, want object", ErrUnexpectedShape, props)
	}
	return shaped, nil
}

// PropertyNames returns the sorted property names an event detail references.
// A missing or null properties block yields no names and no error.
func (s *Shaper) PropertyNames(document []byte) ([]string, error) {
	shaped, err := s.ShapeEvent(document)
	if err != nil {
		return nil, err
	}
	return shaped.PropertyNames(), nil
}

// PropertyNames returns the sorted, non-empty keys of the properties block
func (e *ShapedEvent) PropertyNames() []string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
