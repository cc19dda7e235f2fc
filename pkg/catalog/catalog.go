package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cohenjo/plansync/pkg/models"
	"github.com/cohenjo/plansync/pkg/remote"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/sirupsen/logrus"
)

// Client reads the source data catalog
type Client interface {
	// ListTrackingPlans returns every tracking plan in source order
	ListTrackingPlans(ctx context.Context) ([]models.TrackingPlan, error)

	// ListEvents returns the events of one tracking plan in source order
	ListEvents(ctx context.Context, planID string) ([]models.Event, error)

	// GetEventDetail returns one event including its nested rules document
	GetEventDetail(ctx context.Context, planID, eventID string) (*models.EventDetail, error)

	// ListProperties returns every property, following pagination
	ListProperties(ctx context.Context) ([]models.Property, error)
}

// Config configures the HTTP catalog client
type Config struct {
	// BaseURL of the catalog API, e.g. https://api.rudderstack.com/v2
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// APIToken is sent as a bearer token
	APIToken string `json:"api_token" yaml:"api_token" mapstructure:"api_token" validate:"required"`

	// Timeout bounds each request
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxPages stops pagination against a server that never reaches its total
	MaxPages int `json:"max_pages" yaml:"max_pages" mapstructure:"max_pages" validate:"gte=0"`

	// OrderBy is the property listing sort key
	OrderBy string `json:"order_by" yaml:"order_by" mapstructure:"order_by"`
}

const (
	defaultMaxPages = 1000
	defaultOrderBy  = "name"
)

// HTTPClient implements Client over the catalog REST API
type HTTPClient struct {
	api      *remote.Client
	maxPages int
	orderBy  string
	logger   *logrus.Logger
}

// NewHTTPClient creates a catalog client
func NewHTTPClient(config Config, logger *logrus.Logger) (*HTTPClient, error) {
	if config.APIToken == "" {
		return nil, fmt.Errorf("catalog API token is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaultMaxPages
	}
	if config.OrderBy == "" {
		config.OrderBy = defaultOrderBy
	}

	api, err := remote.NewClient(remote.Config{
		BaseURL: config.BaseURL,
		Token:   config.APIToken,
		Timeout: config.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}

	return &HTTPClient{
		api:      api,
		maxPages: config.MaxPages,
		orderBy:  config.OrderBy,
		logger:   logger,
	}, nil
}

type trackingPlansResponse struct {
	TrackingPlans *[]models.TrackingPlan `json:"trackingPlans"`
}

type eventsResponse struct {
	Data *[]models.Event `json:"data"`
}

type eventDetailResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type propertyItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type propertiesPage struct {
	Data        *[]propertyItem `json:"data"`
	Total       *int            `json:"total"`
	CurrentPage int             `json:"currentPage"`
}

// ListTrackingPlans implements Client
func (c *HTTPClient) ListTrackingPlans(ctx context.Context) ([]models.TrackingPlan, error) {
	const op = "list tracking plans"

	var resp trackingPlansResponse
	if err := c.api.Get(ctx, "catalog/tracking-plans", nil, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.TrackingPlans == nil {
		return nil, remote.Missing(op, "trackingPlans")
	}

	plans := *resp.TrackingPlans
	for i, plan := range plans {
		if plan.ID == "" {
			return nil, remote.Missing(op, fmt.Sprintf("trackingPlans[%d].id", i))
		}
		if plan.Name == "" {
			return nil, remote.Missing(op, fmt.Sprintf("trackingPlans[%d].name", i))
		}
	}
	return plans, nil
}

// GetTrackingPlan fetches a single tracking plan by id
func (c *HTTPClient) GetTrackingPlan(ctx context.Context, planID string) (*models.TrackingPlan, error) {
	const op = "get tracking plan"

	var plan models.TrackingPlan
	if err := c.api.Get(ctx, "catalog/tracking-plans/"+url.PathEscape(planID), nil, &plan); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, planID, err)
	}
	if plan.ID == "" {
		return nil, remote.Missing(op, "id")
	}
	if plan.Name == "" {
		return nil, remote.Missing(op, "name")
	}
	return &plan, nil
}

// ListEvents implements Client
func (c *HTTPClient) ListEvents(ctx context.Context, planID string) ([]models.Event, error) {
	const op = "list events"

	var resp eventsResponse
	if err := c.api.Get(ctx, "catalog/tracking-plans/"+url.PathEscape(planID)+"/events", nil, &resp); err != nil {
		return nil, fmt.Errorf("%s of plan %s: %w", op, planID, err)
	}
	if resp.Data == nil {
		return nil, remote.Missing(op, "data")
	}

	events := *resp.Data
	for i, event := range events {
		if event.ID == "" {
			return nil, remote.Missing(op, fmt.Sprintf("data[%d].id", i))
		}
		if event.Name == "" {
			return nil, remote.Missing(op, fmt.Sprintf("data[%d].name", i))
		}
	}
	return events, nil
}

// GetEventDetail implements Client
func (c *HTTPClient) GetEventDetail(ctx context.Context, planID, eventID string) (*models.EventDetail, error) {
	const op = "get event detail"

	var raw []byte
	if err := c.api.Get(ctx, "catalog/tracking-plans/"+url.PathEscape(planID)+"/events/"+url.PathEscape(eventID), nil, &raw); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, eventID, err)
	}

	var head eventDetailResponse
	if err := ffjson.Unmarshal(raw, &head); err != nil {
		return nil, &remote.MalformedResponseError{Operation: op, Err: err}
	}
	if head.ID == "" {
		return nil, remote.Missing(op, "id")
	}

	return &models.EventDetail{
		ID:          head.ID,
		Name:        head.Name,
		Description: head.Description,
		Document:    raw,
	}, nil
}

// ListProperties implements Client. Pages are requested in ascending name order
// until the accumulated count reaches the reported total or a page adds nothing new.
func (c *HTTPClient) ListProperties(ctx context.Context) ([]models.Property, error) {
	const op = "list properties"

	var (
		properties []models.Property
		seen       = make(map[string]struct{})
	)

	for page := 1; page <= c.maxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("orderBy", c.orderBy)

		var resp propertiesPage
		if err := c.api.Get(ctx, "catalog/properties", query, &resp); err != nil {
			return nil, fmt.Errorf("%s page %d: %w", op, page, err)
		}
		if resp.Data == nil {
			return nil, remote.Missing(op, "data")
		}
		if resp.Total == nil {
			return nil, remote.Missing(op, "total")
		}

		added := 0
		for i, item := range *resp.Data {
			if item.ID == "" {
				return nil, remote.Missing(op, fmt.Sprintf("data[%d].id", i))
			}
			if item.Name == "" {
				return nil, remote.Missing(op, fmt.Sprintf("data[%d].name", i))
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			properties = append(properties, models.Property{
				ID:          item.ID,
				Name:        item.Name,
				Description: item.Description,
				Type:        models.NormalizePropertyType(item.Type),
			})
			added++
		}

		c.logger.WithFields(logrus.Fields{
			"page":        page,
			"added":       added,
			"accumulated": len(properties),
			"total":       *resp.Total,
		}).Debug("Fetched properties page")

		if len(properties) >= *resp.Total {
			return properties, nil
		}
		if added == 0 {
			c.logger.WithFields(logrus.Fields{
				"page":        page,
				"accumulated": len(properties),
				"total":       *resp.Total,
			}).Warn("Properties page added no new items before reaching total, stopping")
			return properties, nil
		}
	}

	c.logger.WithFields(logrus.Fields{
		"max_pages":   c.maxPages,
		"accumulated": len(properties),
	}).Warn("Reached page limit while listing properties")
	return properties, nil
}
