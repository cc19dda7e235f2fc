package estuary

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cohenjo/plansync/pkg/models"
	"github.com/cohenjo/plansync/pkg/remote"
	"github.com/sirupsen/logrus"
)

// DefaultAPIVersion is sent as Notion-Version when none is configured
const DefaultAPIVersion = "2022-06-28"

// Config configures the workspace client
type Config struct {
	// BaseURL of the workspace API
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// APIToken is the integration secret
	APIToken string `json:"api_token" yaml:"api_token" mapstructure:"api_token" validate:"required"`

	// ParentPageID is the page every collection is created under
	ParentPageID string `json:"parent_page_id" yaml:"parent_page_id" mapstructure:"parent_page_id" validate:"required"`

	// APIVersion is sent as the Notion-Version header
	APIVersion string `json:"api_version" yaml:"api_version" mapstructure:"api_version"`

	// Timeout bounds each request
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// NotionWorkspace implements Workspace over the Notion REST API
type NotionWorkspace struct {
	api          *remote.Client
	parentPageID string
	logger       *logrus.Logger
}

// NewNotionWorkspace creates a workspace client
func NewNotionWorkspace(config Config, logger *logrus.Logger) (*NotionWorkspace, error) {
	if config.APIToken == "" {
		return nil, fmt.Errorf("workspace API token is required")
	}
	if config.ParentPageID == "" {
		return nil, fmt.Errorf("parent page id is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.notion.com"
	}
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if logger == nil {
		logger = logrus.New()
	}

	api, err := remote.NewClient(remote.Config{
		BaseURL: config.BaseURL,
		Token:   config.APIToken,
		Timeout: config.Timeout,
		Headers: map[string]string{"Notion-Version": config.APIVersion},
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace client: %w", err)
	}

	return &NotionWorkspace{
		api:          api,
		parentPageID: config.ParentPageID,
		logger:       logger,
	}, nil
}

// CreatePropertiesCollection implements Workspace
func (w *NotionWorkspace) CreatePropertiesCollection(ctx context.Context) (string, error) {
	id, err := w.createDatabase(ctx, "create properties collection", createDatabaseRequest{
		Parent:     pageParent{PageID: w.parentPageID},
		Title:      textValue(PropertiesCollectionTitle),
		Properties: propertiesCollectionSchema(),
	})
	observe("create_properties_collection", err)
	return id, err
}

// CreatePlanCollection implements Workspace
func (w *NotionWorkspace) CreatePlanCollection(ctx context.Context, title, propertiesCollectionID string) (string, error) {
	if propertiesCollectionID == "" {
		return "", fmt.Errorf("create plan collection %q: properties collection id is required", title)
	}
	id, err := w.createDatabase(ctx, "create plan collection", createDatabaseRequest{
		Parent:     pageParent{Type: "page_id", PageID: w.parentPageID},
		Title:      []richText{{Type: "text", Text: textContent{Content: title}}},
		Properties: planCollectionSchema(propertiesCollectionID),
	})
	observe("create_plan_collection", err)
	return id, err
}

func (w *NotionWorkspace) createDatabase(ctx context.Context, op string, body createDatabaseRequest) (string, error) {
	var resp objectResponse
	if err := w.api.Post(ctx, "v1/databases", body, &resp); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if resp.ID == "" {
		return "", remote.Missing(op, "id")
	}

	w.logger.WithFields(logrus.Fields{
		"title": body.Title[0].Text.Content,
		"id":    resp.ID,
	}).Debug("Created collection")
	return resp.ID, nil
}

// ArchiveCollection implements Workspace
func (w *NotionWorkspace) ArchiveCollection(ctx context.Context, id string) error {
	err := w.api.Patch(ctx, "v1/databases/"+url.PathEscape(id), archiveRequest{Archived: true}, nil)
	observe("archive_collection", err)
	if err != nil {
		return fmt.Errorf("archive collection %s: %w", id, err)
	}
	w.logger.WithField("id", id).Debug("Archived collection")
	return nil
}

// AddPropertyRecord implements Workspace
func (w *NotionWorkspace) AddPropertyRecord(ctx context.Context, collectionID, name string, propType models.PropertyType, description string) (string, error) {
	id, err := w.createPage(ctx, "add property record", collectionID, propertyRecordFields(name, propType, description))
	observe("add_property_record", err)
	return id, err
}

// AddEventRecord implements Workspace
func (w *NotionWorkspace) AddEventRecord(ctx context.Context, collectionID, name, description string, referencedIDs []string) (string, error) {
	id, err := w.createPage(ctx, "add event record", collectionID, eventRecordFields(name, description, referencedIDs))
	observe("add_event_record", err)
	return id, err
}

func (w *NotionWorkspace) createPage(ctx context.Context, op, collectionID string, fields map[string]interface{}) (string, error) {
	var resp objectResponse
	body := createPageRequest{Parent: databaseParent{DatabaseID: collectionID}, Properties: fields}
	if err := w.api.Post(ctx, "v1/pages", body, &resp); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if resp.ID == "" {
		return "", remote.Missing(op, "id")
	}
	return resp.ID, nil
}

// GetCollection implements Workspace
func (w *NotionWorkspace) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	const op = "get collection"

	var resp databaseResponse
	err := w.api.Get(ctx, "v1/databases/"+url.PathEscape(id), nil, &resp)
	observe("get_collection", err)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	if resp.ID == "" {
		return nil, remote.Missing(op, "id")
	}

	var title strings.Builder
	for _, t := range resp.Title {
		title.WriteString(t.Text.Content)
	}

	collection := &models.Collection{
		ID:       resp.ID,
		Title:    title.String(),
		Archived: resp.Archived,
	}
	if ts, err := time.Parse(time.RFC3339, resp.CreatedTime); err == nil {
		collection.CreatedTime = &ts
	}
	if ts, err := time.Parse(time.RFC3339, resp.LastEditedTime); err == nil {
		collection.LastEditedTime = &ts
	}
	return collection, nil
}
