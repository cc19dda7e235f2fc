package events

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/sirupsen/logrus"
)

// ElasticConfig configures the Elasticsearch run history sink.
type ElasticConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses" mapstructure:"addresses" validate:"required_if=Enabled true"`
	Index     string   `json:"index" yaml:"index" mapstructure:"index"`
}

// DefaultElasticIndex holds one document per run.
const DefaultElasticIndex = "plansync-runs"

// ElasticPublisher indexes every run event as a document keyed by run id.
type ElasticPublisher struct {
	index  string
	es     *elasticsearch.Client
	logger logrus.FieldLogger
}

func NewElasticPublisher(cfg ElasticConfig, logger logrus.FieldLogger) (*ElasticPublisher, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}
	if cfg.Index == "" {
		cfg.Index = DefaultElasticIndex
	}
	if logger == nil {
		logger = logrus.New()
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticPublisher{index: cfg.Index, es: es, logger: logger}, nil
}

func (p *ElasticPublisher) Publish(ctx context.Context, event *RunEvent) error {
	data, err := ffjson.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      p.index,
		DocumentID: event.RunID,
		Body:       bytes.NewReader(data),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, p.es)
	if err != nil {
		return fmt.Errorf("failed to index run event %s: %w", event.RunID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index run event %s: %s", event.RunID, res.Status())
	}
	p.logger.WithFields(logrus.Fields{
		"index":  p.index,
		"run_id": event.RunID,
		"status": res.Status(),
	}).Debug("Run event indexed")
	return nil
}

func (p *ElasticPublisher) Close() error { return nil }
