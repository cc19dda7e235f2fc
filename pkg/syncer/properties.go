package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Service) syncProperties(ctx context.Context, runID string, opts PropertySyncOptions) (report *PropertiesReport, err error) {
	ctx, span := s.startSpan(ctx, "sync.properties",
		attribute.String("run_id", runID),
		attribute.Bool("resume", opts.Resume),
	)
	defer func() { endSpan(span, err) }()

	report = &PropertiesReport{RunID: runID, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	logger := s.logger.WithFields(logrus.Fields{"run_id": runID, "phase": PhaseProperties})

	collectionID, err := s.preparePropertiesCollection(ctx, logger, report, opts.Resume)
	if err != nil {
		return report, err
	}

	properties, err := s.source.ListProperties(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list properties: %w", err)
	}
	report.Fetched = len(properties)

	seen := make(map[string]struct{}, len(properties))
	for _, property := range properties {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if property.Name == "" {
			logger.WithField("property_id", property.ID).Warn("Skipping property without a name")
			report.Skipped++
			continue
		}
		if _, dup := seen[property.Name]; dup {
			logger.WithField("property", property.Name).Debug("Skipping duplicate property name")
			report.Skipped++
			continue
		}
		seen[property.Name] = struct{}{}

		if report.Resumed {
			if _, ok := s.cache.Lookup(identity.NamespaceProperties, property.Name); ok {
				report.Skipped++
				continue
			}
		}

		recordID, err := s.workspace.AddPropertyRecord(ctx, collectionID, property.Name, property.Type, property.Description)
		if err != nil {
			return report, fmt.Errorf("failed to create property record %q: %w", property.Name, err)
		}
		if err := s.cache.Put(ctx, identity.NamespaceProperties, property.Name, recordID); err != nil {
			return report, err
		}
		s.telemetry.RecordCreated(ctx, "property_record")
		report.Created++
	}

	logger.WithFields(logrus.Fields{
		"collection_id": collectionID,
		"fetched":       report.Fetched,
		"created":       report.Created,
		"skipped":       report.Skipped,
	}).Info("Synced event properties")
	return report, nil
}

// preparePropertiesCollection returns the collection property records go into:
// the reused live one on resume, otherwise a fresh one replacing the cached one.
func (s *Service) preparePropertiesCollection(ctx context.Context, logger logrus.FieldLogger, report *PropertiesReport, resume bool) (string, error) {
	title := estuary.PropertiesCollectionTitle
	previous, live := s.cache.Lookup(identity.NamespaceCollections, title)

	if resume && live {
		collection, err := s.workspace.GetCollection(ctx, previous)
		switch {
		case err == nil && !collection.Archived:
			logger.WithField("collection_id", previous).Info("Resuming into live properties collection")
			report.Resumed = true
			report.CollectionID = previous
			return previous, nil
		case err == nil:
			logger.WithField("collection_id", previous).Info("Cached properties collection is archived, starting over")
			if err := s.cache.MarkArchived(ctx, identity.NamespaceCollections, title); err != nil {
				return "", err
			}
			report.PreviousCollectionID = previous
			live = false
		case cancelled(ctx, err):
			return "", err
		default:
			logger.WithError(err).WithField("collection_id", previous).Warn("Cannot verify cached properties collection, starting over")
		}
	}

	if live {
		report.PreviousCollectionID = previous
		if err := s.workspace.ArchiveCollection(ctx, previous); err != nil {
			if cancelled(ctx, err) {
				return "", err
			}
			s.telemetry.RecordArchiveFailure(ctx, "properties_collection")
			report.ArchiveError = err.Error()
			if s.options.AbortOnPropertyArchiveFailure {
				return "", fmt.Errorf("failed to archive properties collection %s: %w", previous, err)
			}
			logger.WithError(err).WithField("collection_id", previous).Warn("Failed to archive properties collection, continuing")
		} else {
			if err := s.cache.MarkArchived(ctx, identity.NamespaceCollections, title); err != nil {
				return "", err
			}
			report.Archived = true
		}
	}

	collectionID, err := s.workspace.CreatePropertiesCollection(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create properties collection: %w", err)
	}
	if err := s.cache.Put(ctx, identity.NamespaceCollections, title, collectionID); err != nil {
		return "", err
	}

	// Record ids belong to the replaced collection. Reset only once the new id is stored.
	if err := s.cache.Reset(ctx, identity.NamespaceProperties); err != nil {
		return "", err
	}
	s.telemetry.RecordCreated(ctx, "properties_collection")
	report.CollectionID = collectionID

	logger.WithFields(logrus.Fields{
		"collection_id":          collectionID,
		"previous_collection_id": report.PreviousCollectionID,
	}).Info("Created properties collection")
	return collectionID, nil
}
