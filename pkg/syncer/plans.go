package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/cohenjo/plansync/pkg/estuary"
	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/cohenjo/plansync/pkg/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Service) syncTrackingPlans(ctx context.Context, runID string) (report *PlansReport, err error) {
	ctx, span := s.startSpan(ctx, "sync.plans", attribute.String("run_id", runID))
	defer func() { endSpan(span, err) }()

	report = &PlansReport{RunID: runID, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	propertiesCollectionID, ok := s.cache.Lookup(identity.NamespaceCollections, estuary.PropertiesCollectionTitle)
	if !ok {
		return report, &PrerequisiteMissingError{Collection: estuary.PropertiesCollectionTitle}
	}

	plans, err := s.source.ListTrackingPlans(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list tracking plans: %w", err)
	}

	logger := s.logger.WithFields(logrus.Fields{"run_id": runID, "phase": PhasePlans})
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := s.syncPlan(ctx, logger.WithField("plan", plan.Name), plan, propertiesCollectionID)
		report.Plans = append(report.Plans, result)
		if err != nil {
			return report, err
		}
	}

	logger.WithFields(logrus.Fields{
		"plans":  len(report.Plans),
		"events": report.Counts(),
	}).Info("Synced tracking plans")
	return report, nil
}

func (s *Service) syncPlan(ctx context.Context, logger logrus.FieldLogger, plan models.TrackingPlan, propertiesCollectionID string) (result PlanResult, err error) {
	ctx, span := s.startSpan(ctx, "sync.plan", attribute.String("plan", plan.Name))
	defer func() { endSpan(span, err) }()

	result = PlanResult{Plan: plan.Name, PlanID: plan.ID}

	if plan.Name == estuary.PropertiesCollectionTitle {
		logger.Warn("Skipping tracking plan named like the properties collection")
		result.Outcome = PlanSkippedReservedName
		return result, nil
	}

	if previous, ok := s.cache.Lookup(identity.NamespaceCollections, plan.Name); ok {
		result.PreviousCollectionID = previous
		if err := s.workspace.ArchiveCollection(ctx, previous); err != nil {
			if cancelled(ctx, err) {
				return result, err
			}
			s.telemetry.RecordArchiveFailure(ctx, "plan_collection")
			logger.WithError(err).WithField("collection_id", previous).Warn("Failed to archive plan collection, skipping plan")
			result.Outcome = PlanSkippedArchiveFailed
			result.Error = err.Error()
			return result, nil
		}
		if err := s.cache.MarkArchived(ctx, identity.NamespaceCollections, plan.Name); err != nil {
			return result, err
		}
	}

	collectionID, err := s.workspace.CreatePlanCollection(ctx, plan.Name, propertiesCollectionID)
	if err != nil {
		return result, fmt.Errorf("failed to create collection for plan %q: %w", plan.Name, err)
	}
	if err := s.cache.Put(ctx, identity.NamespaceCollections, plan.Name, collectionID); err != nil {
		return result, err
	}
	s.telemetry.RecordCreated(ctx, "plan_collection")
	result.CollectionID = collectionID

	planEvents, err := s.source.ListEvents(ctx, plan.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list events for plan %q: %w", plan.Name, err)
	}

	for _, event := range planEvents {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		eventResult, err := s.syncEvent(ctx, logger, plan, collectionID, event)
		if err != nil {
			return result, err
		}
		result.Events = append(result.Events, eventResult)
	}

	result.Outcome = PlanSynced
	logger.WithFields(logrus.Fields{
		"collection_id": collectionID,
		"events":        len(result.Events),
	}).Info("Synced tracking plan")
	return result, nil
}

func (s *Service) syncEvent(ctx context.Context, logger logrus.FieldLogger, plan models.TrackingPlan, collectionID string, event models.Event) (EventResult, error) {
	result := EventResult{Event: event.Name, EventID: event.ID}
	logger = logger.WithField("event", event.Name)

	detail, err := s.source.GetEventDetail(ctx, plan.ID, event.ID)
	if err != nil {
		return result, fmt.Errorf("failed to get detail for event %q: %w", event.Name, err)
	}
	shaped, err := s.shaper.ShapeEvent(detail.Document)
	if err != nil {
		return result, fmt.Errorf("failed to shape detail for event %q: %w", event.Name, err)
	}

	names := shaped.PropertyNames()
	if len(names) == 0 {
		logger.Info("No properties found for event, skipping")
		s.telemetry.RecordEventSkipped(ctx, string(EventSkippedNoProperties))
		result.Outcome = EventSkippedNoProperties
		return result, nil
	}

	referenced := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := s.cache.Lookup(identity.NamespaceProperties, name); ok {
			referenced = append(referenced, id)
		} else {
			result.Unresolved = append(result.Unresolved, name)
		}
	}
	if len(referenced) == 0 {
		logger.WithField("unresolved", result.Unresolved).Info("No event properties resolved, skipping")
		s.telemetry.RecordEventSkipped(ctx, string(EventSkippedUnresolvedProperties))
		result.Outcome = EventSkippedUnresolvedProperties
		return result, nil
	}
	if len(result.Unresolved) > 0 {
		logger.WithField("unresolved", result.Unresolved).Debug("Dropping unresolved property references")
	}

	name := firstNonEmpty(event.Name, detail.Name, shaped.Name)
	description := firstNonEmpty(event.Description, detail.Description, shaped.Description)

	recordID, err := s.workspace.AddEventRecord(ctx, collectionID, name, description, referenced)
	if err != nil {
		return result, fmt.Errorf("failed to create event record %q: %w", name, err)
	}
	s.telemetry.RecordCreated(ctx, "event_record")

	result.Outcome = EventCreated
	result.RecordID = recordID
	result.ReferencedIDs = referenced
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
