// Package history is the append-only durable sink: state transitions,
// session accounting, metrics, device events, and show annotations.
// Writers treat it as fire-and-forget; a sink failure never fails the
// operation that produced the record.
package history

import (
	"context"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
)

// Recorder is the sink surface. Query methods back the analytics REST
// endpoints; ResolveVerbosity drives how much of each state transition
// gets persisted.
type Recorder interface {
	RecordStateChange(ctx context.Context, rec model.StateHistory) error
	RecordSessionStart(ctx context.Context, rec model.SessionHistory) error
	RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time, status, errorMessage string) error
	RecordMetric(ctx context.Context, m model.Metric) error
	RecordMetrics(ctx context.Context, ms []model.Metric) error
	RecordEvent(ctx context.Context, ev model.DeviceEvent) error

	SessionHistory(ctx context.Context, streamID string, limit int) ([]*model.SessionHistory, error)

	CreateAnnotation(ctx context.Context, a *model.Annotation) error
	ListAnnotations(ctx context.Context, category string, from, to *time.Time, limit int) ([]*model.Annotation, error)
	UpdateAnnotation(ctx context.Context, a *model.Annotation) error
	DeleteAnnotation(ctx context.Context, id string) error

	Summary(ctx context.Context, from, to time.Time) (*model.ShowSummary, error)
	Export(ctx context.Context, dataset string, from, to time.Time) ([]map[string]any, error)

	ListCollectionConfigs(ctx context.Context) ([]*model.CollectionConfig, error)
	PutCollectionConfig(ctx context.Context, cc *model.CollectionConfig) error
	DeleteCollectionConfig(ctx context.Context, id string) error

	// ResolveVerbosity looks up collection config in order: device,
	// entity type, global. Default is standard.
	ResolveVerbosity(ctx context.Context, entityType, deviceID string) (string, error)

	Close() error
}

// Export dataset names.
const (
	ExportMetrics     = "metrics"
	ExportEvents      = "events"
	ExportStates      = "states"
	ExportAnnotations = "annotations"
)
