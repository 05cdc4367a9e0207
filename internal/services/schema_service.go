package services

import (
	"context"
	"fmt"

	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/schema"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/logger"
	"go.uber.org/zap"
)

// CrawlFunc introspects a live target and returns its table metadata.
type CrawlFunc func(conn *models.DBConnection) ([]schema.TableMetadata, error)

// SchemaService refreshes cached schema snapshots from live targets.
type SchemaService struct {
	connections *ConnectionService
	snapshots   *schema.SnapshotStore
	crawl       CrawlFunc
	audit       *AuditService
}

// NewSchemaService wires the snapshot refresher. A nil crawl falls back to the
// default crawler.
func NewSchemaService(connections *ConnectionService, snapshots *schema.SnapshotStore, crawl CrawlFunc, audit *AuditService) (*SchemaService, error) {
	if connections == nil {
		return nil, fmt.Errorf("schema service: connection service is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("schema service: snapshot store is required")
	}
	if crawl == nil {
		crawl = schema.Crawl
	}
	return &SchemaService{connections: connections, snapshots: snapshots, crawl: crawl, audit: audit}, nil
}

// Refresh re-crawls the target behind connectionID and replaces its snapshot.
// It returns the fresh table metadata.
func (s *SchemaService) Refresh(ctx context.Context, actorID, connectionID string) ([]schema.TableMetadata, error) {
	ctx = ensureContext(ctx)

	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, errors.NewBadRequest("connection is inactive")
	}

	tables, err := s.crawl(conn)
	if err != nil {
		logger.Warn("schema refresh failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return nil, errors.NewBadRequest("could not introspect target database")
	}

	if err := s.snapshots.ReplaceSnapshot(ctx, connectionID, tables); err != nil {
		return nil, fmt.Errorf("schema service: store snapshot: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actorID,
		Action:   ActionConnectionChange,
		Resource: resourcePath(connectionID, "", "", ""),
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"operation": "schema_refresh",
			"tables":    len(tables),
		},
	})
	return tables, nil
}
