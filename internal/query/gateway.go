package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/database"
	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/pkg/logger"
	"github.com/nateliu28/querydeck/pkg/metrics"
)

// ConnectionSource loads connection definitions for the gateway. Implemented
// by the connection service.
type ConnectionSource interface {
	GetConnection(ctx context.Context, connectionID string) (*models.DBConnection, error)
}

// Result is the outcome of one statement against a target database.
type Result struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	Duration     time.Duration    `json:"duration"`
}

// Gateway executes validated statements against target databases, keeping
// one lazily-opened pooled handle per connection. Handles stay open across
// requests; Invalidate drops a handle after its connection definition
// changes.
type Gateway struct {
	connections ConnectionSource
	open        func(database.Config) (*gorm.DB, error)

	mu      sync.Mutex
	handles map[string]*gorm.DB
}

// NewGateway constructs a gateway over the connection source.
func NewGateway(connections ConnectionSource) (*Gateway, error) {
	if connections == nil {
		return nil, fmt.Errorf("query gateway: connection source is required")
	}
	return &Gateway{
		connections: connections,
		open:        database.Open,
		handles:     make(map[string]*gorm.DB),
	}, nil
}

// Query runs a row-returning statement and scans every row into a column
// name keyed map.
func (g *Gateway) Query(ctx context.Context, connectionID string, stmt Statement) (*Result, error) {
	handle, err := g.handle(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := handle.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("query gateway: query connection %s: %w", connectionID, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query gateway: read columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: make([]map[string]any, 0)}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("query gateway: scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query gateway: iterate rows: %w", err)
	}

	result.RowsAffected = int64(len(result.Rows))
	result.Duration = time.Since(start)
	metrics.QueryLatency.WithLabelValues("query").Observe(result.Duration.Seconds())
	return result, nil
}

// Exec runs a mutating statement and reports the affected row count.
func (g *Gateway) Exec(ctx context.Context, connectionID string, stmt Statement) (*Result, error) {
	handle, err := g.handle(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx := handle.WithContext(ctx).Exec(stmt.SQL, stmt.Args...)
	if tx.Error != nil {
		return nil, fmt.Errorf("query gateway: exec connection %s: %w", connectionID, tx.Error)
	}

	result := &Result{RowsAffected: tx.RowsAffected, Duration: time.Since(start)}
	metrics.QueryLatency.WithLabelValues("exec").Observe(result.Duration.Seconds())
	return result, nil
}

// Invalidate closes and forgets the handle for a connection. Called after a
// connection definition is updated or removed.
func (g *Gateway) Invalidate(connectionID string) {
	g.mu.Lock()
	handle, ok := g.handles[connectionID]
	delete(g.handles, connectionID)
	g.mu.Unlock()

	if ok {
		closeHandle(connectionID, handle)
	}
}

// Close releases every open handle.
func (g *Gateway) Close() error {
	g.mu.Lock()
	handles := g.handles
	g.handles = make(map[string]*gorm.DB)
	g.mu.Unlock()

	var errs error
	for connectionID, handle := range handles {
		sqlDB, err := handle.DB()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", connectionID, err))
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", connectionID, err))
		}
	}
	return errs
}

func (g *Gateway) handle(ctx context.Context, connectionID string) (*gorm.DB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if handle, ok := g.handles[connectionID]; ok {
		return handle, nil
	}

	conn, err := g.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("query gateway: load connection %s: %w", connectionID, err)
	}
	if !conn.IsActive {
		return nil, fmt.Errorf("query gateway: connection %s is inactive", connectionID)
	}

	handle, err := g.open(database.Config{Driver: conn.Driver, DSN: conn.DSN})
	if err != nil {
		return nil, fmt.Errorf("query gateway: open connection %s: %w", connectionID, err)
	}

	g.handles[connectionID] = handle
	return handle, nil
}

func closeHandle(connectionID string, handle *gorm.DB) {
	sqlDB, err := handle.DB()
	if err != nil {
		logger.Warn("failed to access pooled handle during invalidation",
			zap.String("connection_id", connectionID), zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("failed to close pooled handle",
			zap.String("connection_id", connectionID), zap.Error(err))
	}
}

// normalizeValue converts driver byte slices to strings so JSON responses
// carry readable values instead of base64 blobs.
func normalizeValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
