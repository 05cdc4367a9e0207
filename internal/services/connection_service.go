package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/models"
)

var supportedDrivers = map[string]struct{}{
	"sqlite":     {},
	"mysql":      {},
	"postgres":   {},
	"postgresql": {},
}

// HandleInvalidator drops pooled gateway handles after a connection changes.
type HandleInvalidator interface {
	Invalidate(connectionID string)
}

// DecisionFlusher clears memoized permission decisions. Connection teardown
// affects every user, so the whole cache goes rather than per-user slices.
type DecisionFlusher interface {
	Clear()
}

// ConnectionInput carries the writable fields of a connection definition.
type ConnectionInput struct {
	Name          string `json:"name" validate:"required,min=1,max=128"`
	Description   string `json:"description"`
	Driver        string `json:"driver" validate:"required"`
	DSN           string `json:"dsn" validate:"required"`
	DefaultSchema string `json:"default_schema"`
}

// ConnectionService manages target database definitions.
type ConnectionService struct {
	db      *gorm.DB
	audit   *AuditService
	gateway HandleInvalidator
	cache   DecisionFlusher
}

// NewConnectionService constructs a ConnectionService. Gateway and cache are
// optional; without them stale handles and decisions age out on their own.
func NewConnectionService(db *gorm.DB, audit *AuditService, gateway HandleInvalidator, cache DecisionFlusher) (*ConnectionService, error) {
	if db == nil {
		return nil, errors.New("connection service: db is required")
	}
	return &ConnectionService{db: db, audit: audit, gateway: gateway, cache: cache}, nil
}

// SetGateway attaches the pooled-handle invalidator after construction. The
// gateway itself needs the service as its connection source, so wiring runs
// in two steps.
func (s *ConnectionService) SetGateway(gateway HandleInvalidator) {
	s.gateway = gateway
}

// Create registers a target database.
func (s *ConnectionService) Create(ctx context.Context, input ConnectionInput, ownerUserID string) (*models.DBConnection, error) {
	ctx = ensureContext(ctx)

	driver := strings.ToLower(strings.TrimSpace(input.Driver))
	if _, ok := supportedDrivers[driver]; !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("Unsupported driver %q", input.Driver))
	}

	conn := models.DBConnection{
		Name:          strings.TrimSpace(input.Name),
		Description:   strings.TrimSpace(input.Description),
		Driver:        driver,
		DSN:           strings.TrimSpace(input.DSN),
		DefaultSchema: strings.TrimSpace(input.DefaultSchema),
		OwnerUserID:   ownerUserID,
		IsActive:      true,
	}

	if err := s.db.WithContext(ctx).Create(&conn).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("A connection with that name already exists")
		}
		return nil, fmt.Errorf("connection service: create connection: %w", err)
	}

	s.auditChange(ctx, ownerUserID, conn.ID, "created")
	return &conn, nil
}

// GetConnection returns a connection by id. Satisfies the gateway's
// connection source.
func (s *ConnectionService) GetConnection(ctx context.Context, connectionID string) (*models.DBConnection, error) {
	ctx = ensureContext(ctx)

	var conn models.DBConnection
	err := s.db.WithContext(ctx).First(&conn, "id = ?", connectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("connection service: get connection: %w", err)
	}
	return &conn, nil
}

// List returns every connection definition ordered by name.
func (s *ConnectionService) List(ctx context.Context) ([]models.DBConnection, error) {
	ctx = ensureContext(ctx)

	var conns []models.DBConnection
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("connection service: list connections: %w", err)
	}
	return conns, nil
}

// Update rewrites a connection definition and drops its pooled handle so the
// next statement uses the new settings.
func (s *ConnectionService) Update(ctx context.Context, connectionID string, input ConnectionInput, updatedByID string) (*models.DBConnection, error) {
	ctx = ensureContext(ctx)

	conn, err := s.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(strings.TrimSpace(input.Driver))
	if _, ok := supportedDrivers[driver]; !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("Unsupported driver %q", input.Driver))
	}

	conn.Name = strings.TrimSpace(input.Name)
	conn.Description = strings.TrimSpace(input.Description)
	conn.Driver = driver
	conn.DSN = strings.TrimSpace(input.DSN)
	conn.DefaultSchema = strings.TrimSpace(input.DefaultSchema)

	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("A connection with that name already exists")
		}
		return nil, fmt.Errorf("connection service: update connection: %w", err)
	}

	if s.gateway != nil {
		s.gateway.Invalidate(connectionID)
	}
	s.auditChange(ctx, updatedByID, connectionID, "updated")
	return conn, nil
}

// Delete removes a connection. The model hook purges grants, templates, and
// schema snapshots; the decision cache is flushed because every user's
// memoized decisions for the connection are now meaningless.
func (s *ConnectionService) Delete(ctx context.Context, connectionID, deletedByID string) error {
	ctx = ensureContext(ctx)

	conn, err := s.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(conn).Error; err != nil {
		return fmt.Errorf("connection service: delete connection: %w", err)
	}

	if s.gateway != nil {
		s.gateway.Invalidate(connectionID)
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	s.auditChange(ctx, deletedByID, connectionID, "deleted")
	return nil
}

// TouchLastUsed records gateway activity against the connection.
func (s *ConnectionService) TouchLastUsed(ctx context.Context, connectionID string) error {
	ctx = ensureContext(ctx)

	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.DBConnection{}).
		Where("id = ?", connectionID).
		Update("last_used_at", &now).Error
}

func (s *ConnectionService) auditChange(ctx context.Context, actorID, connectionID, verb string) {
	actor := actorID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionConnectionChange,
		Resource: connectionID,
		Result:   ResultSuccess,
		Metadata: map[string]any{"change": verb},
	})
}
