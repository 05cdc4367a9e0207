package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/app"
	iauth "github.com/nateliu28/querydeck/internal/auth"
	"github.com/nateliu28/querydeck/internal/handlers"
	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/internal/query"
	"github.com/nateliu28/querydeck/internal/schema"
	"github.com/nateliu28/querydeck/internal/services"
)

// Deps bundles the long-lived components the router hands back to the server
// for lifecycle management.
type Deps struct {
	Gateway *query.Gateway
	Cache   *permissions.DecisionCache
	Grants  *permissions.GrantStore
	Audit   *services.AuditService
}

// NewRouter builds the Gin engine, wires the permission stack, and registers
// all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) (*gin.Engine, *Deps, error) {
	if db == nil {
		return nil, nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("config must be provided")
	}

	// Permission stack: store → resolver → cache, with denial auditing.
	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return nil, nil, err
	}

	grants, err := permissions.NewGrantStore(db)
	if err != nil {
		return nil, nil, err
	}

	resolver, err := permissions.NewResolver(grants, services.NewDenialAuditor(auditSvc))
	if err != nil {
		return nil, nil, err
	}

	cache := permissions.NewDecisionCache(permissions.CacheConfig{
		TTL:        cfg.Permissions.CacheTTL,
		MaxEntries: cfg.Permissions.CacheMaxEntries,
	})
	cached, err := permissions.NewCachedResolver(resolver, cache)
	if err != nil {
		return nil, nil, err
	}

	projector, err := permissions.NewProjector(cached)
	if err != nil {
		return nil, nil, err
	}

	snapshots, err := schema.NewSnapshotStore(db)
	if err != nil {
		return nil, nil, err
	}

	filter, err := query.NewFilter(cached, grants)
	if err != nil {
		return nil, nil, err
	}

	// Services.
	userSvc, err := services.NewUserService(db, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	connSvc, err := services.NewConnectionService(db, auditSvc, nil, cache)
	if err != nil {
		return nil, nil, err
	}

	gateway, err := query.NewGateway(connSvc)
	if err != nil {
		return nil, nil, err
	}
	connSvc.SetGateway(gateway)

	schemaSvc, err := services.NewSchemaService(connSvc, snapshots, nil, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	grantSvc, err := services.NewGrantService(grants, cache, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	engine, err := permissions.NewBulkEngine(db, userSvc, snapshots, cache)
	if err != nil {
		return nil, nil, err
	}

	bulkSvc, err := services.NewBulkService(engine, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	templateSvc, err := services.NewTemplateService(db, engine, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	dataSvc, err := services.NewDataService(connSvc, snapshots, projector, filter, gateway, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	authHandler := handlers.NewAuthHandler(userSvc, jwt)

	// Public auth routes
	r.POST("/api/auth/login", authHandler.Login)

	// Protected routes
	requireAuth := middleware.Auth(jwt)

	apiGroup := r.Group("/api")
	apiGroup.Use(requireAuth)

	apiGroup.GET("/auth/me", authHandler.Me)

	// Users (administration is root-only; grant listing is shared with grants)
	userHandler := handlers.NewUserHandler(userSvc)
	grantHandler := handlers.NewGrantHandler(grantSvc, bulkSvc)

	users := apiGroup.Group("/users")
	{
		users.GET("", middleware.RequireRoot(), userHandler.List)
		users.GET("/:userID", middleware.RequireRoot(), userHandler.Get)
		users.POST("", middleware.RequireRoot(), userHandler.Create)
		users.POST("/:userID/approve", middleware.RequireRoot(), userHandler.Approve)
		users.GET("/:userID/grants", middleware.RequireRoot(), grantHandler.ListForUser)
	}

	// Grants
	grantsGroup := apiGroup.Group("/grants")
	grantsGroup.Use(middleware.RequireRoot())
	{
		grantsGroup.POST("", grantHandler.Create)
		grantsGroup.DELETE("/:grantID", grantHandler.Revoke)
		grantsGroup.POST("/bulk", grantHandler.BulkApply)
	}

	// Templates
	templateHandler := handlers.NewTemplateHandler(templateSvc)
	templates := apiGroup.Group("/templates")
	templates.Use(middleware.RequireRoot())
	{
		templates.POST("", templateHandler.Create)
		templates.GET("", templateHandler.List)
		templates.GET("/:templateID", templateHandler.Get)
		templates.POST("/:templateID/deactivate", templateHandler.Deactivate)
		templates.DELETE("/:templateID", templateHandler.Delete)
		templates.POST("/:templateID/apply", templateHandler.Apply)
	}

	// Connections
	connHandler := handlers.NewConnectionHandler(connSvc, schemaSvc)
	dataHandler := handlers.NewDataHandler(dataSvc)

	conns := apiGroup.Group("/connections")
	{
		conns.POST("", middleware.RequireRoot(), connHandler.Create)
		conns.GET("", connHandler.List)
		conns.GET("/:connectionID", connHandler.Get)
		conns.PUT("/:connectionID", middleware.RequireRoot(), connHandler.Update)
		conns.DELETE("/:connectionID", middleware.RequireRoot(), connHandler.Delete)
		conns.POST("/:connectionID/schema/refresh", middleware.RequireRoot(), connHandler.RefreshSchema)

		// Browsing needs no table-level guard: projection and the builder
		// enforce per-column access themselves.
		conns.GET("/:connectionID/tables", dataHandler.ListTables)
		conns.GET("/:connectionID/schemas/:schemaName/tables/:tableName", dataHandler.GetTable)
		conns.POST("/:connectionID/schemas/:schemaName/tables/:tableName/rows/browse",
			middleware.RequireConnectionPermission(cached, permissions.TypeRead), dataHandler.BrowseRows)
		conns.POST("/:connectionID/schemas/:schemaName/tables/:tableName/rows",
			middleware.RequireConnectionPermission(cached, permissions.TypeWrite), dataHandler.InsertRow)
		conns.PUT("/:connectionID/schemas/:schemaName/tables/:tableName/rows",
			middleware.RequireConnectionPermission(cached, permissions.TypeWrite), dataHandler.UpdateRows)
		conns.DELETE("/:connectionID/schemas/:schemaName/tables/:tableName/rows",
			middleware.RequireConnectionPermission(cached, permissions.TypeDelete), dataHandler.DeleteRows)

		// Ad-hoc SQL is guarded by the statement filter inside the service.
		conns.POST("/:connectionID/sql", dataHandler.ExecuteSQL)
	}

	// Audit
	auditHandler := handlers.NewAuditHandler(auditSvc)
	apiGroup.GET("/audit", middleware.RequireRoot(), auditHandler.List)

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, &Deps{Gateway: gateway, Cache: cache, Grants: grants, Audit: auditSvc}, nil
}
