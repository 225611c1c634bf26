package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
)

// HoneypotPaths are decoy routes nobody legitimate requests.
var HoneypotPaths = []string{"/admin/debug", "/.env", "/wp-login.php"}

// Routes groups everything RegisterRoutes mounts.
type Routes struct {
	APIPrefix   string
	Gatekeeper  *service.Gatekeeper
	Permissions *service.PermissionTable
	Auth        *AuthHandler
	Assets      *AssetHandler
	Security    *SecurityHandler
	Audit       *AuditHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API on r.
func RegisterRoutes(r *gin.Engine, rt Routes) {
	prefix := "/" + strings.Trim(rt.APIPrefix, "/")
	if prefix == "/" {
		prefix = "/api/v1"
	}
	authn := middleware.Authenticate(rt.Gatekeeper)
	superAdmin := middleware.RequireRoles(models.RoleSuperAdmin)

	r.GET("/health", rt.Metrics.Health)
	r.GET("/ready", rt.Metrics.Ready)
	r.GET("/metrics", rt.Metrics.Prometheus)
	for _, path := range HoneypotPaths {
		r.Any(path, rt.Security.Honeypot)
	}

	api := r.Group(prefix)

	auth := api.Group("/auth")
	auth.POST("/register", rt.Auth.Register)
	auth.POST("/verify-phone", rt.Auth.VerifyPhone)
	auth.POST("/login", rt.Auth.Login)
	auth.POST("/refresh", rt.Auth.Refresh)
	auth.POST("/logout", authn, rt.Auth.Logout)
	auth.GET("/me", authn, rt.Auth.Me)
	auth.POST("/emergency-override", authn, rt.Auth.EmergencyOverride)

	for _, module := range models.Modules {
		group := api.Group("/" + string(module))
		read := middleware.Guard(rt.Gatekeeper, middleware.RouteSpec{Module: module, Action: models.ActionRead})
		group.GET("/assets", read, rt.Assets.List(module))
		group.GET("/assets/:id", read, rt.Assets.Get(module))
		group.POST("/assets/:id/commands", middleware.Guard(rt.Gatekeeper, middleware.RouteSpec{
			Module:     module,
			Action:     models.ActionWrite,
			AssetParam: "id",
		}), rt.Assets.Command(module))
	}
	api.POST("/traffic/signal-overrides", middleware.Guard(rt.Gatekeeper, middleware.RouteSpec{
		Module:         models.ModuleTraffic,
		Action:         models.ActionOverride,
		BodyAssetField: "signalId",
	}), rt.Assets.SignalOverride)
	api.POST("/emergency/broadcasts", middleware.Guard(rt.Gatekeeper, middleware.RouteSpec{
		Module:        models.ModuleEmergency,
		Action:        models.ActionWrite,
		BodyZoneField: "zone",
	}), rt.Assets.Broadcast)

	security := api.Group("/security", authn, middleware.RequireReadAccess(rt.Permissions))
	security.GET("/threat", rt.Security.ThreatState)
	security.GET("/events", superAdmin, rt.Security.RecentEvents)

	admin := api.Group("/admin", authn, superAdmin)
	admin.GET("/audit", rt.Audit.List)
	admin.POST("/audit/exports", rt.Audit.CreateExport)
	admin.GET("/audit/exports/:id", rt.Audit.ExportStatus)

	api.GET("/downloads/:token", authn, superAdmin, rt.Audit.Download)
}
