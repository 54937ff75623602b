// Package handlers contains the reusable parts of the HTTP interface: gin
// middleware, admin authentication, the response envelope and health checks.
//
// # Authentication
//
// Admin routes require an HS256 bearer token whose subject is the admin ID
// and whose role claim is "admin". Machine callers such as the ledger service
// may instead send the X-Service-Key header, checked against a bcrypt hash:
//
//	auth := handlers.NewAuthenticator(cfg.JWTSecret, cfg.ServiceKeyHash)
//	admin := router.Group("/api/v1/admin", auth.RequireAdmin())
//
// # Health Checks
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(db))
//	checker.AddCheck("roster", handlers.NewPingCheck(roster))
package handlers
