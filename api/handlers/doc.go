/*
Package handlers maps sidechain registry operations onto HTTP routes.

Handler.RegisterRoutes mounts the routes on a chi router. Mutating routes read
the caller stored by callerauth.Middleware and answer 401 when there is none;
registry errors are mapped to status codes by StatusFor:

	ErrUnauthorized                        403
	ErrInvalidIdentity, ErrInvalidArgument 400
	ErrAlreadyActive                       409

Example:

	reg, _ := registry.New(owner, logger)
	h := handlers.NewHandler(reg, logger, handlers.WithMetrics(metricsSrv))

	router := chi.NewRouter()
	router.Use(callerauth.Middleware(callerauth.NewSignatureResolver(), logger))
	h.RegisterRoutes(router)
*/
package handlers
