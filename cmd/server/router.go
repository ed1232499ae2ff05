package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskgate/internal/api"
	apiMiddleware "github.com/phrazzld/taskgate/internal/api/middleware"
)

// setupRouter creates the router with the standard middleware stack and the task endpoints
func (app *application) setupRouter() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.logger))

	taskHandler, err := api.NewTaskHandler(
		app.limiter,
		app.gateway,
		app.broker,
		api.TaskHandlerConfig{},
		app.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task handler: %w", err)
	}
	taskHandler.RegisterRoutes(r)

	return r, nil
}
