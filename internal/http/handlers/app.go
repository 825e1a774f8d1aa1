package handlers

import (
	"encoding/json"
	"net/http"

	"genproxy/internal/engine"
	"genproxy/internal/infra"
	"genproxy/internal/storage"
)

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Engine *engine.Engine
	Assets *storage.FileStore
	Logger infra.Logger
}

// NewApp creates the handler set.
func NewApp(eng *engine.Engine, assets *storage.FileStore, logger infra.Logger) *App {
	return &App{Engine: eng, Assets: assets, Logger: logger}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Code: code, Message: message})
}
