package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// DeviceAPI exposes the device registry over HTTP. Callers are authenticated
// by the surrounding JWKS middleware; the user identity arrives in context.
type DeviceAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.TokenStore, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Logger: logger,
	}
}

type tokenRequest struct {
	Token string `json:"token"`
}

// --- DOOR A: APNs ---

func (api *DeviceAPI) RegisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, api.Store.RegisterAPNS)
}

func (api *DeviceAPI) UnregisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, api.Store.UnregisterAPNS)
}

// --- DOOR B: HMS ---

func (api *DeviceAPI) RegisterHMS(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, api.Store.RegisterHMS)
}

func (api *DeviceAPI) UnregisterHMS(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, api.Store.UnregisterHMS)
}

// APNs and HMS registrations are both a bare token string; only the storage
// call differs.
func (api *DeviceAPI) registerToken(w http.ResponseWriter, r *http.Request, register func(ctx context.Context, user urn.URN, token string) error) {
	ctx := r.Context()
	user, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := register(ctx, user, req.Token); err != nil {
		api.Logger.Error("failed to register device token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *DeviceAPI) unregisterToken(w http.ResponseWriter, r *http.Request, unregister func(ctx context.Context, user urn.URN, token string) error) {
	ctx := r.Context()
	user, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := unregister(ctx, user, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister.
		api.Logger.Warn("failed to unregister device token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- DOOR C: Web (VAPID) ---

func (api *DeviceAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var sub dispatch.WebSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		api.Logger.Warn("RegisterWeb: validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(ctx, user, sub); err != nil {
		api.Logger.Error("failed to register web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: subscription registered", "user", user, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

type unregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *DeviceAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req unregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, user, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: subscription unregistered", "user", user, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (api *DeviceAPI) callerURN(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return zero, false
	}
	user, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid identity")
		return zero, false
	}
	return user, true
}
