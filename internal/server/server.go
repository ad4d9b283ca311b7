package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"affiliates/internal/affiliate"
	"affiliates/internal/domain"
	"affiliates/internal/engine"
	"affiliates/internal/engine/auth"
	"affiliates/internal/render"
	"affiliates/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_settings"`
	Message string         `json:"message" example:"invalid webgains_affiliate settings: program_id is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"program_id\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the affiliates API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Engine.Registry == nil {
		return nil, errors.New("server: engine registry is required")
	}
	if cfg.Repo.DB == nil {
		return nil, errors.New("server: repo is required")
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Affiliates API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrders(group, cfg.Engine)
	registerAffiliates(group, cfg.Repo)
	registerKinds(group)
	registerDispatches(group, cfg.Repo)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve *affiliate.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{"kind": ve.Kind}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "invalid_settings", err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requirePermission(ctx context.Context, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	return auth.Require(principal.Permissions, perm)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Affiliates API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "track-order",
		Method:      http.MethodPost,
		Path:        "/orders/track",
		Summary:     "Build tracking pixels for a completed checkout",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body TrackRequest `json:"body"`
	}) (*struct {
		Body TrackResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermDispatchOrders); err != nil {
			return nil, handleError(err)
		}
		order, err := input.Body.Order.decode()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		pixels, err := e.Track(ctx, order)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrackResponse `json:"body"`
		}{Body: TrackResponse{
			Pixels: nonNilSlice(pixels),
			Markup: render.Markup(pixels),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-order",
		Method:      http.MethodPost,
		Path:        "/orders/cancel",
		Summary:     "Notify affiliate networks that an order was canceled or refunded",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CancelRequest `json:"body"`
	}) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermDispatchOrders); err != nil {
			return nil, handleError(err)
		}
		order, err := input.Body.Order.decode()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		outcomes, err := e.Cancel(ctx, order, domain.EventType(input.Body.EventType))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: CancelResponse{Outcomes: nonNilSlice(outcomes)}}, nil
	})
}

func registerAffiliates(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-affiliates",
		Method:      http.MethodGet,
		Path:        "/affiliates",
		Summary:     "List affiliate configs in dispatch order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body paginatedAffiliates `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		items, err := r.ListAffiliateConfigs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedAffiliates `json:"body"`
		}{Body: paginatedAffiliates{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-affiliate",
		Method:      http.MethodGet,
		Path:        "/affiliates/{affiliate_id}",
		Summary:     "Get affiliate config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AffiliateID string `path:"affiliate_id"`
	}) (*struct {
		Body domain.AffiliateConfig `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		cfg, err := r.GetAffiliateConfig(ctx, input.AffiliateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AffiliateConfig `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-affiliate",
		Method:      http.MethodPut,
		Path:        "/affiliates/{affiliate_id}",
		Summary:     "Create or replace affiliate config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		AffiliateID string              `path:"affiliate_id"`
		Body        PutAffiliateRequest `json:"body"`
	}) (*struct {
		Body domain.AffiliateConfig `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		cfg := domain.AffiliateConfig{
			ID:       strings.TrimSpace(input.AffiliateID),
			Label:    strings.TrimSpace(input.Body.Label),
			Kind:     input.Body.Kind,
			Weight:   input.Body.Weight,
			Settings: input.Body.Settings,
		}
		existing, err := r.GetAffiliateConfig(ctx, cfg.ID)
		switch {
		case err == nil:
			cfg.Enabled = existing.Enabled
		case !errors.Is(err, repo.ErrNotFound):
			return nil, handleError(err)
		}
		if input.Body.Enabled != nil {
			cfg.Enabled = *input.Body.Enabled
		}
		if err := affiliate.ValidateConfig(&cfg); err != nil {
			return nil, handleError(err)
		}
		saved, err := r.UpsertAffiliateConfig(ctx, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AffiliateConfig `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-affiliate-enabled",
		Method:      http.MethodPost,
		Path:        "/affiliates/{affiliate_id}/enabled",
		Summary:     "Enable or disable an affiliate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AffiliateID string            `path:"affiliate_id"`
		Body        SetEnabledRequest `json:"body"`
	}) (*struct {
		Body domain.AffiliateConfig `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		if err := r.SetAffiliateEnabled(ctx, input.AffiliateID, input.Body.Enabled); err != nil {
			return nil, handleError(err)
		}
		cfg, err := r.GetAffiliateConfig(ctx, input.AffiliateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AffiliateConfig `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-affiliate",
		Method:        http.MethodDelete,
		Path:          "/affiliates/{affiliate_id}",
		Summary:       "Delete affiliate config",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AffiliateID string `path:"affiliate_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		if err := r.DeleteAffiliateConfig(ctx, input.AffiliateID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerKinds(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-affiliate-kinds",
		Method:      http.MethodGet,
		Path:        "/affiliate-kinds",
		Summary:     "List supported affiliate networks and their default settings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body paginatedKinds `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body paginatedKinds `json:"body"`
		}{Body: paginatedKinds{Items: kindResponses(affiliate.Definitions())}}, nil
	})
}

func registerDispatches(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-dispatches",
		Method:      http.MethodGet,
		Path:        "/dispatches",
		Summary:     "List recent dispatch records",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit       int    `query:"limit" default:"50"`
		OrderNumber string `query:"order_number"`
		AffiliateID string `query:"affiliate_id"`
		Operation   string `query:"operation" enum:"track,cancel"`
	}) (*struct {
		Body paginatedDispatches `json:"body"`
	}, error) {
		if err := requirePermission(ctx, auth.PermManageAffiliates); err != nil {
			return nil, handleError(err)
		}
		items, err := r.LatestDispatches(ctx, repo.DispatchFilters{
			Limit:       normalizeLimit(input.Limit),
			OrderNumber: input.OrderNumber,
			AffiliateID: input.AffiliateID,
			Operation:   input.Operation,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedDispatches `json:"body"`
		}{Body: paginatedDispatches{Items: nonNilSlice(items)}}, nil
	})
}

func registerMe(api huma.API) {
	type meResponse struct {
		Subject     string   `json:"subject"`
		Source      string   `json:"source" enum:"jwt,api_key"`
		Permissions []string `json:"permissions"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body meResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body meResponse `json:"body"`
		}{Body: meResponse{
			Subject:     principal.Subject,
			Source:      principal.Source,
			Permissions: nonNilSlice(principal.Permissions),
		}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
