// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/keyrouter/internal/auth"
	"github.com/adiadia/keyrouter/internal/domain"
	"github.com/adiadia/keyrouter/internal/metrics"
	"github.com/adiadia/keyrouter/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type matchRequest struct {
	Text            string `json:"text"`
	Origin          string `json:"origin"`
	EstimatedTokens int64  `json:"estimatedTokens"`
	PayloadKB       int    `json:"payloadKb"`
}

type credentialRequest struct {
	Name               string   `json:"name"`
	Provider           string   `json:"provider"`
	Description        string   `json:"description"`
	SecretRef          string   `json:"secret_ref"`
	Template           string   `json:"template"`
	ScopeTags          []string `json:"scope_tags"`
	MaxRequestsPerDay  int      `json:"max_requests_per_day"`
	MaxRequestsPerWeek int      `json:"max_requests_per_week"`
	MaxTokensPerDay    int      `json:"max_tokens_per_day"`
	MaxPayloadKB       int      `json:"max_payload_kb"`
	ExpiresAt          *string  `json:"expires_at"`
	AllowedOrigins     []string `json:"allowed_origins"`
}

type credentialPatchRequest struct {
	Name               *string   `json:"name"`
	Provider           *string   `json:"provider"`
	Description        *string   `json:"description"`
	ScopeTags          *[]string `json:"scope_tags"`
	MaxRequestsPerDay  *int      `json:"max_requests_per_day"`
	MaxRequestsPerWeek *int      `json:"max_requests_per_week"`
	MaxTokensPerDay    *int      `json:"max_tokens_per_day"`
	MaxPayloadKB       *int      `json:"max_payload_kb"`
	ExpiresAt          *string   `json:"expires_at"`
	AllowedOrigins     *[]string `json:"allowed_origins"`
	Disabled           *bool     `json:"disabled"`
}

type Deps struct {
	Selector      IntentSelector
	Credentials   CredentialStore
	Activity      ActivityReader
	Usage         UsageReader
	HealthChecker HealthChecker
	Logger        *slog.Logger
	AdminToken    string

	MatchRateLimitPerMin int
	Version              string
	Commit               string
	BuildDate            string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- INTENT MATCH ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.CallerOrigin())
		if deps.MatchRateLimitPerMin > 0 {
			r.Use(middleware.OriginRateLimit(deps.MatchRateLimitPerMin, logger))
		}

		r.Post("/intent/match", func(w http.ResponseWriter, r *http.Request) {
			reqBody, err := decodeMatchRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			intent := domain.IntentRequest{
				Text:            reqBody.Text,
				Origin:          reqBody.Origin,
				EstimatedTokens: reqBody.EstimatedTokens,
				PayloadKB:       reqBody.PayloadKB,
			}
			if intent.Origin == "" {
				if origin, ok := auth.OriginFromContext(r.Context()); ok {
					intent.Origin = origin
				}
			}

			if err := intent.Validate(); err != nil {
				switch {
				case errors.Is(err, domain.ErrIntentTextRequired):
					http.Error(w, "text is required", http.StatusBadRequest)
				case errors.Is(err, domain.ErrIntentTextTooLong):
					http.Error(w, "text exceeds maximum length", http.StatusBadRequest)
				default:
					http.Error(w, "invalid request", http.StatusBadRequest)
				}
				return
			}

			result, err := deps.Selector.Select(r.Context(), intent)
			if err != nil {
				logger.Error("intent match failed", "error", err)
				http.Error(w, "failed to match intent", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, matchResponse(result))
		})
	})

	// ---------------- SCOPE TEMPLATES (ADMIN) ----------------

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		admin.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"templates": domain.Templates(),
			})
		})
	})

	// ---------------- CREDENTIAL LIFECYCLE (ADMIN) ----------------

	if deps.Credentials != nil {
		r.Route("/keys", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				params, err := decodeCredentialRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				created, err := deps.Credentials.Create(r.Context(), params)
				if err != nil {
					switch {
					case errors.Is(err, domain.ErrValidation),
						errors.Is(err, domain.ErrUnknownTemplate):
						http.Error(w, err.Error(), http.StatusBadRequest)
					default:
						logger.Error("create credential failed", "error", err)
						http.Error(w, "failed to create credential", http.StatusInternalServerError)
					}
					return
				}

				writeJSON(w, http.StatusCreated, created)
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				creds, err := deps.Credentials.List(r.Context())
				if err != nil {
					logger.Error("list credentials failed", "error", err)
					http.Error(w, "failed to list credentials", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"credentials": creds,
				})
			})

			admin.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseCredentialID(w, r)
				if !ok {
					return
				}

				cred, err := deps.Credentials.Get(r.Context(), id)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						http.Error(w, "credential not found", http.StatusNotFound)
						return
					}
					logger.Error("get credential failed", "credential_id", id, "error", err)
					http.Error(w, "failed to get credential", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, cred)
			})

			admin.Get("/{id}/status", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseCredentialID(w, r)
				if !ok {
					return
				}

				cred, err := deps.Credentials.Get(r.Context(), id)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						http.Error(w, "credential not found", http.StatusNotFound)
						return
					}
					logger.Error("get credential failed", "credential_id", id, "error", err)
					http.Error(w, "failed to get credential status", http.StatusInternalServerError)
					return
				}

				resp := map[string]any{
					"id":     id.String(),
					"status": string(deps.Selector.Status(cred)),
				}
				if deps.Usage != nil {
					usage := deps.Usage.Usage(id, time.Now().UTC())
					resp["usage"] = map[string]any{
						"day_requests":  usage.DayRequests,
						"week_requests": usage.WeekRequests,
						"day_tokens":    usage.DayTokens,
					}
				}

				writeJSON(w, http.StatusOK, resp)
			})

			admin.Patch("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseCredentialID(w, r)
				if !ok {
					return
				}

				params, err := decodeCredentialPatch(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				updated, err := deps.Credentials.Update(r.Context(), id, params)
				if err != nil {
					switch {
					case errors.Is(err, domain.ErrNotFound):
						http.Error(w, "credential not found", http.StatusNotFound)
					case errors.Is(err, domain.ErrValidation):
						http.Error(w, err.Error(), http.StatusBadRequest)
					default:
						logger.Error("update credential failed", "credential_id", id, "error", err)
						http.Error(w, "failed to update credential", http.StatusInternalServerError)
					}
					return
				}

				writeJSON(w, http.StatusOK, updated)
			})

			admin.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseCredentialID(w, r)
				if !ok {
					return
				}

				if err := deps.Credentials.Delete(r.Context(), id); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						http.Error(w, "credential not found", http.StatusNotFound)
						return
					}
					logger.Error("delete credential failed", "credential_id", id, "error", err)
					http.Error(w, "failed to delete credential", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})
		})

		// ---------------- RECENT ACTIVITY (ADMIN) ----------------

		if deps.Activity != nil {
			r.Group(func(admin chi.Router) {
				admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

				admin.Get("/activity", func(w http.ResponseWriter, r *http.Request) {
					limit := 20
					if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
						parsed, err := strconv.Atoi(raw)
						if err != nil || parsed <= 0 || parsed > 200 {
							http.Error(w, "invalid limit", http.StatusBadRequest)
							return
						}
						limit = parsed
					}

					records, err := deps.Activity.Recent(r.Context(), limit)
					if err != nil {
						logger.Error("recent activity failed", "error", err)
						http.Error(w, "failed to list activity", http.StatusInternalServerError)
						return
					}

					writeJSON(w, http.StatusOK, map[string]any{
						"decisions": records,
					})
				})
			})
		}
	}

	return r
}

// matchResponse shapes a MatchResult for the wire: credential ids as strings
// keyed maps, nulls preserved.
func matchResponse(result domain.MatchResult) map[string]any {
	var selected *string
	if result.SelectedCredentialID != nil {
		s := result.SelectedCredentialID.String()
		selected = &s
	}

	rejected := make(map[string]string, len(result.RejectedReasons))
	for id, reason := range result.RejectedReasons {
		rejected[id.String()] = reason
	}

	alternatives := make([]map[string]any, 0, len(result.Alternatives))
	for _, alt := range result.Alternatives {
		alternatives = append(alternatives, map[string]any{
			"credentialId": alt.CredentialID.String(),
			"confidence":   alt.Confidence,
		})
	}

	return map[string]any{
		"selectedCredentialId": selected,
		"confidence":           result.Confidence,
		"reasoning":            result.Reasoning,
		"alternatives":         alternatives,
		"rejectedReasons":      rejected,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCredentialID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid credential ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeMatchRequest(r *http.Request) (matchRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return matchRequest{}, errors.New("request body required")
	}

	var req matchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return matchRequest{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return matchRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.Text = strings.TrimSpace(req.Text)
	req.Origin = strings.TrimSpace(req.Origin)
	return req, nil
}

func decodeCredentialRequest(r *http.Request) (domain.CreateCredentialParams, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return domain.CreateCredentialParams{}, errors.New("request body required")
	}

	var req credentialRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.CreateCredentialParams{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.CreateCredentialParams{}, errors.New("request body must contain exactly one JSON object")
	}

	expiresAt, err := parseExpiry(req.ExpiresAt)
	if err != nil {
		return domain.CreateCredentialParams{}, err
	}

	return domain.CreateCredentialParams{
		Name:        req.Name,
		Provider:    req.Provider,
		Description: req.Description,
		SecretRef:   req.SecretRef,
		Template:    strings.TrimSpace(req.Template),
		ScopeTags:   req.ScopeTags,
		Limits: domain.Limits{
			MaxRequestsPerDay:  req.MaxRequestsPerDay,
			MaxRequestsPerWeek: req.MaxRequestsPerWeek,
			MaxTokensPerDay:    req.MaxTokensPerDay,
			MaxPayloadKB:       req.MaxPayloadKB,
		},
		ExpiresAt:      expiresAt,
		AllowedOrigins: req.AllowedOrigins,
	}, nil
}

func decodeCredentialPatch(r *http.Request) (domain.UpdateCredentialParams, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return domain.UpdateCredentialParams{}, errors.New("request body required")
	}

	var req credentialPatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.UpdateCredentialParams{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.UpdateCredentialParams{}, errors.New("request body must contain exactly one JSON object")
	}

	params := domain.UpdateCredentialParams{
		Name:               req.Name,
		Provider:           req.Provider,
		Description:        req.Description,
		ScopeTags:          req.ScopeTags,
		MaxRequestsPerDay:  req.MaxRequestsPerDay,
		MaxRequestsPerWeek: req.MaxRequestsPerWeek,
		MaxTokensPerDay:    req.MaxTokensPerDay,
		MaxPayloadKB:       req.MaxPayloadKB,
		AllowedOrigins:     req.AllowedOrigins,
		Disabled:           req.Disabled,
	}

	if req.ExpiresAt != nil {
		if strings.TrimSpace(*req.ExpiresAt) == "" {
			params.ClearExpiry = true
		} else {
			expiresAt, err := parseExpiry(req.ExpiresAt)
			if err != nil {
				return domain.UpdateCredentialParams{}, err
			}
			params.ExpiresAt = expiresAt
		}
	}

	return params, nil
}

func parseExpiry(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, errors.New("invalid expires_at, want RFC 3339")
	}
	return &parsed, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
