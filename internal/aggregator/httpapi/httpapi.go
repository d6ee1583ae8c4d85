// Copyright 2025 The OpSentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi exposes the Aggregator's HTTP surface: the
// subscriber stream, filtered-fetch and service-inventory reads, and a
// health endpoint (spec.md §6).
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/aggregator/store"
)

const (
	defaultFetchLimit = 100
	maxFetchLimit     = 1000

	// subscriberRetryMillis is the reconnect hint advertised to SSE
	// clients (spec.md §6).
	subscriberRetryMillis = 3000
)

// DependencyStatus reports one external collaborator's reachability
// for the health endpoint.
type DependencyStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// HealthChecker reports the health of the Aggregator's external
// dependencies (spec.md §6).
type HealthChecker interface {
	CheckDependencies(c *gin.Context) []DependencyStatus
}

// New builds the Aggregator's gin engine. version and startedAt feed
// the health endpoint.
func New(st *store.Store, h *hub.Hub, health HealthChecker, version string, startedAt time.Time, log zerolog.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestid.New())
	engine.Use(loggingMiddleware(log))
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	engine.GET("/healthz", healthHandler(health, h, version, startedAt))
	engine.GET("/api/logs", fetchHandler(st))
	engine.GET("/api/services", servicesHandler(st))
	engine.GET("/api/subscribe", subscribeHandler(h))

	return engine
}

func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now().UTC()

		reqID := requestid.Get(c)
		logger := log.With().Str("request_id", reqID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		c.Next()

		logger.Info().
			Str("event_type", "access").
			Time("request_ts", t0).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("raw_query", c.Request.URL.RawQuery).
			Int("status_code", c.Writer.Status()).
			Dur("duration_ms", time.Since(t0)).
			Send()
	}
}

func healthHandler(health HealthChecker, h *hub.Hub, version string, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := []DependencyStatus{}
		if health != nil {
			deps = health.CheckDependencies(c)
		}

		overall := "healthy"
		for _, d := range deps {
			if d.Status != "healthy" {
				overall = "degraded"
				break
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       overall,
			"version":      version,
			"dependencies": deps,
			"subscribers":  h.Count(),
			"uptimeSecs":   int(time.Since(startedAt).Seconds()),
		})
	}
}

func fetchHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := int64(defaultFetchLimit)
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		if limit > maxFetchLimit {
			limit = maxFetchLimit
		}

		opts := store.FetchOptions{
			Limit:   limit,
			Service: c.Query("service"),
			Level:   c.Query("level"),
		}

		logs, err := st.Fetch(c.Request.Context(), opts)
		if err != nil {
			zlog.Error().Err(err).Msg("httpapi: fetch failed")
			c.JSON(http.StatusInternalServerError, gin.H{"logs": []any{}, "count": 0})
			return
		}

		c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
	}
}

func servicesHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		services, err := st.ListServices(c.Request.Context())
		if err != nil {
			zlog.Error().Err(err).Msg("httpapi: list services failed")
			c.JSON(http.StatusInternalServerError, gin.H{"services": []string{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"services": services})
	}
}
