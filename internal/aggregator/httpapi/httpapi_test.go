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

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/record"
)

type fakeHealthChecker struct {
	deps []DependencyStatus
}

func (f fakeHealthChecker) CheckDependencies(c *gin.Context) []DependencyStatus {
	return f.deps
}

func TestHealthHandlerReportsHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.New(evbus.New(), 10, zerolog.Nop())

	engine := gin.New()
	engine.GET("/healthz", healthHandler(fakeHealthChecker{deps: []DependencyStatus{
		{Name: "broker", Status: "healthy"},
	}}, h, "test", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHealthHandlerReportsDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.New(evbus.New(), 10, zerolog.Nop())

	engine := gin.New()
	engine.GET("/healthz", healthHandler(fakeHealthChecker{deps: []DependencyStatus{
		{Name: "store", Status: "unreachable"},
	}}, h, "test", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestSubscribeHandlerFramesRecordEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := evbus.New()
	h := hub.New(bus, 10, zerolog.Nop())

	engine := gin.New()
	engine.GET("/api/subscribe", subscribeHandler(h))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/subscribe?service=nginx", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		engine.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	h.PublishRecord(record.LogRecord{Service: "nginx", Message: "hello"})

	cancel()
	<-done

	body := rec.Body.String()
	require.True(t, strings.Contains(body, "retry: 3000"))
	require.True(t, strings.Contains(body, "event:record") || strings.Contains(body, "event: record"))
}
