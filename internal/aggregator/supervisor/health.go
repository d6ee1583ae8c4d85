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

package supervisor

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsentra/opsentra/internal/aggregator/httpapi"
	"github.com/opsentra/opsentra/internal/aggregator/store"
	"github.com/opsentra/opsentra/internal/broker"
)

const healthCheckTimeout = 2 * time.Second

// healthChecker implements httpapi.HealthChecker by probing the
// store, broker, and object store on each request (spec.md §6).
type healthChecker struct {
	store       *store.Store
	reconnector *broker.Reconnector
	s3Reachable func(ctx context.Context) error
}

func newHealthChecker(st *store.Store, rc *broker.Reconnector, s3Check func(ctx context.Context) error) *healthChecker {
	return &healthChecker{store: st, reconnector: rc, s3Reachable: s3Check}
}

func (h *healthChecker) CheckDependencies(c *gin.Context) []httpapi.DependencyStatus {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	deps := []httpapi.DependencyStatus{
		{Name: "store", Status: statusFor(h.store.Ping(ctx))},
		{Name: "broker", Status: statusForBroker(h.reconnector)},
	}
	if h.s3Reachable != nil {
		deps = append(deps, httpapi.DependencyStatus{Name: "object-store", Status: statusFor(h.s3Reachable(ctx))})
	}
	return deps
}

func statusFor(err error) string {
	if err != nil {
		return "unreachable"
	}
	return "healthy"
}

func statusForBroker(rc *broker.Reconnector) string {
	if rc == nil {
		return "unreachable"
	}
	switch rc.State() {
	case broker.StateReady, broker.StateConnected, broker.StateChanneling:
		return "healthy"
	default:
		return "unreachable"
	}
}
