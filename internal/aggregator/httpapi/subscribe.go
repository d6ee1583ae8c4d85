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
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
)

// subscribeHandler serves the long-lived unidirectional event stream
// (spec.md §6). Clients connect with an optional `service` query
// parameter; the server frames `record`, `enrichment`, and
// `heartbeat` events and advertises a 3s retry hint.
func subscribeHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := h.Register(c.Query("service"))
		defer sub.Close()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(200)
		fmt.Fprintf(c.Writer, "retry: %d\n\n", subscriberRetryMillis)
		c.Writer.Flush()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				writeEvent(c, ev)
			}
		}
	}
}

func writeEvent(c *gin.Context, ev hub.Event) {
	switch ev.Kind {
	case hub.EventRecord:
		c.SSEvent(string(hub.EventRecord), ev.Record)
	case hub.EventEnrichment:
		c.SSEvent(string(hub.EventEnrichment), ev.Enrichment)
	case hub.EventHeartbeat:
		c.SSEvent(string(hub.EventHeartbeat), gin.H{})
	}
	c.Writer.Flush()
}
