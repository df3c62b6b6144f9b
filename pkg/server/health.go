// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mottych/PurposePath-AI-sub003/internal/version"
)

// handleHealth reports process liveness and, when a Pinger is wired,
// storage reachability. It sits outside the identity middleware so
// load balancers can probe it unauthenticated.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "coachd",
		"version": version.Get(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["storage"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["storage"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}
