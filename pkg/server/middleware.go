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
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// Header names of the authentication context. Authentication itself
// (verifying the caller may speak for the tenant and user) is the
// surrounding gateway's job; this layer validates shape and threads
// the identity through the request context.
const (
	HeaderTenantID      = "X-Tenant-ID"
	HeaderUserID        = "X-User-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// identityMiddleware extracts and validates the tenant and user ids.
// Requests without a well-formed identity never reach a handler.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := types.Identity{
			TenantID: c.GetHeader(HeaderTenantID),
			UserID:   c.GetHeader(HeaderUserID),
		}
		if err := id.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(c, types.AsError(err)))
			return
		}
		ctx := types.ContextWithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// correlationMiddleware accepts the caller's correlation id or mints
// one, attaches it to the context, and echoes it on the response so
// callers can quote it in reports.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(HeaderCorrelationID)
		if cid == "" {
			cid = uuid.New().String()
		}
		ctx := types.ContextWithCorrelationID(c.Request.Context(), cid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderCorrelationID, cid)
		c.Next()
	}
}

// deadlineMiddleware attaches the per-request deadline. Everything
// downstream, including in-flight provider calls, aborts when it
// fires.
func deadlineMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// accessLogMiddleware logs one structured line per request.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("elapsed_ms", time.Since(started).Milliseconds()),
			zap.String("correlation_id", types.CorrelationIDFromContext(c.Request.Context())))
	}
}

// callerIdentity returns the identity the middleware attached.
func callerIdentity(c *gin.Context) types.Identity {
	id, _ := types.IdentityFromContext(c.Request.Context())
	return id
}
