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
	"go.uber.org/zap"

	"github.com/mottych/PurposePath-AI-sub003/internal/log"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// kindStatus maps every user-visible error kind to its HTTP status.
// This is the single place where the taxonomy meets the wire; kinds
// absent from the map are internal failures and report 500 without
// leaking their message.
var kindStatus = map[types.Kind]int{
	types.KindInvalidArgument:       http.StatusBadRequest,
	types.KindMissingParameter:      http.StatusBadRequest,
	types.KindNullParameter:         http.StatusBadRequest,
	types.KindNotFound:              http.StatusNotFound,
	types.KindSessionNotFound:       http.StatusNotFound,
	types.KindForbidden:             http.StatusForbidden,
	types.KindSessionConflict:       http.StatusConflict,
	types.KindSessionNotActive:      http.StatusConflict,
	types.KindMaxTurnsReached:       http.StatusConflict,
	types.KindSessionExpired:        http.StatusGone,
	types.KindTopicNotAvailable:     http.StatusPreconditionFailed,
	types.KindUndeclaredPlaceholder: http.StatusUnprocessableEntity,
	types.KindExtractionFailed:      http.StatusUnprocessableEntity,
	types.KindBusy:                  http.StatusServiceUnavailable,
	types.KindProviderRejected:      http.StatusBadGateway,
	types.KindProviderUnavailable:   http.StatusBadGateway,
	types.KindCancelled:             http.StatusGatewayTimeout,
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	TopicID       string `json:"topic_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Parameter     string `json:"parameter,omitempty"`
	OtherUserID   string `json:"other_user_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError renders err with its mapped status. Unclassified errors
// are logged with the correlation id and masked on the wire.
func writeError(c *gin.Context, err error) {
	e := types.AsError(err)
	status, ok := kindStatus[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("correlation_id", types.CorrelationIDFromContext(c.Request.Context())),
			zap.Error(err))
		c.JSON(status, errorResponse{Error: errorDetail{
			Kind:          types.KindInternal.String(),
			Message:       "internal error",
			CorrelationID: types.CorrelationIDFromContext(c.Request.Context()),
		}})
		return
	}
	c.JSON(status, errorBody(c, e))
}

// errorBody builds the envelope for a kinded error. The other-user id
// is the one piece of cross-user information the contract exposes, and
// only conflict errors carry it.
func errorBody(c *gin.Context, e *types.Error) errorResponse {
	return errorResponse{Error: errorDetail{
		Kind:          e.Kind.String(),
		Message:       e.Message,
		TopicID:       e.TopicID,
		SessionID:     e.SessionID,
		Parameter:     e.Parameter,
		OtherUserID:   e.OtherUserID,
		CorrelationID: types.CorrelationIDFromContext(c.Request.Context()),
	}}
}
