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

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// initiateRequest is the InitiateSession payload.
type initiateRequest struct {
	TopicID    string                 `json:"topic_id" binding:"required"`
	Parameters map[string]interface{} `json:"parameters"`
}

// addMessageRequest is the AddMessage payload.
type addMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleInitiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, types.Wrap(types.KindInvalidArgument, err, "invalid request payload"))
		return
	}
	result, err := s.deps.Sessions.Initiate(c.Request.Context(), callerIdentity(c), req.TopicID, req.Parameters)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) handleAddMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, types.Wrap(types.KindInvalidArgument, err, "invalid request payload"))
		return
	}
	result, err := s.deps.Sessions.AddMessage(c.Request.Context(), callerIdentity(c), c.Param("id"), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleComplete(c *gin.Context) {
	result, err := s.deps.Sessions.Complete(c.Request.Context(), callerIdentity(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCancel(c *gin.Context) {
	snap, err := s.deps.Sessions.Cancel(c.Request.Context(), callerIdentity(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetSession(c *gin.Context) {
	snap, err := s.deps.Sessions.Get(c.Request.Context(), callerIdentity(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
