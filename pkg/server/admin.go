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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mottych/PurposePath-AI-sub003/pkg/runtimeconfig"
	"github.com/mottych/PurposePath-AI-sub003/pkg/session"
	"github.com/mottych/PurposePath-AI-sub003/pkg/topics"
	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// topicDTO is the informational topic listing entry. Template
// references and schema internals stay server-side.
type topicDTO struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind"`
	Freeform    bool           `json:"freeform,omitempty"`
	ResultType  string         `json:"result_type,omitempty"`
	Parameters  []parameterDTO `json:"parameters"`
}

type parameterDTO struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// modelDTO is the model registry listing entry. Pricing stays
// server-side.
type modelDTO struct {
	Code         string   `json:"code"`
	Provider     string   `json:"provider"`
	Capabilities []string `json:"capabilities"`
	Active       bool     `json:"active"`
}

// configPutRequest is the runtime-configuration write payload. The
// tenant comes from the caller identity and the topic from the path,
// never from the body.
type configPutRequest struct {
	ModelCode           string  `json:"model_code" binding:"required"`
	FallbackModelCode   string  `json:"fallback_model_code,omitempty"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	MaxTurns            int     `json:"max_turns"`
	SessionTTLHours     int     `json:"session_ttl_hours"`
	IdleTimeoutMinutes  int     `json:"idle_timeout_minutes"`
	ExtractionModelCode string  `json:"extraction_model_code,omitempty"`
	IsActive            bool    `json:"is_active"`
}

func (s *Server) handleListTopics(c *gin.Context) {
	kind := c.Query("kind")
	var defs []*topics.Definition
	switch kind {
	case "":
		defs = s.deps.Topics.ListAll()
	case "conversation":
		defs = s.deps.Topics.ListConversationTopics()
	case "single_shot":
		defs = s.deps.Topics.ListSingleShotTopics()
	default:
		writeError(c, types.Errorf(types.KindInvalidArgument, "unknown topic kind %q", kind))
		return
	}
	out := make([]topicDTO, 0, len(defs))
	for _, def := range defs {
		out = append(out, topicToDTO(def))
	}
	c.JSON(http.StatusOK, gin.H{"topics": out})
}

func (s *Server) handleListModels(c *gin.Context) {
	entries := s.deps.Models.List()
	out := make([]modelDTO, 0, len(entries))
	for _, e := range entries {
		caps := make([]string, 0, len(e.Capabilities))
		for _, capability := range e.Capabilities {
			caps = append(caps, string(capability))
		}
		out = append(out, modelDTO{
			Code:         e.Code,
			Provider:     e.Provider,
			Capabilities: caps,
			Active:       e.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (s *Server) handleListConfigs(c *gin.Context) {
	id := callerIdentity(c)
	filter := runtimeconfig.Filter{
		ActiveOnly: c.Query("active") == "true",
	}
	if kind := c.Query("kind"); kind != "" {
		ids, err := s.topicIDsForKind(kind)
		if err != nil {
			writeError(c, err)
			return
		}
		filter.TopicIDs = ids
	}
	records, err := s.deps.Configs.List(c.Request.Context(), id.TenantID, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": records})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	id := callerIdentity(c)
	record, err := s.deps.Configs.Get(c.Request.Context(), id.TenantID, c.Param("topic_id"))
	if err != nil {
		if types.IsKind(err, types.KindNotConfigured) {
			writeError(c, types.Wrap(types.KindNotFound, err, "topic is not configured"))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handlePutConfig(c *gin.Context) {
	var req configPutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, types.Wrap(types.KindInvalidArgument, err, "invalid request payload"))
		return
	}
	id := callerIdentity(c)
	record := &runtimeconfig.Record{
		TenantID:            id.TenantID,
		TopicID:             c.Param("topic_id"),
		ModelCode:           req.ModelCode,
		FallbackModelCode:   req.FallbackModelCode,
		Temperature:         req.Temperature,
		MaxTokens:           req.MaxTokens,
		MaxTurns:            req.MaxTurns,
		SessionTTLHours:     req.SessionTTLHours,
		IdleTimeoutMinutes:  req.IdleTimeoutMinutes,
		ExtractionModelCode: req.ExtractionModelCode,
		IsActive:            req.IsActive,
	}
	stored, err := s.deps.Configs.Put(c.Request.Context(), record)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleListSessions(c *gin.Context) {
	id := callerIdentity(c)
	if s.deps.Lister == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []*session.Snapshot{}})
		return
	}
	sessions, err := s.deps.Lister.ListSessions(c.Request.Context(), id.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	now := time.Now().UTC()
	out := make([]*session.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.SnapshotAt(now))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) topicIDsForKind(kind string) ([]string, error) {
	var defs []*topics.Definition
	switch kind {
	case "conversation":
		defs = s.deps.Topics.ListConversationTopics()
	case "single_shot":
		defs = s.deps.Topics.ListSingleShotTopics()
	default:
		return nil, types.Errorf(types.KindInvalidArgument, "unknown topic kind %q", kind)
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	return ids, nil
}

func topicToDTO(def *topics.Definition) topicDTO {
	params := make([]parameterDTO, 0, len(def.Parameters))
	for _, p := range def.Parameters {
		params = append(params, parameterDTO{
			Name:        p.Name,
			Kind:        string(p.Kind),
			Required:    p.Required,
			Description: p.Description,
		})
	}
	dto := topicDTO{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Kind:        string(def.Kind),
		Freeform:    def.Freeform,
		Parameters:  params,
	}
	if def.ResultSchema != nil {
		dto.ResultType = def.ResultSchema.ID
	}
	return dto
}
