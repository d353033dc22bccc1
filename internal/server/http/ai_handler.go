package http

import (
	"net/http"
	"strings"

	"aidesk/internal/protocol"

	"github.com/gin-gonic/gin"
)

// HandleSummarize handles POST /ai/summarize
func (h *APIHandler) HandleSummarize(c *gin.Context) {
	h.handleProjectReport(c, protocol.ModeSummarize)
}

// HandleExtract handles POST /ai/extract
func (h *APIHandler) HandleExtract(c *gin.Context) {
	h.handleProjectReport(c, protocol.ModeExtract)
}

// HandleRecommend handles POST /ai/recommend. visualize selects the chart variant.
func (h *APIHandler) HandleRecommend(c *gin.Context) {
	h.handleProjectReport(c, protocol.ModeRecommend)
}

func (h *APIHandler) handleProjectReport(c *gin.Context, mode protocol.Mode) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRunBodySize)
	defer body.Close()

	var req protocol.ProjectReportRequest
	if !h.decodeBody(c, body, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		h.writeJSONError(c, http.StatusUnprocessableEntity, "projectId is required", nil)
		return
	}

	result, err := h.reports.Generate(c.Request.Context(), protocol.StartRequest{
		Mode:      mode,
		Visualize: req.Visualize,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		h.writeAppError(c, "Project not found", err)
		return
	}
	h.writeJSON(c, http.StatusOK, result)
}

// HandleProjectContext handles GET /ai/context/project/:id
func (h *APIHandler) HandleProjectContext(c *gin.Context) {
	pc, err := h.reports.ProjectContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeAppError(c, "Project not found", err)
		return
	}
	h.writeJSON(c, http.StatusOK, pc)
}

// HandleChatbot handles POST /ai/recommend_chatbotai, a one-shot answer in the
// same {answer, used} shape the chat stream carries.
func (h *APIHandler) HandleChatbot(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRunBodySize)
	defer body.Close()

	var req protocol.ChatbotRequest
	if !h.decodeBody(c, body, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeJSONError(c, http.StatusUnprocessableEntity, "question is required", nil)
		return
	}

	ctx := c.Request.Context()
	pc, err := h.reports.ProjectContext(ctx, req.ProjectID)
	if err != nil {
		h.writeAppError(c, "Project not found", err)
		return
	}
	answer, err := h.answerer.Chat(ctx, pc, strings.TrimSpace(req.Question))
	if err != nil {
		h.writeJSONError(c, http.StatusBadGateway, "Chat provider failed", err)
		return
	}
	h.writeJSON(c, http.StatusOK, answer)
}
