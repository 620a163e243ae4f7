package handlers

import (
	"net/http"

	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	jobService *services.JobService
}

func NewTaskHandler(jobService *services.JobService) *TaskHandler {
	return &TaskHandler{jobService: jobService}
}

// Get reports the progress of a task returned by sync, add or remove
func (h *TaskHandler) Get(c *gin.Context) {
	job, err := h.jobService.GetTask(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":      job.ID,
		"type":         job.JobType,
		"status":       job.Status,
		"attempts":     job.Attempts,
		"error":        job.ErrorMessage,
		"created_at":   job.CreatedAt,
		"completed_at": job.CompletedAt,
	})
}
