package handlers

import (
	"net/http"
	"time"

	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/gin-gonic/gin"
)

type RepositoryHandler struct {
	repositoryService *services.RepositoryService
	lifecycleService  *services.LifecycleService
	exportService     *services.ExportService
}

func NewRepositoryHandler(
	repositoryService *services.RepositoryService,
	lifecycleService *services.LifecycleService,
	exportService *services.ExportService,
) *RepositoryHandler {
	return &RepositoryHandler{
		repositoryService: repositoryService,
		lifecycleService:  lifecycleService,
		exportService:     exportService,
	}
}

// List returns the repositories of the signed-in user
func (h *RepositoryHandler) List(c *gin.Context) {
	repos, err := h.repositoryService.ListForUser(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// Issues returns the imported issues of a repository
func (h *RepositoryHandler) Issues(c *gin.Context) {
	issues, err := h.repositoryService.ListIssues(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// Added lists the public repositories whose issues are imported. It needs no session.
func (h *RepositoryHandler) Added(c *gin.Context) {
	repos, err := h.repositoryService.ListAdded(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// AddedIssues lists the issues of an added public repository
func (h *RepositoryHandler) AddedIssues(c *gin.Context) {
	issues, err := h.repositoryService.ListAddedIssues(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// Add starts importing a repository
func (h *RepositoryHandler) Add(c *gin.Context) {
	taskID, err := h.lifecycleService.Add(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// Remove starts removing an added repository
func (h *RepositoryHandler) Remove(c *gin.Context) {
	taskID, err := h.lifecycleService.Remove(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// Export downloads the repositories of the signed-in user as a spreadsheet
func (h *RepositoryHandler) Export(c *gin.Context) {
	f, err := h.exportService.RepositoriesWorkbook(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	filename := "repositories-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}
