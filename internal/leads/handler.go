package leads

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/storage"
)

// maxFieldsBytes caps the stored form fields per submission.
const maxFieldsBytes = 16 * 1024

// Handler exposes the public capture endpoint and the org lead views.
type Handler struct {
	repo       *Repository
	orgRepo    *organizations.Repository
	dispatcher *webhooks.Dispatcher
	s3         *storage.S3
	logger     *zap.Logger
}

func NewHandler(repo *Repository, orgRepo *organizations.Repository, dispatcher *webhooks.Dispatcher, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, orgRepo: orgRepo, dispatcher: dispatcher, s3: s3, logger: logger}
}

type submitRequest struct {
	Email    string                 `json:"email" binding:"required,email"`
	FullName string                 `json:"full_name"`
	Source   string                 `json:"source"`
	Fields   map[string]interface{} `json:"fields"`
}

// Submit captures a public form post. The form key in the path identifies
// the org; no auth. Responds with 201 regardless of whether the lead
// already existed so the form cannot be used to probe for known emails.
func (h *Handler) Submit(c *gin.Context) {
	formKey := c.Param("formKey")
	org, err := h.orgRepo.GetByFormKey(c.Request.Context(), formKey)
	if err != nil || org == nil {
		response.NotFound(c, "form not found")
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "a valid email is required")
		return
	}

	var fields []byte
	if req.Fields != nil {
		fields, err = json.Marshal(req.Fields)
		if err != nil || len(fields) > maxFieldsBytes {
			response.BadRequest(c, "form fields too large")
			return
		}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	lead, created, err := h.repo.RecordSubmission(c.Request.Context(), org.ID, email, req.FullName, req.Source, fields)
	if err != nil {
		h.logger.Error("record submission failed", zap.Error(err))
		response.Internal(c, "failed to record submission")
		return
	}

	if created {
		h.dispatcher.Dispatch(c.Request.Context(), org.ID, models.EventLeadCreated, lead)
	}
	response.Created(c, gin.H{"received": true})
}

// List returns the org's leads, paginated.
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	list, total, err := h.repo.List(c.Request.Context(), orgID, limit, offset)
	if err != nil {
		h.logger.Error("list leads failed", zap.Error(err))
		response.Internal(c, "failed to list leads")
		return
	}
	response.OK(c, response.Page{Items: list, Total: total, Limit: limit, Offset: offset})
}

// ListSubmissions returns one lead's submission history.
func (h *Handler) ListSubmissions(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		response.BadRequest(c, "invalid lead id")
		return
	}
	lead, err := h.repo.Get(c.Request.Context(), leadID, orgID)
	if err != nil {
		h.logger.Error("get lead failed", zap.Error(err))
		response.Internal(c, "failed to load lead")
		return
	}
	if lead == nil {
		response.NotFound(c, "lead not found")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	list, err := h.repo.ListSubmissions(c.Request.Context(), leadID, limit, offset)
	if err != nil {
		h.logger.Error("list submissions failed", zap.Error(err))
		response.Internal(c, "failed to list submissions")
		return
	}
	response.OK(c, gin.H{"lead": lead, "submissions": list})
}

// Export writes the org's leads to a CSV in object storage and returns a
// time-limited download URL.
func (h *Handler) Export(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	if h.s3 == nil {
		response.BadRequest(c, "object storage is not configured")
		return
	}

	all, err := h.repo.All(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("load leads for export failed", zap.Error(err))
		response.Internal(c, "failed to export leads")
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"email", "full_name", "submission_count", "first_seen_at", "last_seen_at"})
	for _, l := range all {
		_ = w.Write([]string{
			l.Email,
			l.FullName,
			strconv.Itoa(l.SubmissionCount),
			l.FirstSeenAt.UTC().Format(time.RFC3339),
			l.LastSeenAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Error("write csv failed", zap.Error(err))
		response.Internal(c, "failed to export leads")
		return
	}

	key := storage.ExportKey(orgID.String(), fmt.Sprintf("leads-%s.csv", time.Now().UTC().Format("20060102-150405")))
	if _, err := h.s3.Upload(c.Request.Context(), key, "text/csv", &buf); err != nil {
		h.logger.Error("upload export failed", zap.Error(err))
		response.Internal(c, "failed to export leads")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign export failed", zap.Error(err))
		response.Internal(c, "failed to export leads")
		return
	}
	response.OK(c, gin.H{"download_url": url, "count": len(all)})
}
