package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	recall "github.com/altanhq/recall"
	"github.com/altanhq/recall/ingest"
)

type ingestTextRequest struct {
	Title string `json:"title"`
	// Pointer so an explicitly empty text still binds: empty text is a
	// valid zero-chunk document, only a missing field is a 400.
	Text      *string `json:"text" binding:"required"`
	CreatedAt string  `json:"created_at"`
}

type ingestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) ingestText(c *gin.Context) {
	var req ingestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "text is required"})
		return
	}
	createdAt, err := parseCreatedAt(req.CreatedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	user := currentUser(c)

	start := time.Now()
	job, err := s.deps.Pipeline.IngestText(c.Request.Context(), user.ID,
		ingest.TextInput{Title: req.Title, Text: *req.Text, CreatedAt: createdAt})
	s.recordIngest(c, recall.SourceText, job, start)
	if err != nil {
		s.respondIngestError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) ingestURL(c *gin.Context) {
	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "url is required"})
		return
	}
	user := currentUser(c)

	start := time.Now()
	job, err := s.deps.Pipeline.IngestURL(c.Request.Context(), user.ID, req.URL)
	s.recordIngest(c, recall.SourceWeb, job, start)
	if err != nil {
		s.respondIngestError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) ingestFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}

	// The source_type form field is authoritative; the filename extension
	// only serves as a fallback when it is absent.
	var st recall.SourceType
	if raw := c.PostForm("source_type"); raw != "" {
		st = recall.SourceType(raw)
		if !st.Valid() || st == recall.SourceWeb {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid source_type " + raw})
			return
		}
	}
	createdAt, err := parseCreatedAt(c.PostForm("created_at"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "cannot read uploaded file"})
		return
	}
	defer f.Close()
	user := currentUser(c)

	start := time.Now()
	job, err := s.deps.Pipeline.IngestFile(c.Request.Context(), user.ID,
		ingest.FileInput{Filename: fh.Filename, SourceType: st, CreatedAt: createdAt}, f)
	s.recordIngest(c, job.SourceType, job, start)
	if err != nil {
		s.respondIngestError(c, job, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

// parseCreatedAt accepts an optional ISO 8601 timestamp (with or without a
// zone, or date-only) and returns unix seconds, zero when absent.
func parseCreatedAt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, recall.Errf(recall.KindValidation, "invalid created_at %q, use ISO 8601", s)
}

// respondIngestError includes the failed job when one was created, so the
// client can poll it and see the failure stage.
func (s *Server) respondIngestError(c *gin.Context, job recall.IngestionJob, err error) {
	if job.ID == "" {
		s.respondError(c, err)
		return
	}
	switch recall.KindOf(err) {
	case recall.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error(), "job": job})
	default:
		s.deps.Logger.Error("ingestion failed", "job_id", job.ID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error(), "job": job})
	}
}

func (s *Server) recordIngest(c *gin.Context, sourceType recall.SourceType, job recall.IngestionJob, start time.Time) {
	if s.deps.Instruments == nil {
		return
	}
	status := string(job.Status)
	if status == "" {
		status = string(recall.JobFailed)
	}
	s.deps.Instruments.RecordIngest(c.Request.Context(), string(sourceType), status,
		float64(time.Since(start).Milliseconds()))
}
