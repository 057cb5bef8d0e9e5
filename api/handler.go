package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"photoproc/config"
	"photoproc/processor"
	"photoproc/task"

	"github.com/c2h5oh/datasize"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type Handler struct {
	taskManager *task.Manager
	processors  map[task.Mode]task.ItemProcessor
	validator   *processor.Validator
	cfg         *config.Config
	logger      *slog.Logger
}

func NewHandler(tm *task.Manager, processors map[task.Mode]task.ItemProcessor, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		taskManager: tm,
		processors:  processors,
		validator:   processor.NewValidator(cfg),
		cfg:         cfg,
		logger:      logger,
	}
}

// uploadError is a client mistake in the uploaded files.
type uploadError struct {
	msg string
}

func (e *uploadError) Error() string { return e.msg }

func badUpload(format string, args ...any) error {
	return &uploadError{msg: fmt.Sprintf(format, args...)}
}

// readUploads validates and loads every uploaded file in order.
func (h *Handler) readUploads(files []*multipart.FileHeader) ([]task.Item, error) {
	if len(files) == 0 {
		return nil, badUpload("No files provided")
	}
	if len(files) > h.cfg.MaxFilesCount {
		return nil, badUpload("Too many files. Maximum %d files allowed", h.cfg.MaxFilesCount)
	}

	items := make([]task.Item, 0, len(files))
	for _, fh := range files {
		item, err := h.readUpload(fh)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (h *Handler) readUpload(fh *multipart.FileHeader) (task.Item, error) {
	if fh.Size > h.cfg.MaxFileSize {
		return task.Item{}, badUpload("File %s is too large. Maximum size is %s",
			fh.Filename, datasize.ByteSize(h.cfg.MaxFileSize).HumanReadable())
	}
	declared := fh.Header.Get("Content-Type")
	if !h.validator.AllowsDeclared(declared) {
		return task.Item{}, badUpload("File %s has unsupported content type %s", fh.Filename, declared)
	}

	f, err := fh.Open()
	if err != nil {
		return task.Item{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return task.Item{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}

	sniffed, err := h.validator.Check(data)
	switch {
	case errors.Is(err, processor.ErrEmptyFile):
		return task.Item{}, badUpload("File %s is empty", fh.Filename)
	case err != nil:
		return task.Item{}, badUpload("File %s: %v", fh.Filename, err)
	}
	return task.Item{Name: fh.Filename, ContentType: sniffed, Data: data}, nil
}

func (h *Handler) respondUploadError(c *gin.Context, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ue.msg})
		return
	}
	h.logger.ErrorContext(c.Request.Context(), "failed to read uploads", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded files"})
}

// attachment formats a Content-Disposition value, quoting or RFC 2231 encoding
// the filename as needed.
func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// handleProcessParallel accepts a batch and starts processing it in the background.
func (h *Handler) handleProcessParallel(c *gin.Context) {
	whiteBG, err := strconv.ParseBool(c.DefaultQuery("white_bg", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "white_bg must be true or false"})
		return
	}
	mode := task.ModeInterior
	if whiteBG {
		mode = task.ModeWhite
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form", "details": err.Error()})
		return
	}
	items, err := h.readUploads(form.File["files"])
	if err != nil {
		h.respondUploadError(c, err)
		return
	}

	id, err := h.taskManager.Submit(c.Request.Context(), mode, items)
	if errors.Is(err, task.ErrUnknownMode) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("Processing mode %s is not configured", mode)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, err := h.taskManager.Status(c.Request.Context(), c.Param("taskId"))
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to read task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read task"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleDownloadTask returns the archive and removes the task.
func (h *Handler) handleDownloadTask(c *gin.Context) {
	taskID := c.Param("taskId")
	data, err := h.taskManager.Download(c.Request.Context(), taskID)
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	case errors.Is(err, task.ErrNotCompleted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task is not completed"})
		return
	case errors.Is(err, task.ErrResultMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task result not found"})
		return
	case err != nil:
		h.logger.ErrorContext(c.Request.Context(), "failed to download task", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read task result"})
		return
	}

	c.Header("Content-Disposition", attachment(fmt.Sprintf("processed_%s.zip", taskID)))
	c.Data(http.StatusOK, "application/zip", data)
}

// handleSingle processes one uploaded file synchronously with the processor for mode.
func (h *Handler) handleSingle(mode task.Mode, contentType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proc, ok := h.processors[mode]
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("Processing mode %s is not configured", mode)})
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
			return
		}
		item, err := h.readUpload(fh)
		if err != nil {
			h.respondUploadError(c, err)
			return
		}

		out, err := proc.Process(c.Request.Context(), item)
		if err != nil {
			status := http.StatusBadGateway
			var failure *task.ItemFailure
			if errors.As(err, &failure) && failure.Stage == processor.StageValidate {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": "Processing failed", "details": err.Error()})
			return
		}

		c.Header("Content-Disposition", attachment(out.Name))
		c.Data(http.StatusOK, contentType, out.Data)
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.taskManager.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"store":  "disconnected",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "store": "connected"})
}
