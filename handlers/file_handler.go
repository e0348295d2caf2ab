package handlers

import (
	"fmt"
	"log"
	"net/http"

	"policychat-backend/parser"
	"policychat-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FileHandler handles HTTP requests for file operations
type FileHandler struct {
	ingest      *service.IngestService
	parser      *parser.TextParser
	maxFileSize int64
}

// NewFileHandler creates a new file handler
func NewFileHandler(ingest *service.IngestService, p *parser.TextParser) *FileHandler {
	return &FileHandler{
		ingest:      ingest,
		parser:      p,
		maxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// UploadFile handles POST /api/files/upload
func (h *FileHandler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "File is required",
			},
		})
		return
	}

	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize),
			},
		})
		return
	}

	if !h.parser.Supported(fileHeader.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FILE_TYPE",
				"message": "File type not allowed. Allowed types: TXT, MD, CSV, LOG",
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_OPEN_ERROR",
				"message": err.Error(),
			},
		})
		return
	}
	defer file.Close()

	record, err := h.ingest.ProcessAndStore(c.Request.Context(), file, fileHeader.Filename)
	if err != nil {
		log.Printf("Failed to ingest %s: %v", fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INGESTION_FAILED",
				"message": fmt.Sprintf("Failed to process file: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    record,
	})
}

// ListFiles handles GET /api/files
func (h *FileHandler) ListFiles(c *gin.Context) {
	records, err := h.ingest.ListFiles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": fmt.Sprintf("Failed to list files: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
	})
}

// DeleteFile handles DELETE /api/files/:id
func (h *FileHandler) DeleteFile(c *gin.Context) {
	fileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid file ID format",
			},
		})
		return
	}

	if err := h.ingest.DeleteFile(c.Request.Context(), fileID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DELETE_FAILED",
				"message": fmt.Sprintf("Failed to delete file: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"message": "File deleted",
		},
	})
}
