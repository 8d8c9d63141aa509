package api

import (
	"errors"
	"fmt"
	"net/http"

	"p2v/server/internal/storage"

	"github.com/gin-gonic/gin"
)

func (s *Server) downloadFile(c *gin.Context) {
	category := c.Param("category")
	name := c.Param("name")

	path, size, err := s.files.Open(category, name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidCategory):
			writeError(c, http.StatusBadRequest, "INVALID_CATEGORY", "Unknown file category", false, map[string]any{"category": category})
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found", false, nil)
		default:
			writeError(c, http.StatusInternalServerError, "FILE_READ_FAILED", "Failed to read file", true, nil)
		}
		return
	}

	c.Header("Content-Type", storage.MimeType(name))
	c.Header("Content-Length", fmt.Sprintf("%d", size))
	c.File(path)
}
