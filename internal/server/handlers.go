package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/service"
)

// SourceList accepts either a single source name or a list of names.
type SourceList []string

func (s *SourceList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = SourceList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("file must be a string or a list of strings")
	}
	*s = many
	return nil
}

type QueryRequest struct {
	Model   string     `json:"model"`
	Message string     `json:"message"`
	File    SourceList `json:"file"`
	Stream  bool       `json:"stream"`
}

// UploadSummary is returned when a request carries more than one file.
type UploadSummary struct {
	Status      string               `json:"status"`
	FileCount   int                  `json:"file_count"`
	TotalChunks int                  `json:"total_chunks"`
	Files       []service.FileResult `json:"files"`
}

// handleUpload reads every file part into memory and validates all of them
// before anything is written to the index.
func (s *Server) handleUpload(c *gin.Context) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		respondError(c, domain.Errorf(domain.KindInvalidRequest, "expected a multipart/form-data body with a %q field", "files"))
		return
	}
	var docs []domain.Document
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(c, domain.Wrap(domain.KindInvalidRequest, err, "malformed multipart body"))
			return
		}
		field := part.FormName()
		if (field != "files" && field != "file") || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		doc, err := s.loader.Read(part.FileName(), 0, part)
		_ = part.Close()
		if err != nil {
			respondError(c, err)
			return
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		respondError(c, domain.Errorf(domain.KindInvalidRequest, "no files uploaded"))
		return
	}

	results, err := s.svc.Ingest(c.Request.Context(), docs)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(results) == 1 {
		c.JSON(http.StatusOK, results[0])
		return
	}
	total := 0
	for _, r := range results {
		total += r.ChunkCount
	}
	c.JSON(http.StatusOK, UploadSummary{
		Status:      "success",
		FileCount:   len(results),
		TotalChunks: total,
		Files:       results,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var body QueryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.Errorf(domain.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	ctx := c.Request.Context()
	req := service.QueryRequest{Model: body.Model, Message: body.Message, Sources: body.File}

	if !body.Stream {
		answer, err := s.svc.Answer(ctx, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, answer)
		return
	}

	prep, err := s.svc.Prepare(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err = s.svc.StreamPrepared(ctx, prep, func(e service.Event) error {
		return writeEvent(c.Writer, e)
	})
	if err != nil {
		_ = c.Error(err)
		logger.FromContext(ctx).Debug("stream ended early", "error", err)
	}
}

func writeEvent(w gin.ResponseWriter, e service.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.svc.Models()})
}

func (s *Server) handleListSources(c *gin.Context) {
	entries, err := s.svc.ListSources(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.SourceEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": entries})
}

func (s *Server) handleDeleteSource(c *gin.Context) {
	name := c.Param("name")
	removed, err := s.svc.DeleteSource(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "source": name, "chunks_removed": removed})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
