package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"
	"github.com/tidwall/jsonc"

	"github.com/crash-analysis/internal/storage"
	"github.com/crash-analysis/internal/symbols"
	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/model"
)

const (
	maxExtraSize    = 4 << 20
	maxReportSize   = 64 << 20
	defaultFindSize = 20
	maxFindSize     = 100
)

func (s *Server) submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		fail(c, http.StatusBadRequest, "expected a multipart form")
		return
	}
	dumps := form.File[FieldMinidump]
	if len(dumps) == 0 {
		fail(c, http.StatusBadRequest, "missing "+FieldMinidump)
		return
	}
	annotations, extra, err := extraDocument(form)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	id := uuid.NewV4().String()
	task := model.NewCrashTask(id, id+"/minidump.dmp", model.ParsePlatform(firstOf(annotations, "platform", "Platform")))
	task.Product = firstOf(annotations, "ProductName", "product")
	task.Version = firstOf(annotations, "Version", "version")
	task.ReleaseChannel = firstOf(annotations, "ReleaseChannel", "release_channel")
	task.Options.AllThreads, _ = strconv.ParseBool(c.Query("all_threads"))
	task.Options.Priority, _ = strconv.ParseBool(c.Query("priority"))
	log := s.logger.WithField("uuid", id)

	if err := s.store(c, task.DumpKey, dumps[0]); err != nil {
		log.Error("Failed to store minidump: %v", err)
		fail(c, http.StatusInternalServerError, "failed to store minidump")
		return
	}
	task.ExtraKey = id + "/crash.extra"
	if err := s.storage.Upload(ctx, task.ExtraKey, bytes.NewReader(extra)); err != nil {
		log.Error("Failed to store extra document: %v", err)
		fail(c, http.StatusInternalServerError, "failed to store extra document")
		return
	}
	if err := s.repos.Task.CreateTask(ctx, task); err != nil {
		log.Error("Failed to create task: %v", err)
		fail(c, http.StatusInternalServerError, "failed to queue crash")
		return
	}

	log.Info("Accepted %s crash from %s %s", task.Platform, task.Product, task.Version)
	c.JSON(http.StatusOK, reply{Status: "success", ID: id})
}

func (s *Server) store(c *gin.Context, key string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	return s.storage.Upload(c.Request.Context(), key, f)
}

// extraDocument returns the sidecar document of an upload: the "extra"
// file when present (JSON with comments allowed), otherwise an object of
// the form's text fields.
func extraDocument(form *multipart.Form) (map[string]any, []byte, error) {
	if files := form.File[FieldExtra]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxExtraSize+1))
		if err != nil {
			return nil, nil, err
		}
		if len(data) > maxExtraSize {
			return nil, nil, fmt.Errorf("%s exceeds %d bytes", FieldExtra, maxExtraSize)
		}
		var doc map[string]any
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil || doc == nil {
			return nil, nil, fmt.Errorf("%s must be a JSON object", FieldExtra)
		}
		return doc, data, nil
	}

	doc := make(map[string]any, len(form.Value))
	for k, v := range form.Value {
		if len(v) > 0 {
			doc[k] = v[0]
		}
	}
	data, err := json.Marshal(doc)
	return doc, data, err
}

func firstOf(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) uploadSymbols(c *gin.Context) {
	if s.cfg.SymbolsDir == "" {
		fail(c, http.StatusServiceUnavailable, "symbol uploads are disabled")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize)
	fh, err := c.FormFile(FieldSymbol)
	if err != nil {
		fail(c, http.StatusBadRequest, "missing "+FieldSymbol)
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable "+FieldSymbol)
		return
	}
	defer f.Close()

	path, err := symbols.Install(s.cfg.SymbolsDir, f)
	switch {
	case errors.Is(err, symbols.ErrNotSymbolFile):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to install symbols %s: %v", fh.Filename, err)
		fail(c, http.StatusInternalServerError, "failed to install symbols")
		return
	}
	rel, _ := filepath.Rel(s.cfg.SymbolsDir, path)
	s.logger.Info("Installed symbols %s", rel)
	c.JSON(http.StatusOK, reply{Status: "success", ID: filepath.ToSlash(rel)})
}

type crashView struct {
	Task   *model.CrashTask   `json:"task"`
	Report *model.CrashReport `json:"report,omitempty"`
}

func (s *Server) getCrash(c *gin.Context) {
	ctx := c.Request.Context()
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}
	view := crashView{Task: task}
	rec, err := s.repos.Report.GetReportByTaskUUID(ctx, task.TaskUUID)
	switch {
	case err == nil:
		view.Report = rec
	case !errors.Is(err, apperrors.ErrNotFound):
		s.logger.Error("Failed to load report of %s: %v", task.TaskUUID, err)
		fail(c, http.StatusInternalServerError, "failed to load report")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getReport(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}
	if task.ResultFile == "" {
		fail(c, http.StatusNotFound, "report is not available, task is "+task.AnalysisStatus.String())
		return
	}
	data, err := storage.ReadAll(c.Request.Context(), s.storage, task.ResultFile, maxReportSize)
	if err != nil {
		s.logger.Error("Failed to read report %s: %v", task.ResultFile, err)
		fail(c, http.StatusInternalServerError, "failed to read report")
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) findByFingerprint(c *gin.Context) {
	limit := defaultFindSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxFindSize)
	}
	reports, err := s.repos.Report.FindByFingerprint(c.Request.Context(), c.Param("fingerprint"), limit)
	if err != nil {
		s.logger.Error("Fingerprint query failed: %v", err)
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) lookupTask(c *gin.Context) (*model.CrashTask, bool) {
	task, err := s.repos.Task.GetTaskByUUID(c.Request.Context(), c.Param("uuid"))
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		fail(c, http.StatusNotFound, "unknown crash")
		return nil, false
	case err != nil:
		s.logger.Error("Failed to load task: %v", err)
		fail(c, http.StatusInternalServerError, "failed to load task")
		return nil, false
	}
	return task, true
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			fail(c, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, reply{Status: "ok"})
}
