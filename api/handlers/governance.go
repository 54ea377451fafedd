package handlers

import (
	"bytes"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/api"
	"github.com/BaSui01/searchflow/governance"
	"github.com/BaSui01/searchflow/rag"
	"github.com/BaSui01/searchflow/types"
)

// =============================================================================
// 🏛️ Governance handler
// =============================================================================

// GovernanceHandler exposes the governance dashboard and its reports.
type GovernanceHandler struct {
	service *governance.Service
	corpus  rag.Corpus
	logger  *zap.Logger
}

// NewGovernanceHandler creates a handler. corpus is scanned by HandleScan.
func NewGovernanceHandler(service *governance.Service, corpus rag.Corpus, logger *zap.Logger) *GovernanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GovernanceHandler{
		service: service,
		corpus:  corpus,
		logger:  logger.With(zap.String("handler", "governance")),
	}
}

// HandleDashboard serves GET /api/v1/governance/dashboard. The snapshot is
// computed on demand and not recorded.
func (h *GovernanceHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Dashboard.Build().Snapshot)
}

// HandleCoverage serves GET /api/v1/governance/coverage.
func (h *GovernanceHandler) HandleCoverage(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Coverage.Report())
}

// HandleSources serves GET /api/v1/governance/sources.
func (h *GovernanceHandler) HandleSources(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Sources.Report())
}

// HandleObsolescence serves GET /api/v1/governance/obsolescence. An optional
// source query parameter narrows the detections to one source.
func (h *GovernanceHandler) HandleObsolescence(w http.ResponseWriter, r *http.Request) {
	if source := r.URL.Query().Get("source"); source != "" {
		WriteSuccess(w, h.service.Detector.BySource(source))
		return
	}
	WriteSuccess(w, h.service.Detector.Report())
}

// HandleExport serves GET /api/v1/governance/export?format=json|markdown|html.
// The body is the raw export, not an envelope.
func (h *GovernanceHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format, err := governance.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		WriteError(w, types.NewInvalidRequestError(err.Error()), h.logger)
		return
	}

	var buf bytes.Buffer
	if err := governance.Export(&buf, h.service.Dashboard.Build(), format); err != nil {
		WriteError(w, types.NewInternalError("governance export failed", err), h.logger)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HandleScan serves POST /api/v1/governance/scan. The whole corpus is
// rescanned and a new snapshot is recorded.
func (h *GovernanceHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	items, err := h.corpus.All(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	detections, err := h.service.Scan(r.Context(), items)
	if err != nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "obsolescence scan aborted").WithCause(err), h.logger)
		return
	}
	report := h.service.Dashboard.Generate(r.Context())

	h.logger.Info("obsolescence scan requested",
		zap.Int("items", len(items)),
		zap.Int("detections", detections),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, api.ScanResult{
		Scanned:    len(items),
		Detections: detections,
		DurationMs: time.Since(start).Milliseconds(),
		Snapshot:   report.Snapshot,
	})
}
