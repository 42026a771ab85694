package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NIEHS/MOUSE-TRAP/internal/annotation"
	"github.com/NIEHS/MOUSE-TRAP/internal/batch"
	"github.com/NIEHS/MOUSE-TRAP/internal/config"
	"github.com/NIEHS/MOUSE-TRAP/internal/convert"
	"github.com/NIEHS/MOUSE-TRAP/internal/format"
	"github.com/NIEHS/MOUSE-TRAP/internal/history"
	"github.com/NIEHS/MOUSE-TRAP/internal/logging"
	"github.com/NIEHS/MOUSE-TRAP/internal/proc"
)

const defaultStatusLogName = "batch_status.tsv"

// RouterConfig carries the dependencies the HTTP handlers need.
type RouterConfig struct {
	Resolver     *format.Resolver
	Orchestrator *convert.Orchestrator
	ProcRunner   proc.Runner
	History      *history.Repository
	Hub          *Hub
	Worker       *Worker
	CondaEnv     string
	Logger       *slog.Logger
	StartTime    time.Time
}

func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	h := &handlers{cfg: cfg}

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Get("/formats", h.formats)
	r.Post("/annotations/validate", h.validateAnnotations)
	r.Post("/convert", h.startConvert)
	r.Post("/inference", h.startInference)
	r.Post("/labeler", h.launchLabeler)
	r.Post("/cancel", h.cancelRun)
	r.Get("/runs", h.listRuns)
	r.Get("/runs/{id}", h.getRun)
	r.Get("/ws", cfg.Hub.Handle)

	return r
}

type handlers struct {
	cfg RouterConfig
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: config.Version,
		UptimeS: int64(time.Since(h.cfg.StartTime).Seconds()),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	state, runID := h.cfg.Worker.Status()
	if state == "" {
		state = "idle"
	}
	WriteJSON(w, http.StatusOK, StatusResponse{
		State:     state,
		RunID:     runID,
		WSClients: h.cfg.Hub.ClientCount(),
	})
}

func (h *handlers) formats(w http.ResponseWriter, r *http.Request) {
	input := r.URL.Query().Get("input")
	if input == "" {
		WriteError(w, http.StatusBadRequest, "input query parameter is required", "BAD_REQUEST")
		return
	}
	outputs := h.cfg.Resolver.AllowedOutputs(input)
	if outputs == nil {
		WriteError(w, http.StatusNotFound, "no conversions available for "+input, "UNSUPPORTED")
		return
	}
	WriteJSON(w, http.StatusOK, FormatsResponse{Input: strings.ToLower(input), Outputs: outputs})
}

func tableFromRequest(intervals []IntervalRequest) *annotation.Table {
	tbl := annotation.NewTable()
	for _, iv := range intervals {
		if iv.Enter != nil {
			tbl.SetEnter(iv.Name, *iv.Enter)
		}
		if iv.Exit != nil {
			tbl.SetExit(iv.Name, *iv.Exit)
		}
	}
	return tbl
}

func (h *handlers) validateAnnotations(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	err := tableFromRequest(req.Intervals).Validate()
	if err == nil {
		WriteJSON(w, http.StatusOK, ValidateResponse{Valid: true})
		return
	}
	var ve *annotation.ValidationError
	if errors.As(err, &ve) {
		WriteJSON(w, http.StatusOK, ValidateResponse{
			Valid:     false,
			Kind:      string(ve.Kind),
			Intervals: ve.Intervals,
			Detail:    ve.Detail,
		})
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}

func (h *handlers) startConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if len(req.Sources) == 0 || req.OutputExt == "" {
		WriteError(w, http.StatusBadRequest, "sources and output_ext are required", "BAD_REQUEST")
		return
	}

	tables := map[string]*annotation.Table{}
	for stem, ivs := range req.Intervals {
		tables[stem] = tableFromRequest(ivs)
	}

	var tasks []convert.Task
	type buildFailure struct {
		source string
		reason string
	}
	var failures []buildFailure
	for _, source := range req.Sources {
		task, err := convert.NewTask(h.cfg.Resolver, source, req.OutputExt, req.OutputDir, req.Clip)
		if err != nil {
			failures = append(failures, buildFailure{source: source, reason: err.Error()})
			continue
		}
		if req.AnnotationsCSV != "" && tables[task.Stem()] == nil {
			tbl := annotation.NewTable()
			res, err := annotation.ImportFromCSV(tbl, strings.NewReader(req.AnnotationsCSV), filepath.Base(source))
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "CSV_HEADER_INVALID")
				return
			}
			if res.Imported > 0 {
				tables[task.Stem()] = tbl
			}
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 && len(failures) > 0 {
		WriteError(w, http.StatusUnprocessableEntity, failures[0].reason, "UNSUPPORTED_CONVERSION")
		return
	}

	runID, err := h.cfg.History.CreateRun(r.Context(), history.KindConvert, len(tasks)+len(failures))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}

	opts := convert.Options{
		Clip:           req.Clip,
		ClipExt:        req.ClipExt,
		PromptPerFile:  req.PromptPerFile,
		OutputDir:      req.OutputDir,
		AbortOnFailure: req.AbortOnFailure,
		Annotations:    tables,
	}

	runLog := logging.WithRunID(h.cfg.Logger, runID)
	startErr := h.cfg.Worker.Start("converting", runID, func(ctx context.Context) {
		for _, f := range failures {
			h.recordItem(runID, f.source, "", string(convert.StatusFailed), f.reason)
		}

		var decide convert.DecideFunc
		if req.PromptPerFile {
			decide = h.cfg.Hub.Decide
		}
		outcomes := h.cfg.Orchestrator.Run(ctx, tasks, opts, func(e convert.Event) {
			h.cfg.Hub.Broadcast("convert_event", e)
		}, decide)

		status := history.RunCompleted
		for _, out := range outcomes {
			h.recordItem(runID, out.Task.Source, out.Task.Target, string(out.Status), out.Message)
			if out.Status == convert.StatusCancelled {
				status = history.RunCancelled
			}
		}
		if err := h.cfg.History.FinishRun(context.Background(), runID, status, ""); err != nil {
			runLog.Error("cannot finish run", "error", err)
		}
		h.cfg.Hub.Broadcast("run_finished", map[string]string{"run_id": runID, "status": string(status)})
	})
	if startErr != nil {
		h.cfg.History.FinishRun(r.Context(), runID, history.RunFailed, startErr.Error())
		WriteError(w, http.StatusConflict, startErr.Error(), "BUSY")
		return
	}

	WriteJSON(w, http.StatusAccepted, RunStartedResponse{RunID: runID})
}

func (h *handlers) startInference(w http.ResponseWriter, r *http.Request) {
	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if req.VideosRoot == "" || req.PredictionsRoot == "" {
		WriteError(w, http.StatusBadRequest, "videos_root and predictions_root are required", "BAD_REQUEST")
		return
	}

	logPath := req.StatusLog
	if logPath == "" {
		logPath = filepath.Join(req.PredictionsRoot, defaultStatusLogName)
	}

	runID, err := h.cfg.History.CreateRun(r.Context(), history.KindBatch, 0)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	runLog := logging.WithRunID(h.cfg.Logger, runID)
	runner := batch.NewRunner(h.cfg.ProcRunner, batch.NewStatusLog(logPath), h.cfg.CondaEnv, runLog)

	opts := batch.Options{
		Recurse:      req.Recurse,
		SkipIfLastOK: req.SkipIfLastOK,
		Track:        req.Track,
	}

	startErr := h.cfg.Worker.Start("batch", runID, func(ctx context.Context) {
		outcomes, runErr := runner.Run(ctx, req.VideosRoot, req.PredictionsRoot, opts, func(e batch.Event) {
			h.cfg.Hub.Broadcast("batch_event", e)
		})

		status := history.RunCompleted
		var errMsg string
		if runErr != nil {
			status = history.RunFailed
			errMsg = runErr.Error()
		}
		for _, out := range outcomes {
			h.recordItem(runID, out.Item.RelPath, out.Item.Output, string(out.Status), out.Message)
			if out.Status == batch.ItemCancelled {
				status = history.RunCancelled
			}
		}
		if err := h.cfg.History.FinishRun(context.Background(), runID, status, errMsg); err != nil {
			runLog.Error("cannot finish run", "error", err)
		}
		h.cfg.Hub.Broadcast("run_finished", map[string]string{"run_id": runID, "status": string(status)})
	})
	if startErr != nil {
		h.cfg.History.FinishRun(r.Context(), runID, history.RunFailed, startErr.Error())
		WriteError(w, http.StatusConflict, startErr.Error(), "BUSY")
		return
	}

	WriteJSON(w, http.StatusAccepted, RunStartedResponse{RunID: runID})
}

func (h *handlers) recordItem(runID, source, target, status, message string) {
	if err := h.cfg.History.AddItem(context.Background(), runID, source, target, status, message); err != nil {
		h.cfg.Logger.Error("cannot record run item", "run_id", runID, "source", source, "error", err)
	}
}

func (h *handlers) launchLabeler(w http.ResponseWriter, r *http.Request) {
	var req LabelerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
	}

	onLine := func(line string) {
		h.cfg.Hub.Broadcast("labeler_event", map[string]string{"line": line})
	}
	if err := batch.LaunchLabeler(h.cfg.CondaEnv, req.File, os.Getenv, exec.LookPath, h.cfg.Logger, onLine); err != nil {
		WriteError(w, http.StatusFailedDependency, err.Error(), "TOOL_NOT_FOUND")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Worker.Cancel() {
		WriteError(w, http.StatusConflict, "no run in progress", "NOT_RUNNING")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.cfg.History.ListRuns(r.Context(), 50)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, items, err := h.cfg.History.GetRun(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	if items == nil {
		items = []history.Item{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"run": run, "items": items})
}
