package api

import (
	"github.com/NIEHS/MOUSE-TRAP/internal/batch"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State     string `json:"state"` // idle | converting | batch
	RunID     string `json:"run_id,omitempty"`
	WSClients int    `json:"ws_clients"`
}

type FormatsResponse struct {
	Input   string   `json:"input"`
	Outputs []string `json:"outputs"`
}

type IntervalRequest struct {
	Name  string `json:"name"`
	Enter *int   `json:"enter"`
	Exit  *int   `json:"exit"`
}

type ValidateRequest struct {
	Intervals []IntervalRequest `json:"intervals"`
}

type ValidateResponse struct {
	Valid     bool     `json:"valid"`
	Kind      string   `json:"kind,omitempty"`
	Intervals []string `json:"intervals,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

type ConvertRequest struct {
	Sources        []string `json:"sources"`
	OutputExt      string   `json:"output_ext"`
	OutputDir      string   `json:"output_dir,omitempty"`
	Clip           bool     `json:"clip,omitempty"`
	ClipExt        string   `json:"clip_ext,omitempty"`
	PromptPerFile  bool     `json:"prompt_per_file,omitempty"`
	AbortOnFailure bool     `json:"abort_on_failure,omitempty"`

	// Intervals maps a source file stem to its annotation intervals.
	Intervals map[string][]IntervalRequest `json:"intervals,omitempty"`
	// AnnotationsCSV optionally carries a whole annotation sheet; intervals
	// for each source are looked up by file name.
	AnnotationsCSV string `json:"annotations_csv,omitempty"`
}

type InferenceRequest struct {
	VideosRoot      string             `json:"videos_root"`
	PredictionsRoot string             `json:"predictions_root"`
	StatusLog       string             `json:"status_log,omitempty"`
	Recurse         bool               `json:"recurse,omitempty"`
	SkipIfLastOK    bool               `json:"skip_if_last_ok,omitempty"`
	Track           batch.TrackOptions `json:"track,omitempty"`
}

type LabelerRequest struct {
	File string `json:"file,omitempty"`
}

type RunStartedResponse struct {
	RunID string `json:"run_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
