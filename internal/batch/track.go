package batch

import (
	"strconv"
	"strings"
)

// TrackOptions mirrors the pose-tracking tool's command line. Zero values
// are omitted from the argument list; the tool's own defaults then apply.
// Extra carries flags not modeled here verbatim.
type TrackOptions struct {
	ModelPaths []string `json:"model_paths,omitempty"`
	Device     string   `json:"device,omitempty"`
	BatchSize  int      `json:"batch_size,omitempty"`

	MaxInstances       *int     `json:"max_instances,omitempty"`
	Tracking           bool     `json:"tracking,omitempty"`
	PeakThreshold      *float64 `json:"peak_threshold,omitempty"`
	IntegralRefinement string   `json:"integral_refinement,omitempty"`

	BackboneCkptPath string `json:"backbone_ckpt_path,omitempty"`
	HeadCkptPath     string `json:"head_ckpt_path,omitempty"`

	MaxHeight       *int     `json:"max_height,omitempty"`
	MaxWidth        *int     `json:"max_width,omitempty"`
	InputScale      *float64 `json:"input_scale,omitempty"`
	EnsureRGB       bool     `json:"ensure_rgb,omitempty"`
	EnsureGrayscale bool     `json:"ensure_grayscale,omitempty"`
	CropSize        *int     `json:"crop_size,omitempty"`
	AnchorPart      string   `json:"anchor_part,omitempty"`

	OnlyLabeledFrames   bool   `json:"only_labeled_frames,omitempty"`
	OnlySuggestedFrames bool   `json:"only_suggested_frames,omitempty"`
	VideoIndex          *int   `json:"video_index,omitempty"`
	VideoDataset        string `json:"video_dataset,omitempty"`
	VideoInputFormat    string `json:"video_input_format,omitempty"`
	Frames              string `json:"frames,omitempty"`
	NoEmptyFrames       bool   `json:"no_empty_frames,omitempty"`
	QueueMaxsize        *int   `json:"queue_maxsize,omitempty"`

	TrackingWindowSize      *int     `json:"tracking_window_size,omitempty"`
	CandidatesMethod        string   `json:"candidates_method,omitempty"`
	MinNewTrackPoints       *int     `json:"min_new_track_points,omitempty"`
	MinMatchPoints          *int     `json:"min_match_points,omitempty"`
	Features                string   `json:"features,omitempty"`
	ScoringMethod           string   `json:"scoring_method,omitempty"`
	ScoringReduction        string   `json:"scoring_reduction,omitempty"`
	RobustBestInstance      *float64 `json:"robust_best_instance,omitempty"`
	TrackMatchingMethod     string   `json:"track_matching_method,omitempty"`
	MaxTracks               *int     `json:"max_tracks,omitempty"`
	UseFlow                 bool     `json:"use_flow,omitempty"`
	OfImgScale              *float64 `json:"of_img_scale,omitempty"`
	OfWindowSize            *int     `json:"of_window_size,omitempty"`
	OfMaxLevels             *int     `json:"of_max_levels,omitempty"`
	PostConnectSingleBreaks bool     `json:"post_connect_single_breaks,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Args assembles the tool's argument list for one input/output pair. The
// subcommand is not included; resolution decides whether the invoked binary
// needs one.
func (o TrackOptions) Args(dataPath, outputPath string) []string {
	args := []string{"--data_path", dataPath, "--output_path", outputPath}

	if len(o.ModelPaths) > 0 {
		args = append(args, "--model_paths", strings.Join(o.ModelPaths, ","))
	}
	args = appendStr(args, "--device", o.Device)
	if o.BatchSize > 0 {
		args = append(args, "--batch_size", strconv.Itoa(o.BatchSize))
	}
	args = appendIntPtr(args, "--max_instances", o.MaxInstances)
	if o.Tracking {
		args = append(args, "--tracking")
	}
	args = appendFloatPtr(args, "--peak_threshold", o.PeakThreshold)
	args = appendStr(args, "--integral_refinement", o.IntegralRefinement)
	args = appendStr(args, "--backbone_ckpt_path", o.BackboneCkptPath)
	args = appendStr(args, "--head_ckpt_path", o.HeadCkptPath)
	args = appendIntPtr(args, "--max_height", o.MaxHeight)
	args = appendIntPtr(args, "--max_width", o.MaxWidth)
	args = appendFloatPtr(args, "--input_scale", o.InputScale)
	if o.EnsureRGB {
		args = append(args, "--ensure_rgb")
	}
	if o.EnsureGrayscale {
		args = append(args, "--ensure_grayscale")
	}
	args = appendIntPtr(args, "--crop_size", o.CropSize)
	args = appendStr(args, "--anchor_part", o.AnchorPart)
	if o.OnlyLabeledFrames {
		args = append(args, "--only_labeled_frames")
	}
	if o.OnlySuggestedFrames {
		args = append(args, "--only_suggested_frames")
	}
	args = appendIntPtr(args, "--video_index", o.VideoIndex)
	args = appendStr(args, "--video_dataset", o.VideoDataset)
	args = appendStr(args, "--video_input_format", o.VideoInputFormat)
	args = appendStr(args, "--frames", o.Frames)
	if o.NoEmptyFrames {
		args = append(args, "--no_empty_frames")
	}
	args = appendIntPtr(args, "--queue_maxsize", o.QueueMaxsize)
	args = appendIntPtr(args, "--tracking_window_size", o.TrackingWindowSize)
	args = appendStr(args, "--candidates_method", o.CandidatesMethod)
	args = appendIntPtr(args, "--min_new_track_points", o.MinNewTrackPoints)
	args = appendIntPtr(args, "--min_match_points", o.MinMatchPoints)
	args = appendStr(args, "--features", o.Features)
	args = appendStr(args, "--scoring_method", o.ScoringMethod)
	args = appendStr(args, "--scoring_reduction", o.ScoringReduction)
	args = appendFloatPtr(args, "--robust_best_instance", o.RobustBestInstance)
	args = appendStr(args, "--track_matching_method", o.TrackMatchingMethod)
	args = appendIntPtr(args, "--max_tracks", o.MaxTracks)
	if o.UseFlow {
		args = append(args, "--use_flow")
	}
	args = appendFloatPtr(args, "--of_img_scale", o.OfImgScale)
	args = appendIntPtr(args, "--of_window_size", o.OfWindowSize)
	args = appendIntPtr(args, "--of_max_levels", o.OfMaxLevels)
	if o.PostConnectSingleBreaks {
		args = append(args, "--post_connect_single_breaks")
	}

	for flag, value := range o.Extra {
		if !strings.HasPrefix(flag, "--") {
			flag = "--" + flag
		}
		if value == "" {
			args = append(args, flag)
		} else {
			args = append(args, flag, value)
		}
	}
	return args
}

func appendStr(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}

func appendIntPtr(args []string, flag string, value *int) []string {
	if value == nil {
		return args
	}
	return append(args, flag, strconv.Itoa(*value))
}

func appendFloatPtr(args []string, flag string, value *float64) []string {
	if value == nil {
		return args
	}
	return append(args, flag, strconv.FormatFloat(*value, 'g', -1, 64))
}
