// Package format maps input file extensions to the output formats they can
// be converted to and the strategy each pairing requires.
package format

import (
	"fmt"
	"strings"
)

// Strategy identifies how a conversion pair is carried out.
type Strategy string

const (
	StrategyDirectFFmpeg Strategy = "direct-ffmpeg"
	StrategyStageTrim    Strategy = "stage-then-trim"
	StrategyImageConvert Strategy = "image-convert"
	StrategyImageToPDF   Strategy = "image-to-pdf"
	StrategyPDFToImage   Strategy = "pdf-to-image"
	StrategyPandocDoc    Strategy = "pandoc-doc"
	StrategyDocxToPDF    Strategy = "docx-pdf"
)

// UnsupportedConversionError reports that no strategy exists for an
// input/output extension pair.
type UnsupportedConversionError struct {
	Input  string
	Output string
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("unsupported conversion: %s to %s", e.Input, e.Output)
}

// ClipUnsupportedError reports a clip request on a pairing the trimming
// pipeline cannot handle.
type ClipUnsupportedError struct {
	Input  string
	Output string
}

func (e *ClipUnsupportedError) Error() string {
	if e.Output == ".gif" {
		return "gif output is not supported for clipping"
	}
	return fmt.Sprintf("clipped output is only supported for .seq, .mp4, or .avi input, not %s", e.Input)
}

// Rules is the immutable mapping from input extension to allowed outputs.
// Extensions include the leading dot and are stored lowercase.
type Rules struct {
	outputs map[string][]string
}

var videoExts = []string{".mp4", ".avi", ".mov", ".mkv"}
var imageExts = []string{".jpg", ".jpeg", ".png", ".tiff", ".bmp"}

// DefaultRules returns the built-in conversion table.
func DefaultRules() Rules {
	out := map[string][]string{
		".seq":  {".mp4", ".avi"},
		".pdf":  {".jpg", ".png", ".docx", ".txt"},
		".docx": {".pdf", ".txt"},
		".txt":  {".pdf", ".docx"},
	}
	for _, v := range videoExts {
		targets := make([]string, 0, len(videoExts))
		for _, t := range videoExts {
			if t != v {
				targets = append(targets, t)
			}
		}
		out[v] = append(targets, ".gif")
	}
	for _, img := range imageExts {
		targets := make([]string, 0, len(imageExts))
		for _, t := range imageExts {
			if t != img {
				targets = append(targets, t)
			}
		}
		out[img] = append(targets, ".pdf")
	}
	return Rules{outputs: out}
}

// Resolver answers output-format and strategy queries against a fixed rule
// table.
type Resolver struct {
	rules Rules
}

func NewResolver(rules Rules) *Resolver {
	return &Resolver{rules: rules}
}

// AllowedOutputs returns the ordered output extensions legal for inputExt,
// or nil if the extension is unknown.
func (r *Resolver) AllowedOutputs(inputExt string) []string {
	targets := r.rules.outputs[normalize(inputExt)]
	if targets == nil {
		return nil
	}
	out := make([]string, len(targets))
	copy(out, targets)
	return out
}

// StrategyFor picks the strategy for converting inputExt to outputExt. The
// clip flag selects the frame-accurate staging path for video sources.
func (r *Resolver) StrategyFor(inputExt, outputExt string, clip bool) (Strategy, error) {
	in := normalize(inputExt)
	out := normalize(outputExt)

	if clip {
		if in != ".seq" && in != ".mp4" && in != ".avi" {
			return "", &ClipUnsupportedError{Input: in, Output: out}
		}
		if out == ".gif" {
			return "", &ClipUnsupportedError{Input: in, Output: out}
		}
	}

	allowed := false
	for _, t := range r.rules.outputs[in] {
		if t == out {
			allowed = true
			break
		}
	}
	if allowed {
		switch {
		case in == ".seq" || isVideo(in):
			if clip {
				return StrategyStageTrim, nil
			}
			return StrategyDirectFFmpeg, nil
		case isImage(in):
			if out == ".pdf" {
				return StrategyImageToPDF, nil
			}
			return StrategyImageConvert, nil
		case in == ".pdf":
			if isImage(out) {
				return StrategyPDFToImage, nil
			}
			return StrategyPandocDoc, nil
		case in == ".docx":
			if out == ".pdf" {
				return StrategyDocxToPDF, nil
			}
			return StrategyPandocDoc, nil
		case in == ".txt":
			return StrategyPandocDoc, nil
		}
	}

	// Uncovered pairs still go through ffmpeg when both sides are media.
	// Same-extension clip jobs land here too and still need staging.
	if isMedia(in) && isMedia(out) {
		if clip {
			return StrategyStageTrim, nil
		}
		return StrategyDirectFFmpeg, nil
	}
	return "", &UnsupportedConversionError{Input: in, Output: out}
}

func normalize(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func isVideo(ext string) bool {
	for _, v := range videoExts {
		if v == ext {
			return true
		}
	}
	return false
}

func isImage(ext string) bool {
	for _, v := range imageExts {
		if v == ext {
			return true
		}
	}
	return false
}

func isMedia(ext string) bool {
	return isVideo(ext) || isImage(ext) || ext == ".gif" || ext == ".seq"
}
