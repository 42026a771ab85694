package batch

import (
	"context"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// frameCacheSuffix marks directories of extracted frames; everything under
// such a directory is pruned from discovery.
const frameCacheSuffix = "_frames"

// predictionsExt is appended to the sanitized relative path to form an
// item's output file name.
const predictionsExt = ".predictions.slp"

var videoFileExts = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
	".h5":  true,
}

// Item is one planned inference input.
type Item struct {
	Path    string `json:"path"`     // absolute source path
	RelPath string `json:"rel_path"` // relative to the videos root; status-log key
	Output  string `json:"output"`   // predictions file path
}

var unsafePathChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// sanitizeRel flattens a relative path into a single safe file name usable
// on any filesystem.
func sanitizeRel(rel string) string {
	rel = filepath.ToSlash(rel)
	return unsafePathChars.ReplaceAllString(rel, "_")
}

// OutputPath computes where an item's predictions land under
// predictionsRoot.
func OutputPath(predictionsRoot, rel string) string {
	return filepath.Join(predictionsRoot, sanitizeRel(rel)+predictionsExt)
}

// Discover walks videosRoot collecting video files. Directories named with
// the frame-cache suffix are skipped entirely. Unreadable entries are
// tolerated and skipped. With recurse off only the root's immediate files
// are considered.
func Discover(ctx context.Context, videosRoot, predictionsRoot string, recurse bool) ([]Item, error) {
	var items []Item
	err := filepath.WalkDir(videosRoot, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // tolerate unreadable entries
		}
		if d.IsDir() {
			if path == videosRoot {
				return nil
			}
			if strings.HasSuffix(d.Name(), frameCacheSuffix) || !recurse {
				return fs.SkipDir
			}
			return nil
		}
		if !videoFileExts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		rel, relErr := filepath.Rel(videosRoot, path)
		if relErr != nil {
			return nil
		}
		items = append(items, Item{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Output:  OutputPath(predictionsRoot, rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
