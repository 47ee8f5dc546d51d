package remote

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// OutputFile is one produced file reported in a job's history.
type OutputFile struct {
	Filename  string
	Subfolder string
}

// CollectOutputFiles walks a history payload and collects every entry with
// a filename field found under an "outputs" field, partitioned into mp4 and
// wav files (case-insensitive suffix match). The payload may be a single
// history entry or a mapping of prompt id to entry; outputs nest
// arbitrarily deep.
func CollectOutputFiles(payload []byte) (mp4s, wavs []OutputFile) {
	root := gjson.ParseBytes(payload)

	var entries []gjson.Result
	if root.Get("outputs").Exists() {
		entries = append(entries, root)
	} else {
		root.ForEach(func(_, entry gjson.Result) bool {
			entries = append(entries, entry)
			return true
		})
	}

	var items []OutputFile
	for _, entry := range entries {
		outputs := entry.Get("outputs")
		if !outputs.Exists() {
			continue
		}
		collectFileItems(outputs, &items)
	}

	for _, item := range items {
		switch {
		case strings.HasSuffix(strings.ToLower(item.Filename), ".mp4"):
			mp4s = append(mp4s, item)
		case strings.HasSuffix(strings.ToLower(item.Filename), ".wav"):
			wavs = append(wavs, item)
		}
	}
	return mp4s, wavs
}

func collectFileItems(v gjson.Result, items *[]OutputFile) {
	if v.IsObject() {
		if f := v.Get("filename"); f.Exists() {
			*items = append(*items, OutputFile{
				Filename:  f.String(),
				Subfolder: v.Get("subfolder").String(),
			})
		}
		v.ForEach(func(_, child gjson.Result) bool {
			collectFileItems(child, items)
			return true
		})
		return
	}
	if v.IsArray() {
		v.ForEach(func(_, child gjson.Result) bool {
			collectFileItems(child, items)
			return true
		})
	}
}

// ResolveOutputPath maps a reported file to a path on disk: the direct join
// under baseDir first, then the same relative path under each fallback
// root. When nothing exists the direct path is returned as-is.
func ResolveOutputPath(f OutputFile, baseDir string, fallbackRoots []string) string {
	direct := filepath.Join(baseDir, f.Subfolder, f.Filename)
	if pathExists(direct) {
		return direct
	}
	for _, root := range fallbackRoots {
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, baseDir, f.Subfolder, f.Filename)
		if pathExists(candidate) {
			return candidate
		}
	}
	return direct
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
