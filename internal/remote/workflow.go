// Package remote drives a ComfyUI-compatible generation service over HTTP:
// it loads and rewrites workflow prompts, discovers a reachable endpoint,
// submits jobs and polls their history for produced files.
package remote

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

//go:embed workflows/default_workflow.json
var defaultWorkflow []byte

// frame-count input names recognised across sampler node variants
var frameCountInputs = []string{"num_frames", "frames_number", "length"}

// LoadWorkflow resolves a workflow prompt from the first available source:
// inline JSON text, an explicit file path, the agent-configured default
// path, then the bundled template. The returned bytes are the prompt
// object itself, unwrapped from any {"prompt": ...} envelope.
func LoadWorkflow(text, path, defaultPath string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text != "" {
		if !gjson.Valid(text) {
			return nil, errors.New("workflow text is not valid JSON")
		}
		return ExtractPrompt([]byte(text))
	}

	for _, p := range []string{strings.TrimSpace(path), strings.TrimSpace(defaultPath)} {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("workflow JSON not found: %s", p)
		}
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("workflow JSON is not valid JSON: %s", p)
		}
		return ExtractPrompt(data)
	}

	return ExtractPrompt(defaultWorkflow)
}

// ExtractPrompt unwraps a workflow document into its prompt object: either
// the value of a top-level "prompt" field, or the document itself when
// every top-level entry is a node definition carrying a class_type tag.
func ExtractPrompt(data []byte) ([]byte, error) {
	root := gjson.ParseBytes(data)
	if p := root.Get("prompt"); p.Exists() && p.IsObject() {
		return []byte(p.Raw), nil
	}
	if looksLikePrompt(root) {
		return data, nil
	}
	return nil, errors.New("workflow JSON does not look like a generation prompt; export the job description from the service and pass its JSON")
}

// looksLikePrompt reports whether every top-level entry is an object with a
// class_type tag, which distinguishes a prompt from arbitrary JSON.
func looksLikePrompt(root gjson.Result) bool {
	if !root.IsObject() {
		return false
	}
	size := 0
	ok := true
	root.ForEach(func(_, node gjson.Result) bool {
		size++
		if !node.IsObject() || !node.Get("class_type").Exists() {
			ok = false
			return false
		}
		return true
	})
	return ok && size > 0
}

// UpdateInputs rewrites seed, fps/frame_rate and frame-count inputs on
// every node that exposes them. frame_rate keeps the numeric flavour of
// the existing value so the service's own validation stays happy.
func UpdateInputs(prompt []byte, seed int64, fps, frames int) ([]byte, error) {
	var err error
	gjson.ParseBytes(prompt).ForEach(func(id, node gjson.Result) bool {
		inputs := node.Get("inputs")
		if !inputs.IsObject() {
			return true
		}
		base := escapeKey(id.String()) + ".inputs."

		if inputs.Get("seed").Exists() {
			if prompt, err = sjson.SetBytes(prompt, base+"seed", seed); err != nil {
				return false
			}
		}
		if inputs.Get("fps").Exists() {
			if prompt, err = sjson.SetBytes(prompt, base+"fps", fps); err != nil {
				return false
			}
		}
		if fr := inputs.Get("frame_rate"); fr.Exists() {
			var value any = fps
			if isFloatLiteral(fr) {
				value = float64(fps)
			}
			if prompt, err = sjson.SetBytes(prompt, base+"frame_rate", value); err != nil {
				return false
			}
		}
		for _, name := range frameCountInputs {
			if inputs.Get(name).Exists() {
				if prompt, err = sjson.SetBytes(prompt, base+name, frames); err != nil {
					return false
				}
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite prompt inputs: %w", err)
	}
	return prompt, nil
}

// UpdateSaveNodes rewrites output nodes (class_type containing "SaveVideo")
// so the produced file is named {basename}_chunk{index:04d} in mp4 format.
// When onlyNodeID is set, only that node is rewritten; its absence from the
// prompt is a configuration error.
func UpdateSaveNodes(prompt []byte, basename string, index int, onlyNodeID string) ([]byte, error) {
	onlyNodeID = strings.TrimSpace(onlyNodeID)
	root := gjson.ParseBytes(prompt)
	if onlyNodeID != "" && !root.Get(escapeKey(onlyNodeID)).Exists() {
		return nil, fmt.Errorf("save node %q not found in workflow prompt", onlyNodeID)
	}

	prefix := fmt.Sprintf("%s_chunk%04d", basename, index)
	var err error
	root.ForEach(func(id, node gjson.Result) bool {
		if onlyNodeID != "" && id.String() != onlyNodeID {
			return true
		}
		if !strings.Contains(node.Get("class_type").String(), "SaveVideo") {
			return true
		}
		base := escapeKey(id.String()) + ".inputs."
		if prompt, err = sjson.SetBytes(prompt, base+"filename_prefix", prefix); err != nil {
			return false
		}
		if node.Get("inputs.format").Exists() {
			if prompt, err = sjson.SetBytes(prompt, base+"format", "mp4"); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite save nodes: %w", err)
	}
	return prompt, nil
}

// isFloatLiteral reports whether a numeric JSON value was written with a
// fractional or exponent part.
func isFloatLiteral(v gjson.Result) bool {
	return strings.ContainsAny(v.Raw, ".eE")
}

// escapeKey escapes a node id for use in a gjson/sjson path.
func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}
