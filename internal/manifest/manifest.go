// Package manifest detects the front-end framework declared by a package.json
// and rewrites the manifest so the built assets resolve relative to any prefix.
//
// Detect and Apply are pure: they never touch the filesystem and never mutate
// their input. Load and Save form the effect boundary used by the pipeline.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// FileName is the manifest file looked up in the repository root.
const FileName = "package.json"

// Framework identifies the front-end toolchain found in a manifest.
type Framework string

const (
	FrameworkNone           Framework = "none"
	FrameworkCreateReactApp Framework = "create-react-app"
	FrameworkVite           Framework = "vite"
)

const (
	craDependency  = "react-scripts"
	viteDependency = "vite"
	viteBuild      = "vite build"
	viteBuildBase  = "vite build --base=./"
)

// Manifest is a parsed package.json. Members other than the ones read here are
// carried through unchanged and in their original order.
type Manifest struct {
	root *object
}

// Parse decodes a package.json document.
func Parse(data []byte) (*Manifest, error) {
	root, err := parseObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	return &Manifest{root: root}, nil
}

// Dependencies returns dependencies merged with devDependencies; a name present
// in both resolves to the devDependencies entry.
func (m *Manifest) Dependencies() map[string]string {
	out := map[string]string{}
	for k, v := range m.root.stringMap("dependencies") {
		out[k] = v
	}
	for k, v := range m.root.stringMap("devDependencies") {
		out[k] = v
	}
	return out
}

// Scripts returns the scripts member, or nil when absent.
func (m *Manifest) Scripts() map[string]string {
	return m.root.stringMap("scripts")
}

// Homepage returns the homepage member and whether it is a string.
func (m *Manifest) Homepage() (string, bool) {
	raw, ok := m.root.get("homepage")
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Raw returns the undecoded JSON for a top-level member.
func (m *Manifest) Raw(key string) (json.RawMessage, bool) {
	return m.root.get(key)
}

// Marshal encodes the manifest with two-space indentation.
func (m *Manifest) Marshal() ([]byte, error) {
	compact, err := m.root.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (m *Manifest) clone() *Manifest {
	return &Manifest{root: m.root.clone()}
}

// Detect reports the framework declared by the manifest. Create React App wins
// when both toolchains are present.
func Detect(m *Manifest) Framework {
	deps := m.Dependencies()
	switch {
	case declared(deps, craDependency):
		return FrameworkCreateReactApp
	case declared(deps, viteDependency):
		return FrameworkVite
	default:
		return FrameworkNone
	}
}

func declared(deps map[string]string, name string) bool {
	v, ok := deps[name]
	return ok && v != "" && v != "null" && v != "false"
}

// Apply returns a copy of m with the relative-base rewrite for fw and whether
// anything changed. At most one rule applies per call.
func Apply(m *Manifest, fw Framework) (*Manifest, bool, error) {
	switch fw {
	case FrameworkCreateReactApp:
		return applyHomepage(m)
	case FrameworkVite:
		return applyViteBase(m)
	default:
		return m, false, nil
	}
}

func applyHomepage(m *Manifest) (*Manifest, bool, error) {
	if hp, ok := m.Homepage(); ok && hp == "." {
		return m, false, nil
	}
	out := m.clone()
	out.root.set("homepage", json.RawMessage(`"."`))
	return out, true, nil
}

func applyViteBase(m *Manifest) (*Manifest, bool, error) {
	build, ok := m.Scripts()["build"]
	if !ok || !strings.Contains(build, viteBuild) || strings.Contains(build, viteBuildBase) {
		return m, false, nil
	}

	raw, _ := m.root.get("scripts")
	scripts, err := parseObject(raw)
	if err != nil {
		return nil, false, fmt.Errorf("scripts: %w", err)
	}
	value, err := encodeString(strings.Replace(build, viteBuild, viteBuildBase, 1))
	if err != nil {
		return nil, false, err
	}
	scripts.set("build", value)
	encoded, err := scripts.MarshalJSON()
	if err != nil {
		return nil, false, err
	}

	out := m.clone()
	out.root.set("scripts", encoded)
	return out, true, nil
}

// Load reads the manifest from path. A missing file returns os.ErrNotExist.
func Load(path string) (*Manifest, error) {
	// #nosec G304 - path is inside the job workspace
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Save writes m to path, keeping the existing file mode when there is one.
func Save(path string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", FileName, err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, data, mode)
}
