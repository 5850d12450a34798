package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Environment is the explicit execution context handed to tool adapters.
//
// Adapters must not consult the process working directory or environment;
// everything they may observe is carried here.
type Environment struct {
	// WorkDir is the absolute directory tools run in.
	WorkDir string

	// Vars is the complete environment visible to spawned tools.
	Vars map[string]string
}

// Resolve makes p absolute relative to WorkDir.
func (e Environment) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.WorkDir, p)
}

// List returns Vars as sorted KEY=VALUE pairs.
func (e Environment) List() []string {
	out := make([]string, 0, len(e.Vars))
	for k, v := range e.Vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// LookPath resolves an executable name against the PATH in Vars only.
// Names containing a separator are resolved against WorkDir instead.
func (e Environment) LookPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty executable name")
	}
	if strings.ContainsRune(name, filepath.Separator) {
		p := e.Resolve(name)
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("executable %q not found", p)
	}
	for _, dir := range filepath.SplitList(e.Vars["PATH"]) {
		if dir == "" {
			continue
		}
		p := filepath.Join(e.Resolve(dir), name)
		if isExecutable(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("executable %q not found on PATH", name)
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
