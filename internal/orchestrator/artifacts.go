package orchestrator

import (
	"os"
	"path/filepath"
)

// artifactExtensions is the allow-list of what
// counts as a published firmware artifact.
var artifactExtensions = map[string]bool{
	".bin": true,
	".img": true,
	".gz":  true,
	".trx": true,
}

// discoverArtifacts walks dir and returns the paths of every file whose
// extension is in artifactExtensions, relative to dir, in lexical order.
func discoverArtifacts(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !artifactExtensions[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
