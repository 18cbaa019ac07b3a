package plugin

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// discoveredManifest pairs a parsed Manifest with the directory it was
// loaded from and a content digest used only for change-detection logging.
type discoveredManifest struct {
	Manifest Manifest
	Path     string
	Digest   string
}

// discover enumerates <storageRoot>/plugins/*/manifest.yaml, grounded on the
// teacher's internal/plugin/discovery.go directory-scan shape but adapted
// from "one manifest per flat file under WalkDir" to "one manifest per
// plugin subdirectory" since a compiled-in plugin still keeps declaration
// metadata on disk for operators even though its code ships in the worker
// binary. Zero manifests found is logged as a warning, not an error,
// matching the distilled spec. Entries are returned in lexical directory
// order for deterministic dependency-sort tie-breaks.
func discover(storageRoot string, logger *slog.Logger) ([]discoveredManifest, error) {
	pluginsDir := filepath.Join(storageRoot, "plugins")

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("plugins directory does not exist", "path", pluginsDir)
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read plugins directory %s: %w", pluginsDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		logger.Warn("no plugin directories found", "path", pluginsDir)
		return nil, nil
	}

	var out []discoveredManifest
	for _, dirName := range names {
		dir := filepath.Join(pluginsDir, dirName)
		manifestPath := filepath.Join(dir, manifestFilename)

		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("plugin directory has no manifest, skipping", "path", dir)
				continue
			}
			logger.Warn("failed to read plugin manifest", "path", manifestPath, "error", err)
			continue
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			logger.Warn("failed to parse plugin manifest", "path", manifestPath, "error", err)
			continue
		}
		if err := validateManifest(&m); err != nil {
			logger.Warn("invalid plugin manifest", "path", manifestPath, "error", err)
			continue
		}

		out = append(out, discoveredManifest{
			Manifest: m,
			Path:     dir,
			Digest:   digestHex(data),
		})
		logger.Info("plugin manifest loaded", "name", m.Name, "path", dir, "digest", out[len(out)-1].Digest)
	}

	return out, nil
}

// digestHex returns a short BLAKE3 digest of a manifest's raw bytes, logged
// at load time so operators notice a plugin's declaration changed between
// worker restarts. Grounded on internal/config/hash.go's checksum-manifest
// idiom in the teacher.
func digestHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
