package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EngineBinary is the whisper executable's name inside the extracted archive.
func EngineBinary() string {
	if runtime.GOOS == "windows" {
		return "main.exe"
	}
	return "main"
}

// DataDir resolves the application-private directory holding provisioned
// artifacts. The override, when non-empty, wins.
func DataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "hear", "whisper"), nil
}

const modelFileName = "ggml-base.en.bin"

// EnginePath is where the extracted whisper executable lives under dir.
func EnginePath(dir string) string {
	return filepath.Join(dir, EngineBinary())
}

// ModelPath is where the provisioned model file lives under dir.
func ModelPath(dir string) string {
	return filepath.Join(dir, modelFileName)
}

// DefaultAssets returns the pinned whisper engine archive and model
// descriptors rooted at dir.
func DefaultAssets(dir string) []Asset {
	return []Asset{
		{
			Name: "whisper-bin-x64.zip",
			URL: fmt.Sprintf(
				"https://github.com/ggerganov/whisper.cpp/releases/download/%s/whisper-bin-x64.zip",
				WhisperVersion,
			),
			Path:          filepath.Join(dir, "whisper.zip"),
			SHA256:        WhisperZipHash,
			Archive:       true,
			ExtractDir:    dir,
			InstalledPath: EnginePath(dir),
		},
		{
			Name:   modelFileName,
			URL:    ModelURL,
			Path:   ModelPath(dir),
			SHA256: ModelHash,
		},
	}
}

// Status describes one asset's provisioning state for the assets table.
type Status struct {
	Name    string
	Path    string
	Present bool
	Size    int64
}

// Report returns provisioning status for each asset.
func Report(assets []Asset) []Status {
	statuses := make([]Status, 0, len(assets))
	for _, asset := range assets {
		st := Status{Name: asset.Name, Path: asset.installedPath()}
		if info, err := os.Stat(st.Path); err == nil {
			st.Present = true
			st.Size = info.Size()
		}
		statuses = append(statuses, st)
	}
	return statuses
}
