package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const dataDirEnv = "TIP_ROULETTE_DATA_DIR"

// GetDataDir はデータ保存用ディレクトリを返す。
// TIP_ROULETTE_DATA_DIR が設定されていればそれを優先する。
func GetDataDir() string {
	if dir := os.Getenv(dataDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tip-roulette"
	}
	return filepath.Join(home, ".tip-roulette")
}

// GetDBPath returns the sqlite database path inside the data dir.
func GetDBPath() string {
	return filepath.Join(GetDataDir(), "local.db")
}

// EnsureDataDirs creates the data directory if it does not exist.
func EnsureDataDirs() error {
	if err := os.MkdirAll(GetDataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}
