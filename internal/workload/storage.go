package workload

import (
	"os"
	"path/filepath"
)

// StorageReady probes whether the persisted data volume is mounted and
// writable. The wrapper never interprets the volume's contents; a writable
// directory is the whole precondition.
func StorageReady(dataDir string) bool {
	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		return false
	}

	probe := filepath.Join(dataDir, ".hswarden-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
