package meshtrace

import "github.com/ghalamif/MeshTrace/internal/adapters/blackbox"

// ReadCrashLog returns up to count trailing records of the crash log in dir,
// oldest first. It does not need a running node.
func ReadCrashLog(dir string, count int) ([]LogRecord, error) {
	return blackbox.ReadCrashFile(dir, count)
}
