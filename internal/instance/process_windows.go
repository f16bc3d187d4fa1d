//go:build windows

package instance

import "golang.org/x/sys/windows"

// isProcessRunning uses OpenProcess rather than os.FindProcess+Signal,
// which on Windows always succeeds regardless of liveness. Grounded in
// the teacher's internal/instance/windows.go IsProcessRunning.
func isProcessRunning(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == windows.STILL_ACTIVE
}
