package logsockd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats renders resident memory and goroutine count as key=value
// pairs for the operational log.
func ProcessStats() string {
	goroutines := runtime.NumGoroutine()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Sprintf("goroutines=%d", goroutines)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return fmt.Sprintf("goroutines=%d", goroutines)
	}
	return fmt.Sprintf("rss-mb=%.1f goroutines=%d", float64(mem.RSS)/1024/1024, goroutines)
}
