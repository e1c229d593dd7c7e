//go:build linux

package monitor

import "golang.org/x/sys/unix"

// querySystemMemory samples total and available physical RAM via the
// Linux sysinfo(2) syscall, wrapped by golang.org/x/sys/unix so the rest of
// the package stays platform-agnostic.
func querySystemMemory() (totalBytes, availBytes uint64, ok bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, false
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	avail := uint64(info.Freeram+info.Bufferram) * unit
	return total, avail, true
}
