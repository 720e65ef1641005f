package cmdlog

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// HostID returns a best-effort stable identifier for the host the log entries
// come from. illumos/Solaris use hostid(1); Linux prefers /etc/machine-id then
// the DMI product uuid. Everything else, and every failure, falls back to the
// hostname.
func HostID() string {
	if id, err := platformHostID(); err == nil && id != "" {
		return id
	}
	if name, err := os.Hostname(); err == nil {
		return strings.TrimSpace(name)
	}
	return "unknown"
}

func platformHostID() (string, error) {
	switch runtime.GOOS {
	case "illumos", "solaris":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "hostid").Output()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	case "linux":
		if id, err := readSystemFile("/etc/machine-id"); err == nil && id != "" {
			return id, nil
		}
		if id, err := readSystemFile("/sys/class/dmi/id/product_uuid"); err == nil && id != "" {
			return id, nil
		}
		return "", nil
	default:
		return "", nil
	}
}

func readSystemFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
