package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"nanobot/internal/domain"
)

var processStart = time.Now()

// SysInfoTool reports host facts the agent needs when asked to reason about
// the machine it runs on: OS, CPU, memory, disk and uptime.
type SysInfoTool struct{}

func NewSysInfoTool() *SysInfoTool { return &SysInfoTool{} }

func (t *SysInfoTool) Name() string { return "system_info" }
func (t *SysInfoTool) Description() string {
	return "Get information about the host system: OS version, CPU, memory, disk usage and uptime."
}
func (t *SysInfoTool) Parameters() map[string]any {
	return ToolParameters(nil, nil)
}

func (t *SysInfoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()

	lines := []string{
		"=== System Information ===",
		fmt.Sprintf("Hostname: %s", hostname),
		fmt.Sprintf("OS: %s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if ver := osVersion(ctx); ver != "" {
		lines = append(lines, fmt.Sprintf("Version: %s", ver))
	}

	lines = append(lines, "", "=== CPU ===")
	if model := cpuModel(ctx); model != "" {
		lines = append(lines, fmt.Sprintf("Model: %s", model))
	}
	lines = append(lines, fmt.Sprintf("Logical cores: %d", runtime.NumCPU()))

	lines = append(lines, "", "=== Memory ===")
	if mem := memoryInfo(ctx); mem != "" {
		lines = append(lines, mem)
	} else {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		lines = append(lines, fmt.Sprintf("Process alloc: %.1f MB", float64(ms.Alloc)/1024/1024))
	}

	lines = append(lines, "", "=== Disk ===")
	lines = append(lines, diskInfo(ctx))

	lines = append(lines, "", "=== Runtime ===")
	lines = append(lines,
		fmt.Sprintf("Working dir: %s", cwd),
		fmt.Sprintf("Go: %s", runtime.Version()),
		fmt.Sprintf("Agent uptime: %s", time.Since(processStart).Round(time.Second)),
	)
	if up := runCmd(ctx, "uptime"); up != "" {
		lines = append(lines, fmt.Sprintf("System uptime: %s", up))
	}

	return strings.Join(lines, "\n"), nil
}

func runCmd(ctx context.Context, name string, args ...string) string {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}

func osVersion(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		name := runCmd(ctx, "sw_vers", "-productName")
		ver := runCmd(ctx, "sw_vers", "-productVersion")
		return strings.TrimSpace(name + " " + ver)
	case "linux":
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "PRETTY_NAME=") {
					return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
				}
			}
		}
		return runCmd(ctx, "uname", "-r")
	}
	return ""
}

func cpuModel(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		return runCmd(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					if _, after, ok := strings.Cut(line, ":"); ok {
						return strings.TrimSpace(after)
					}
				}
			}
		}
	}
	return ""
}

func memoryInfo(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		raw := runCmd(ctx, "sysctl", "-n", "hw.memsize")
		var total float64
		fmt.Sscanf(raw, "%f", &total)
		if total > 0 {
			return fmt.Sprintf("Total: %.0f GB", total/(1<<30))
		}
	case "linux":
		data, err := os.ReadFile("/proc/meminfo")
		if err != nil {
			return ""
		}
		var total, available float64
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemTotal:") {
				fmt.Sscanf(line, "MemTotal: %f kB", &total)
			}
			if strings.HasPrefix(line, "MemAvailable:") {
				fmt.Sscanf(line, "MemAvailable: %f kB", &available)
			}
		}
		if total > 0 && available > 0 {
			return fmt.Sprintf("Total: %.1f GB\nUsed: %.1f GB\nAvailable: %.1f GB",
				total/1024/1024, (total-available)/1024/1024, available/1024/1024)
		}
		if total > 0 {
			return fmt.Sprintf("Total: %.1f GB", total/1024/1024)
		}
	}
	return ""
}

func diskInfo(ctx context.Context) string {
	out := runCmd(ctx, "df", "-h", "/")
	if out == "" {
		return "Not available"
	}
	lines := strings.Split(out, "\n")
	if len(lines) >= 2 {
		return lines[0] + "\n" + lines[1]
	}
	return out
}

var _ domain.Tool = (*SysInfoTool)(nil)
