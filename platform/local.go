package platform

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Local is the default Provider implementation, grounded on the same
// OS-switch pattern the device config uses to resolve its data directory.
type Local struct{}

// NewLocal constructs the default platform Provider.
func NewLocal() *Local {
	return &Local{}
}

// Name returns the runtime GOOS value.
func (l *Local) Name() string {
	return runtime.GOOS
}

// DefaultDownloadDirectory returns "<home>/Downloads", creating it if
// absent.
func (l *Local) DefaultDownloadDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	dir := filepath.Join(home, "Downloads")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// SupportsFeature reports whether the local platform supports a named
// optional feature.
func (l *Local) SupportsFeature(name string) bool {
	switch name {
	case "open_file":
		return true
	default:
		return false
	}
}

// NetworkInterfaces lists the names of all local network interfaces.
func (l *Local) NetworkInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("platform: list interfaces: %w", err)
	}

	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

// InterfaceAddress returns the first IPv4 address bound to the named
// interface.
func (l *Local) InterfaceAddress(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("platform: lookup interface %q: %w", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("platform: list addresses for %q: %w", name, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ipv4 := ipNet.IP.To4()
		if ipv4 == nil {
			continue
		}
		return ipv4.String(), nil
	}

	return "", fmt.Errorf("platform: no IPv4 address on interface %q", name)
}

// OpenFile launches the OS default handler for path.
func (l *Local) OpenFile(path string) bool {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start() == nil
}
