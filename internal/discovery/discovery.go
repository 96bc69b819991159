// Package discovery scans the local network for MEA controller boxes by
// probing their TCP control port and reading the status banner.
package discovery

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DiscoveryResult contains information about a discovered controller
type DiscoveryResult struct {
	Address    string `json:"address"`
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	Channels   int    `json:"channels"`
	Version    string `json:"firmware_version"`
	LatencyMs  int64  `json:"latency_ms"`
	Responding bool   `json:"responding"`
	Error      string `json:"error,omitempty"`
}

// DiscoveryConfig holds configuration for network discovery
type DiscoveryConfig struct {
	Subnet          string        `json:"subnet"`           // CIDR notation, e.g., "192.168.1.0/24"
	Port            int           `json:"port"`             // control port to scan (default: 7340)
	Timeout         time.Duration `json:"timeout"`          // Connection timeout per host
	ConcurrentScans int           `json:"concurrent_scans"` // Number of concurrent workers
	SkipLocalhost   bool          `json:"skip_localhost"`   // Skip localhost scanning
}

// NewDiscoveryConfig creates a default discovery configuration
func NewDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Subnet:          "",
		Port:            7340,
		Timeout:         2 * time.Second,
		ConcurrentScans: 20,
		SkipLocalhost:   false,
	}
}

// DiscoverControllers scans the network for MEA controller instances
func DiscoverControllers(config DiscoveryConfig) ([]DiscoveryResult, error) {
	// Get local network to scan if subnet not specified
	if config.Subnet == "" {
		subnet, err := getLocalSubnet()
		if err != nil {
			return nil, fmt.Errorf("failed to determine local subnet: %w", err)
		}
		config.Subnet = subnet
	}

	ip, ipnet, err := net.ParseCIDR(config.Subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %s: %w", config.Subnet, err)
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, config.ConcurrentScans)
	results := make(chan DiscoveryResult, 100)
	var discoveries []DiscoveryResult

	// Generate list of IPs to scan
	var ips []string
	for ip := ip.Mask(ipnet.Mask); ipnet.Contains(ip); incrementIP(ip) {
		ips = append(ips, ip.String())
	}

	// Add localhost first if not skipped
	if !config.SkipLocalhost {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- probeController("127.0.0.1", config.Port, config.Timeout)
		}()
	}

	// Scan network IPs
	for _, ipStr := range ips {
		// Skip if this is our own IP
		if isLocalIP(ipStr) {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(ip string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results <- probeController(ip, config.Port, config.Timeout)
		}(ipStr)
	}

	// Wait for all scans to complete
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for result := range results {
		discoveries = append(discoveries, result)
	}

	return discoveries, nil
}

// probeController connects to a candidate controller and reads its
// status banner. The controller answers "STATUS\n" with a single line:
// "MEA v<firmware> channels=<n>".
func probeController(ipAddress string, port int, timeout time.Duration) DiscoveryResult {
	start := time.Now()
	address := fmt.Sprintf("%s:%d", ipAddress, port)
	result := DiscoveryResult{
		Address:    address,
		IPAddress:  ipAddress,
		Port:       port,
		Responding: false,
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		result.Error = fmt.Sprintf("Connection failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "STATUS\n"); err != nil {
		result.Error = fmt.Sprintf("Status request failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	banner, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		result.Error = fmt.Sprintf("Status read failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	version, channels, err := ParseBanner(banner)
	if err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	result.Responding = true
	result.Version = version
	result.Channels = channels
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// ParseBanner decodes the controller status line.
func ParseBanner(banner string) (version string, channels int, err error) {
	fields := strings.Fields(strings.TrimSpace(banner))
	if len(fields) < 3 || fields[0] != "MEA" || !strings.HasPrefix(fields[1], "v") {
		return "", 0, fmt.Errorf("unrecognized banner %q", strings.TrimSpace(banner))
	}
	version = strings.TrimPrefix(fields[1], "v")

	for _, f := range fields[2:] {
		if strings.HasPrefix(f, "channels=") {
			channels, err = strconv.Atoi(strings.TrimPrefix(f, "channels="))
			if err != nil {
				return "", 0, fmt.Errorf("bad channel count in banner %q", banner)
			}
			return version, channels, nil
		}
	}
	return "", 0, fmt.Errorf("banner missing channel count: %q", strings.TrimSpace(banner))
}

// getLocalSubnet attempts to determine the local network subnet
func getLocalSubnet() (string, error) {
	// Get all network interfaces
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	// Look for IPv4 interfaces that are up and not loopback
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.To4() == nil {
				continue
			}

			// Convert to subnet (assume /24 for lab networks)
			parts := strings.Split(ip.String(), ".")
			if len(parts) == 4 {
				return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2]), nil
			}
		}
	}

	return "", fmt.Errorf("no suitable network interface found")
}

// incrementIP increments an IP address
func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// isLocalIP checks if an IP address is local
func isLocalIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	// Check if it's loopback
	if ip.IsLoopback() {
		return true
	}

	// Get local interfaces and check if any match
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ifaceIP net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ifaceIP = v.IP
			case *net.IPAddr:
				ifaceIP = v.IP
			}

			if ifaceIP != nil && ifaceIP.Equal(ip) {
				return true
			}
		}
	}

	return false
}

// FindBestController selects the best controller from discovered results
func FindBestController(discoveries []DiscoveryResult) *DiscoveryResult {
	var best *DiscoveryResult

	for i := range discoveries {
		result := &discoveries[i]

		// Skip non-responding controllers
		if !result.Responding {
			continue
		}

		// Prefer more channels, then lower latency
		if best == nil || result.Channels > best.Channels ||
			(result.Channels == best.Channels && result.LatencyMs < best.LatencyMs) {
			best = result
		}
	}

	return best
}
