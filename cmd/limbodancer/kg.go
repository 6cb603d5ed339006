package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var kgServerURL string

func init() {
	kgPingCmd.Flags().StringVar(&kgServerURL, "server", "", "server base URL (default from config host/port)")
	kgCmd.AddCommand(kgPingCmd)
}

var kgCmd = &cobra.Command{
	Use:   "kg",
	Short: "Knowledge graph operations",
}

var kgPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check graph store readiness on a running server",
	Long: `Probe a running limbodancer server's readiness endpoint and report
the graph backend status.

Examples:
  limbodancer kg ping
  limbodancer kg ping --server http://limbodancer.internal:8080`,
	RunE: runKGPing,
}

func runKGPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := kgServerURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/ready")
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", errDependencyUnavailable, base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s/ready", errEndpointMissing, base)
	}

	var ready struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading readiness response: %w", err)
	}
	if err := json.Unmarshal(body, &ready); err != nil {
		return fmt.Errorf("decoding readiness response: %w", err)
	}

	if reason, failing := ready.Backends["graph"]; failing {
		return fmt.Errorf("%w: graph: %s", errDependencyUnavailable, reason)
	}
	if resp.StatusCode != http.StatusOK {
		// Some other backend is down; the graph itself answered.
		fmt.Printf("graph: ok (server status: %s)\n", ready.Status)
		return nil
	}

	fmt.Println("graph: ok")
	return nil
}
