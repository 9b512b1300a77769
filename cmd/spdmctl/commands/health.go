package commands

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// healthCheckTimeout bounds how long the health command waits for the
// daemon's metrics endpoint to respond.
const healthCheckTimeout = 3 * time.Second

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check reachability of a daemon's metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHealthCheck(metricsAddr, outputFormat)
		},
	}
}

func runHealthCheck(addr, format string) error {
	url := "http://" + addr + "/metrics"
	client := &http.Client{Timeout: healthCheckTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("metrics endpoint %s unreachable: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode == http.StatusOK
	switch format {
	case "json":
		fmt.Printf("{\"addr\":%q,\"status\":%d,\"ok\":%t}\n", addr, resp.StatusCode, ok)
	default:
		fmt.Printf("metrics endpoint: %s\n", addr)
		fmt.Printf("status:           %d\n", resp.StatusCode)
		fmt.Printf("ok:               %t\n", ok)
	}
	if !ok {
		return fmt.Errorf("metrics endpoint %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
