package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

type healthStatus struct {
	DatabaseReachable bool     `json:"database_reachable"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
	Healthy           bool     `json:"healthy"`
	Issues            []string `json:"issues"`
}

type limitSnapshot struct {
	IPBuckets    int    `json:"ip_buckets"`
	UserBuckets  int    `json:"user_buckets"`
	EmailBuckets int    `json:"email_buckets"`
	Summary      string `json:"summary"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "donorgate",
		Short: "Donorgate - admin CLI for the donation platform API",
		Long:  "Inspect server health and manage rate limit state for a running donorgate server",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Donorgate server URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", "", "Admin bearer token")

	rootCmd.AddCommand(
		statusCmd(),
		limitsCmd(),
		resetCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status healthStatus
			if err := getJSON("/healthz", &status); err != nil {
				return err
			}

			fmt.Printf("Donorgate Status\n")
			fmt.Printf("================\n\n")
			fmt.Printf("Healthy:     %v\n", status.Healthy)
			fmt.Printf("Database:    %v\n", status.DatabaseReachable)
			fmt.Printf("Uptime:      %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			for _, issue := range status.Issues {
				fmt.Printf("Issue:       %s\n", issue)
			}

			return nil
		},
	}
}

func limitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show live rate limit bucket counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap limitSnapshot
			if err := getJSON("/api/v1/admin/ratelimits", &snap); err != nil {
				return err
			}

			fmt.Printf("%s\n", snap.Summary)
			fmt.Printf("Email cache size: %d\n", snap.EmailBuckets)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [dimension] [category] [identifier]",
		Short: "Reset one rate limit bucket",
		Long:  "Dimension is one of ip, user, email; category is one of public, authenticated, registration, password_reset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/admin/ratelimits/%s/%s/%s", args[0], args[1], args[2])
			req, err := http.NewRequest(http.MethodDelete, serverURL+path, nil)
			if err != nil {
				return err
			}
			authorize(req)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			fmt.Printf("Reset %s/%s bucket for %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("donorgate version %s\n", Version)
		},
	}
}

func authorize(req *http.Request) {
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
}

func getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	authorize(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
