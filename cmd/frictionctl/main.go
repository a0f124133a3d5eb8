// Package main implements the frictionctl CLI for manual operations
// against the frictiond HTTP server.
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
	// serverURL is the base URL for the frictiond HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "frictionctl",
	Short: "CLI for frictiond HTTP server operations",
	Long: `frictionctl is a command-line interface for interacting with the
frictiond daemon. It can trigger detection cycles, list and execute
actionable items, and report flow state and statistics.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9600", "frictiond server URL")
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(flowCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(healthCmd)
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection cycle and print the resulting flow state",
	Long: `Run a synchronous detection cycle on the daemon's workspace.

Examples:
  # Detect and print flow state plus remaining actions
  frictionctl detect

  # Use a different server
  frictionctl detect --server http://localhost:7070`,
	RunE: runDetect,
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List actionable friction items",
	RunE:  runActions,
}

var executeCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Execute the elimination for one actionable item",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Show the current flow state",
	RunE:  runFlow,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show detection and elimination statistics",
	RunE:  runStats,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Control background monitoring",
	RunE:  runMonitorStatus,
}

var monitorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background monitoring",
	RunE:  runMonitorStart,
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background monitoring",
	RunE:  runMonitorStop,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check frictiond server health",
	RunE:  runHealth,
}

// Response shapes matching internal/server.

type flowState struct {
	Level      string  `json:"level"`
	Score      float64 `json:"score"`
	ComputedAt string  `json:"computed_at"`
}

type actionItem struct {
	ID               string  `json:"id"`
	Category         string  `json:"category"`
	Title            string  `json:"title"`
	Command          string  `json:"command"`
	Urgency          string  `json:"urgency"`
	Confidence       float64 `json:"confidence"`
	AutoExecutable   bool    `json:"auto_executable"`
	EstimatedSeconds int     `json:"estimated_seconds"`
}

type actionList struct {
	Items                 []actionItem   `json:"items"`
	Total                 int            `json:"total"`
	AutoExecutable        int            `json:"auto_executable"`
	HighUrgency           int            `json:"high_urgency"`
	TotalEstimatedSeconds int            `json:"total_estimated_seconds"`
	Counts                map[string]int `json:"counts"`
}

type detectResponse struct {
	Flow    flowState  `json:"flow"`
	Actions actionList `json:"actions"`
}

type executeResponse struct {
	Result struct {
		Success      bool   `json:"success"`
		StrategyName string `json:"strategy_name"`
		Error        string `json:"error"`
	} `json:"result"`
}

type statsResponse struct {
	TotalDetected   int     `json:"total_detected"`
	TotalEliminated int     `json:"total_eliminated"`
	EliminationRate float64 `json:"elimination_rate"`
	CyclesCompleted int     `json:"cycles_completed"`
}

type monitorResponse struct {
	Running bool `json:"running"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// doJSON sends a request and decodes the JSON response into out.
func doJSON(method, path string, out interface{}) error {
	url := serverURL + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 60 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printFlow(fs flowState) {
	fmt.Printf("Flow Level: %s\n", fs.Level)
	fmt.Printf("Score:      %.2f\n", fs.Score)
}

func printActions(list actionList) {
	if len(list.Items) == 0 {
		fmt.Println("No actionable friction.")
		return
	}
	for _, item := range list.Items {
		auto := " "
		if item.AutoExecutable {
			auto = "*"
		}
		fmt.Printf("%s [%-6s] %-10s %s\n", auto, item.Urgency, item.Category, item.Title)
		if item.Command != "" {
			fmt.Printf("             run: %s\n", item.Command)
		}
		fmt.Printf("             id:  %s\n", item.ID)
	}
	fmt.Fprintf(os.Stderr, "\n%d item(s), %d auto-executable, %d high urgency, ~%ds of friction\n",
		list.Total, list.AutoExecutable, list.HighUrgency, list.TotalEstimatedSeconds)
}

func runDetect(cmd *cobra.Command, args []string) error {
	var resp detectResponse
	if err := doJSON("POST", "/api/v1/detect", &resp); err != nil {
		return err
	}
	printFlow(resp.Flow)
	fmt.Println()
	printActions(resp.Actions)
	return nil
}

func runActions(cmd *cobra.Command, args []string) error {
	var list actionList
	if err := doJSON("GET", "/api/v1/actions", &list); err != nil {
		return err
	}
	printActions(list)
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	var resp executeResponse
	if err := doJSON("POST", "/api/v1/actions/"+args[0]+"/execute", &resp); err != nil {
		return err
	}
	if resp.Result.Success {
		fmt.Printf("Eliminated via %s\n", resp.Result.StrategyName)
		return nil
	}
	return fmt.Errorf("elimination failed: %s", resp.Result.Error)
}

func runFlow(cmd *cobra.Command, args []string) error {
	var fs flowState
	if err := doJSON("GET", "/api/v1/flow", &fs); err != nil {
		return err
	}
	printFlow(fs)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats statsResponse
	if err := doJSON("GET", "/api/v1/stats", &stats); err != nil {
		return err
	}
	fmt.Printf("Detected:   %d\n", stats.TotalDetected)
	fmt.Printf("Eliminated: %d\n", stats.TotalEliminated)
	fmt.Printf("Rate:       %.0f%%\n", stats.EliminationRate*100)
	fmt.Printf("Cycles:     %d\n", stats.CyclesCompleted)
	return nil
}

func runMonitorStatus(cmd *cobra.Command, args []string) error {
	var status monitorResponse
	if err := doJSON("GET", "/api/v1/monitor", &status); err != nil {
		return err
	}
	if status.Running {
		fmt.Println("Monitoring: running")
	} else {
		fmt.Println("Monitoring: stopped")
	}
	return nil
}

func runMonitorStart(cmd *cobra.Command, args []string) error {
	var status monitorResponse
	if err := doJSON("POST", "/api/v1/monitor/start", &status); err != nil {
		return err
	}
	fmt.Println("Monitoring started")
	return nil
}

func runMonitorStop(cmd *cobra.Command, args []string) error {
	var status monitorResponse
	if err := doJSON("POST", "/api/v1/monitor/stop", &status); err != nil {
		return err
	}
	fmt.Println("Monitoring stopped")
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health healthResponse
	if err := doJSON("GET", "/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to reach %s\n", serverURL)
		return err
	}
	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}
