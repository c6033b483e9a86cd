package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage candidate workspaces",
}

var workspaceLang string

var workspaceStartCmd = &cobra.Command{
	Use:   "start USER_ID",
	Short: "Provision an editor workspace for a candidate",
	Long: `Provision an editor container for a candidate. If the candidate
already has a workspace it is replaced. Example:
  proctord workspace start alice --lang python`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkspaceStart,
}

var workspaceStopCmd = &cobra.Command{
	Use:   "stop USER_ID",
	Short: "Release a candidate's workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceStop,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active workspaces",
	RunE:  runWorkspaceList,
}

var captureAll bool

var captureCmd = &cobra.Command{
	Use:   "capture [USER_ID]",
	Short: "Capture a screenshot of a candidate's editor",
	Long: `Capture one screenshot immediately, outside the periodic schedule.
With --all, captures every active workspace in one pass.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

var desktopCmd = &cobra.Command{
	Use:   "desktop USER_ID",
	Short: "Capture the full virtual display",
	Args:  cobra.ExactArgs(1),
	RunE:  runDesktop,
}

var artifactsLimit int

var artifactsCmd = &cobra.Command{
	Use:   "artifacts USER_ID",
	Short: "List a candidate's captured artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifacts,
}

var logCmd = &cobra.Command{
	Use:   "log USER_ID",
	Short: "List a candidate's capture log entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show artifact storage statistics",
	RunE:  runStats,
}

var purgeCmd = &cobra.Command{
	Use:   "purge-browsers",
	Short: "Kill stray capture browser processes on the server host",
	RunE:  runPurge,
}

func init() {
	workspaceStartCmd.Flags().StringVar(&workspaceLang, "lang", "python", "Workspace language: javascript, python, java, cpp")
	captureCmd.Flags().BoolVar(&captureAll, "all", false, "Capture every active workspace")
	artifactsCmd.Flags().IntVar(&artifactsLimit, "limit", 0, "Maximum entries to return (0 = server default)")
	logCmd.Flags().IntVar(&artifactsLimit, "limit", 0, "Maximum entries to return (0 = server default)")

	workspaceCmd.AddCommand(workspaceStartCmd)
	workspaceCmd.AddCommand(workspaceStopCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(desktopCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(purgeCmd)
}

// ---------------------------------------------------------------------------
// Command implementations
// ---------------------------------------------------------------------------

func runWorkspaceStart(cmd *cobra.Command, args []string) error {
	var sess struct {
		UserID    string `json:"user_id"`
		Language  string `json:"language"`
		EditorURL string `json:"editor_url"`
		Status    string `json:"status"`
	}
	err := apiPost("/api/workspaces", map[string]string{
		"user_id": args[0], "language": workspaceLang,
	}, &sess)
	if err != nil {
		return err
	}
	fmt.Printf("Workspace ready for %s (%s)\n", sess.UserID, sess.Language)
	fmt.Printf("Editor: %s\n", sess.EditorURL)
	return nil
}

func runWorkspaceStop(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := apiDelete("/api/workspaces/"+args[0], &resp); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	var sessions []struct {
		UserID    string    `json:"user_id"`
		Language  string    `json:"language"`
		EditorURL string    `json:"editor_url"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := apiGet("/api/workspaces", &sessions); err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No active workspaces.")
		return nil
	}
	fmt.Printf("%-16s %-12s %-8s %-24s %s\n", "USER", "LANGUAGE", "STATUS", "EDITOR", "AGE")
	for _, s := range sessions {
		fmt.Printf("%-16s %-12s %-8s %-24s %s\n",
			s.UserID, s.Language, s.Status, s.EditorURL,
			time.Since(s.CreatedAt).Round(time.Second))
	}
	return nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	if captureAll {
		var results []struct {
			UserID     string `json:"user_id"`
			Success    bool   `json:"success"`
			ArtifactID string `json:"artifact_id"`
			Error      string `json:"error"`
		}
		if err := apiPost("/api/captures/bulk", nil, &results); err != nil {
			return err
		}
		for _, r := range results {
			if r.Success {
				fmt.Printf("  ok    %-16s %s\n", r.UserID, r.ArtifactID)
			} else {
				fmt.Printf("  FAIL  %-16s %s\n", r.UserID, r.Error)
			}
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("USER_ID is required unless --all is given")
	}

	var resp struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		ArtifactID string `json:"artifact_id"`
	}
	if err := apiPost("/api/captures", map[string]string{"user_id": args[0]}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("capture failed: %s", resp.Message)
	}
	fmt.Printf("%s (artifact %s)\n", resp.Message, resp.ArtifactID)
	return nil
}

func runDesktop(cmd *cobra.Command, args []string) error {
	var resp struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		ArtifactID string `json:"artifact_id"`
	}
	if err := apiPost("/api/captures/desktop", map[string]string{"user_id": args[0]}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("capture failed: %s", resp.Message)
	}
	fmt.Printf("%s (artifact %s)\n", resp.Message, resp.ArtifactID)
	return nil
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	path := "/api/users/" + args[0] + "/artifacts"
	if artifactsLimit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, artifactsLimit)
	}
	var artifacts []struct {
		ID         string    `json:"id"`
		CapturedAt time.Time `json:"captured_at"`
		Method     string    `json:"method"`
		Event      string    `json:"event"`
		Width      int       `json:"width"`
		Height     int       `json:"height"`
		ByteSize   int       `json:"byte_size"`
	}
	if err := apiGet(path, &artifacts); err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Println("No artifacts.")
		return nil
	}
	fmt.Printf("%-38s %-22s %-16s %-12s %-10s %s\n", "ID", "CAPTURED", "METHOD", "EVENT", "SIZE", "BYTES")
	for _, a := range artifacts {
		fmt.Printf("%-38s %-22s %-16s %-12s %dx%-6d %d\n",
			a.ID, a.CapturedAt.Format(time.RFC3339), a.Method, a.Event,
			a.Width, a.Height, a.ByteSize)
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	path := "/api/users/" + args[0] + "/log"
	if artifactsLimit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, artifactsLimit)
	}
	var entries []struct {
		ArtifactID string    `json:"artifact_id"`
		Event      string    `json:"event"`
		CreatedAt  time.Time `json:"created_at"`
	}
	if err := apiGet(path, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No capture log entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-22s %-12s %s\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.ArtifactID)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats struct {
		Count      int            `json:"count"`
		TotalBytes int64          `json:"total_bytes"`
		ByMethod   map[string]int `json:"by_method"`
		ByEvent    map[string]int `json:"by_event"`
	}
	if err := apiGet("/api/stats", &stats); err != nil {
		return err
	}
	fmt.Printf("Artifacts: %d (%.1f MB)\n", stats.Count, float64(stats.TotalBytes)/(1024*1024))
	for method, n := range stats.ByMethod {
		fmt.Printf("  %-18s %d\n", method, n)
	}
	for event, n := range stats.ByEvent {
		fmt.Printf("  %-18s %d\n", event, n)
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := apiPost("/api/maintenance/purge-browsers", nil, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

var httpClient = &http.Client{Timeout: 2 * time.Minute}

func apiGet(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to server at %s: %w", serverURL, err)
	}
	return decodeAPIResponse(resp, out)
}

func apiPost(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("connecting to server at %s: %w", serverURL, err)
	}
	return decodeAPIResponse(resp, out)
}

func apiDelete(path string, out any) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server at %s: %w", serverURL, err)
	}
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
