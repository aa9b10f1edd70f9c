package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vanpelt/scrollguard/internal/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "📊 Show stats from a running supervised session",
	Long: `# 📊 Session Stats

**Query the diagnostics server of a running session** and print its
counters, configuration, and glitch-detector metrics.

The session must have been started with **--diagnostics-port**.`,
	RunE: showStats,
}

var statsPort int

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntVarP(&statsPort, "port", "p", 6071, "Diagnostics server port")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func showStats(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/v1/stats", statsPort))
	if err != nil {
		return fmt.Errorf("failed to reach diagnostics server on port %d: %w", statsPort, err)
	}
	defer resp.Body.Close()

	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode stats: %w", err)
	}

	fmt.Println(titleStyle.Render("🧹 Scrollguard Session"))
	printRow("Render count", fmt.Sprintf("%d / %d", snap.RenderCount, snap.Config.RenderClearThreshold))
	printRow("Line count", fmt.Sprintf("%d / %d", snap.LineCount, snap.Config.MaxLineCount))
	printRow("Clears injected", fmt.Sprintf("%d", snap.ClearsInjected))
	printRow("Forced trims", fmt.Sprintf("%d", snap.ForcedTrims))
	printRow("Chunks handled", fmt.Sprintf("%d", snap.ChunksHandled))
	printRow("Bytes relayed", fmt.Sprintf("%d", snap.BytesRelayed))

	if snap.Detector != nil {
		fmt.Println()
		fmt.Println(titleStyle.Render("🚨 Glitch Detector"))
		state := "normal"
		if snap.Detector.Glitched {
			state = warnStyle.Render(fmt.Sprintf("GLITCHED (%s)", snap.Detector.GlitchDuration.Round(time.Second)))
		}
		printRow("State", state)
		printRow("Glitches detected", fmt.Sprintf("%d", snap.Detector.GlitchesDetected))
		printRow("Recoveries", fmt.Sprintf("%d attempted, %d succeeded",
			snap.Detector.RecoveriesAttempted, snap.Detector.RecoveriesSucceeded))
		printRow("Signal triggers", fmt.Sprintf("silence=%d storm=%d spike=%d",
			snap.Detector.StdinSilenceTriggers, snap.Detector.ResizeStormTriggers, snap.Detector.RenderSpikeTriggers))
	}
	return nil
}

func printRow(key, value string) {
	fmt.Printf("%s %s\n", keyStyle.Render(key), value)
}
