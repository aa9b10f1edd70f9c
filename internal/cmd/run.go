package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/handlers"
	"github.com/vanpelt/scrollguard/internal/logger"
	"github.com/vanpelt/scrollguard/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "🚀 Run a command under scrollback supervision",
	Long: `# 🚀 Run a Supervised Command

**Spawn a command on a pseudo-terminal** and relay its output through the
scrollback supervisor.

## 🔍 What happens

- Output chunks are classified (keystroke echo, repaint, explicit clear)
- Scrollback-clear directives are injected at safe moments
- A hard line-count cap protects against unbounded buffer growth
- The glitch detector watches for stalled sessions and recovers them

## ⚙️  Tuning

All thresholds come from **SCROLLGUARD_*** environment variables, an
optional YAML config file (**--config**), and the runtime config endpoint
on the diagnostics server (**--diagnostics-port**).

## 💡 Examples

Supervise an interactive agent:

` + "```bash\nscrollguard run -- claude\n```" + `

With live diagnostics:

` + "```bash\nscrollguard run --diagnostics-port 6071 -- claude\n```",
	Args: cobra.MinimumNArgs(1),
	RunE: runSupervised,
}

var (
	configPath      string
	diagnosticsPort int
	logFile         string
	noDetector      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (watched for live changes)")
	runCmd.Flags().IntVar(&diagnosticsPort, "diagnostics-port", 0, "Serve stats/config/events on this localhost port")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Write diagnostics to this file instead of stderr")
	runCmd.Flags().BoolVar(&noDetector, "no-detector", false, "Disable the glitch detector")
}

func runSupervised(cmd *cobra.Command, args []string) error {
	settings := config.FromEnv()
	if configPath != "" {
		var err error
		settings, err = config.LoadFile(configPath, settings)
		if err != nil {
			return err
		}
	}
	if diagnosticsPort != 0 {
		settings.DiagnosticsPort = diagnosticsPort
	}
	store := config.NewStore(settings)

	// Diagnostics must never mix into the supervised stdout. Default to a
	// log file while relaying; stderr stays available for explicit opt-in.
	level := logger.GetLogLevelFromEnv()
	if settings.Debug {
		level = logger.LevelDebug
	}
	if logFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			logFile = filepath.Join(home, ".scrollguard", "scrollguard.log")
			_ = os.MkdirAll(filepath.Dir(logFile), 0755)
		}
	}
	if logFile != "" {
		logger.ConfigureFile(level, logFile)
	} else {
		logger.Configure(level, nil, false)
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(store, configPath)
		if err != nil {
			logger.Warnf("⚠️  Config file watching disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	sess, err := session.New(store, args, session.Options{DisableDetector: noDetector})
	if err != nil {
		return err
	}

	diag := handlers.NewDiagnosticsHandler(sess.Supervisor(), sess.Detector(), store)
	if err := diag.Start(store.Get().DiagnosticsPort); err != nil {
		logger.Warnf("⚠️  Diagnostics server failed to start: %v", err)
	}
	defer diag.Stop()

	exitCode, err := sess.Run()
	if err != nil {
		return fmt.Errorf("relay failed: %w", err)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
