package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/daemon"
	"github.com/theirongolddev/callpulse/internal/notify"
)

type serveRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	DBPath    string    `json:"db_path"`
}

var (
	flagServeAddr         string
	flagServeDetach       bool
	flagServePIDFile      string
	flagServeLogFile      string
	flagServeEventsBuffer int
	flagServeChild        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with scheduled jobs and the HTTP API",
	RunE:  runServe,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runServeStatus,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runServeStop,
}

func init() {
	defaultPID := filepath.Join(config.DataDir(), "callpulsed.pid")
	defaultLog := filepath.Join(config.DataDir(), "callpulsed.log")

	serveCmd.PersistentFlags().StringVar(&flagServeAddr, "addr", "", "HTTP listen address (default from config)")
	serveCmd.PersistentFlags().StringVar(&flagServePIDFile, "pid-file", defaultPID, "PID file path")
	serveCmd.PersistentFlags().StringVar(&flagServeLogFile, "log-file", defaultLog, "Log file path for detached mode")
	serveCmd.PersistentFlags().IntVar(&flagServeEventsBuffer, "events-buffer", 200, "Max in-memory events retained")

	serveCmd.Flags().BoolVar(&flagServeDetach, "detach", false, "Run daemon as a background process")
	serveCmd.Flags().BoolVar(&flagServeChild, "child", false, "Internal: mark detached child process")
	_ = serveCmd.Flags().MarkHidden("child")

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	if flagServeDetach && flagServeChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagServeDetach {
		return startServeDetached()
	}

	return runServeForeground()
}

func startServeDetached() error {
	if err := pidFile(flagServePIDFile).ensureStopped(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child", "--log-json")

	if err := os.MkdirAll(filepath.Dir(flagServeLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagServeLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", flagServePIDFile)
	fmt.Printf("  Log: %s\n", flagServeLogFile)
	return nil
}

func runServeForeground() error {
	pf := pidFile(flagServePIDFile)
	if err := pf.ensureStopped(); err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	addr := flagServeAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	pid := os.Getpid()
	if err := pf.write(pid, serveRuntimeState{PID: pid, Addr: addr, StartedAt: time.Now(), DBPath: cfg.DBPath()}); err != nil {
		return err
	}
	defer pf.remove()

	opts := daemon.Options{
		Coordinator: rt.coord,
		Settings:    rt.store,
		Logger:      rt.log,
	}
	tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, rt.log)
	if err != nil {
		// the API and sync jobs still run without the report
		rt.log.Error().Err(err).Msg("telegram disabled")
	}
	if tg != nil {
		opts.Notifier = tg
	}

	svc := daemon.New(daemon.Config{
		Addr:         addr,
		AdminToken:   cfg.Server.AdminToken,
		EventsBuffer: flagServeEventsBuffer,
		BackfillDays: cfg.Sync.BackfillDays,
		Location:     cfg.Location(),
		Schedule: daemon.Schedule{
			Nightly:   cfg.Sync.NightlyCron,
			Today:     cfg.Sync.TodayCron,
			Directory: cfg.Sync.DirectoryCron,
			Report:    cfg.Sync.ReportCron,
		},
	}, opts)
	rt.coord.SetOnSync(svc.RecordSync)

	rt.log.Info().Str("addr", addr).Str("db", cfg.DBPath()).Msg("callpulse daemon starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServeStatus(_ *cobra.Command, _ []string) error {
	pf := pidFile(flagServePIDFile)
	pid, err := pf.pid()
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}

	alive := processAlive(pid)
	if !alive {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := flagServeAddr
	if st, err := pf.state(); err == nil && st.Addr != "" {
		addr = st.Addr
	}
	if addr == "" {
		if cfg, err := loadConfig(); err == nil {
			addr = cfg.Server.Addr
		}
	}

	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status probe
	if err != nil {
		fmt.Printf("  API status: unreachable (%v)\n", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  API status: HTTP %d\n", resp.StatusCode)
		return nil
	}

	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("  API status: malformed response (%v)\n", err)
		return nil
	}

	if st.LastSyncAt.IsZero() {
		fmt.Printf("  Last sync: pending\n")
	} else {
		fmt.Printf("  Last sync: %s\n", st.LastSyncAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("  Sync count: %d\n", st.SyncCount)
	fmt.Printf("  Today: %s\n", st.Today)
	if len(st.Coordinator.InFlight) > 0 {
		fmt.Printf("  In flight: %s\n", strings.Join(st.Coordinator.InFlight, ", "))
	}
	fmt.Printf("  Directory: %d operators\n", st.Coordinator.DirectorySize)
	for _, j := range st.Jobs {
		fmt.Printf("  Job %-10s next %s\n", j.Name, j.Next.Local().Format("02.01 15:04"))
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
	return nil
}

func runServeStop(_ *cobra.Command, _ []string) error {
	pf := pidFile(flagServePIDFile)
	pid, err := pf.pid()
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			pf.remove()
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// pidFile is the daemon's pid file plus a JSON state file beside it.
type pidFile string

func (p pidFile) statePath() string { return string(p) + ".json" }

func (p pidFile) write(pid int, st serveRuntimeState) error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.statePath(), append(data, '\n'), 0o600)
}

func (p pidFile) pid() (int, error) {
	data, err := os.ReadFile(string(p)) //nolint:gosec // pid path is configured by the local user
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", p)
	}
	return pid, nil
}

func (p pidFile) state() (serveRuntimeState, error) {
	var st serveRuntimeState
	data, err := os.ReadFile(p.statePath()) //nolint:gosec // see pid
	if err != nil {
		return st, err
	}
	return st, json.Unmarshal(data, &st)
}

func (p pidFile) remove() {
	_ = os.Remove(string(p))
	_ = os.Remove(p.statePath())
}

// ensureStopped clears a stale pid file and fails if the daemon is alive.
func (p pidFile) ensureStopped() error {
	pid, err := p.pid()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case processAlive(pid):
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	p.remove()
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
