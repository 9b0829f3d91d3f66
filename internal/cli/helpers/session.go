package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/ptrscan/internal/config"
	"github.com/coral-mesh/ptrscan/internal/engine"
	perrors "github.com/coral-mesh/ptrscan/internal/errors"
	"github.com/coral-mesh/ptrscan/internal/logging"
	"github.com/coral-mesh/ptrscan/internal/memport"
	"github.com/coral-mesh/ptrscan/internal/privilege"
	"github.com/coral-mesh/ptrscan/internal/ptrmap"
	"github.com/coral-mesh/ptrscan/internal/retry"
	"github.com/coral-mesh/ptrscan/internal/sys/proc"
)

// Globals holds the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	LogLevel   string
	Pid        int
	Name       string
	Port       int
	Snapshot   string
	// Wait keeps looking for a --name or --port target that is not running yet.
	Wait time.Duration

	// Fs is the filesystem maps, chains and snapshots live on.
	Fs afero.Fs
}

// AddTargetFlags registers the persistent flags on the root command.
func (g *Globals) AddTargetFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "Config file (default ~/.ptrscan/config.yaml)")
	flags.StringVar(&g.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.IntVarP(&g.Pid, "pid", "p", 0, "Target process id")
	flags.StringVarP(&g.Name, "name", "n", "", "Target process name")
	flags.IntVar(&g.Port, "port", 0, "Target the process listening on this TCP port")
	flags.StringVar(&g.Snapshot, "snapshot", "", "Read memory from a snapshot directory instead of a live process")
	flags.DurationVar(&g.Wait, "wait", 0, "Wait up to this long for the --name or --port target to appear")
}

// Session is the loaded config, logger and memory port of one command.
type Session struct {
	Config *config.Config
	Logger zerolog.Logger
	Fs     afero.Fs
	Codec  memport.Codec
	// Port is nil for commands that only touch files.
	Port memport.Port
	// Pid is the live target, or zero.
	Pid int
}

// Filesystem returns Fs, defaulting to the OS filesystem.
func (g *Globals) Filesystem() afero.Fs {
	if g.Fs == nil {
		return afero.NewOsFs()
	}
	return g.Fs
}

// Load reads the config and builds the logger without opening a target.
func (g *Globals) Load() (*Session, error) {
	fs := g.Filesystem()

	cfg, err := config.NewLoader(fs).Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}

	return &Session{
		Config: cfg,
		Logger: logging.New(cfg.Logging()),
		Fs:     fs,
		Codec:  codec,
	}, nil
}

// Open loads the session and attaches to the selected target.
func (g *Globals) Open(ctx context.Context) (*Session, error) {
	s, err := g.Load()
	if err != nil {
		return nil, err
	}

	if g.Snapshot != "" {
		snap, err := memport.LoadSnapshot(s.Fs, g.Snapshot)
		if err != nil {
			return nil, err
		}
		s.Port = snap
		s.Logger.Debug().Str("snapshot", g.Snapshot).Int("pid", snap.Meta.Pid).Msg("Using snapshot")
		return s, nil
	}

	pid, err := g.resolvePid(ctx)
	if err != nil {
		return nil, err
	}
	osFs := afero.NewOsFs()
	if advice := privilege.ReadAdvice(privilege.PtraceScope(osFs), privilege.CanTrace(osFs)); advice != "" {
		Warn("%s", advice)
	}
	port, err := proc.Open(pid)
	if err != nil {
		return nil, err
	}
	s.Port = port
	s.Pid = pid
	exe, err := proc.ExePath(ctx, pid)
	if err != nil {
		exe = "unknown"
	}
	s.Logger.Debug().Int("pid", pid).Str("exe", exe).Msg("Attached to process")
	return s, nil
}

var errAmbiguous = errors.New("ambiguous target")

func (g *Globals) resolvePid(ctx context.Context) (int, error) {
	if g.Pid > 0 || g.Wait <= 0 || (g.Name == "" && g.Port == 0) {
		return g.findPid(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, g.Wait)
	defer cancel()
	var pid int
	err := retry.Do(ctx, retry.Config{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Jitter:         0.1,
	}, func() error {
		var err error
		pid, err = g.findPid(ctx)
		return err
	}, func(err error) bool {
		return errors.Is(err, perrors.ErrInvalidParameter) && !errors.Is(err, errAmbiguous)
	})
	return pid, err
}

func (g *Globals) findPid(ctx context.Context) (int, error) {
	switch {
	case g.Pid > 0:
		return g.Pid, nil
	case g.Name != "":
		pids, err := proc.FindPidsByName(ctx, g.Name)
		if err != nil {
			return 0, err
		}
		if len(pids) > 1 {
			return 0, fmt.Errorf("%d processes named %q (%v), pick one with --pid: %w: %w", len(pids), g.Name, pids, errAmbiguous, perrors.ErrInvalidParameter)
		}
		return pids[0], nil
	case g.Port > 0:
		return proc.FindPidByPort(ctx, g.Port)
	}
	return 0, fmt.Errorf("no target selected, use --pid, --name, --port or --snapshot: %w", perrors.ErrInvalidParameter)
}

// Engine returns an engine over the session port. progress, when set, receives
// pointer map build progress.
func (s *Session) Engine(progress ptrmap.ProgressFunc) (*engine.Engine, error) {
	opts, err := s.Config.EngineOptions(s.Fs, s.Logger)
	if err != nil {
		return nil, err
	}
	opts.Build.Progress = progress
	return engine.New(s.Port, opts), nil
}

// Store returns a pointer map store on the session filesystem.
func (s *Session) Store() *ptrmap.Store {
	return &ptrmap.Store{Fs: s.Fs, Logger: s.Logger}
}

// HandBack returns ownership of written files to the sudo caller.
func (s *Session) HandBack(paths ...string) {
	if _, ok := s.Fs.(*afero.OsFs); !ok {
		return
	}
	if err := privilege.FixOwnership(paths...); err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to fix file ownership")
	}
}

// Success prints a green status line to stderr.
func Success(format string, args ...any) {
	_, _ = color.New(color.FgGreen).Fprintf(color.Error, "[+] "+format+"\n", args...)
}

// Info prints a cyan status line to stderr.
func Info(format string, args ...any) {
	_, _ = color.New(color.FgCyan).Fprintf(color.Error, "[*] "+format+"\n", args...)
}

// Warn prints a yellow status line to stderr.
func Warn(format string, args ...any) {
	_, _ = color.New(color.FgYellow).Fprintf(color.Error, "[-] "+format+"\n", args...)
}
