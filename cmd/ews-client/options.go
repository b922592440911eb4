package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	ews "github.com/smnsjas/go-ews"
	"github.com/smnsjas/go-ews/client"
	ewslog "github.com/smnsjas/go-ews/internal/log"
)

const (
	envPassword = "EWS_PASSWORD"
	envToken    = "EWS_TOKEN"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configFile string
	flags      client.Config

	logLevel      string
	logFile       string
	logMaxSize    int64
	logMaxBackups int
	audit         bool
	metricsFile   string

	retryAttempts int
	rateLimit     float64

	logger    *slog.Logger
	logWriter io.Writer
	logClose  func() error
	registry  *prometheus.Registry
}

func (o *globalOptions) install(fs *pflag.FlagSet) {
	d := client.DefaultConfig()
	fs.StringVarP(&o.configFile, "config", "c", "", "YAML configuration file; flags override its values")
	fs.StringVar(&o.flags.Host, "host", "", "Exchange server URL or host name")
	fs.StringVar(&o.flags.AuthKind, "auth", d.AuthKind, "Authentication: ntlm, basic or bearer")
	fs.StringVarP(&o.flags.Username, "user", "u", "", "User name")
	fs.StringVar(&o.flags.Domain, "domain", "", "NTLM domain")
	fs.StringVar(&o.flags.Workstation, "workstation", "", "NTLM workstation name")
	fs.StringVar(&o.flags.NTHash, "nt-hash", "", "Hex NT hash used instead of a password (needs --lm-hash)")
	fs.StringVar(&o.flags.LMHash, "lm-hash", "", "Hex LM hash used instead of a password (needs --nt-hash)")
	fs.StringVar(&o.flags.CacheDir, "cache-dir", "", "Directory for the downloaded service documents")
	fs.BoolVar(&o.flags.Strict, "strict", false, "Reject negotiate responses without an NTLM challenge")
	fs.BoolVar(&o.flags.InsecureSkipVerify, "insecure", false, "Skip TLS certificate verification")
	fs.DurationVar(&o.flags.Timeout, "timeout", d.Timeout, "Timeout for each HTTP call")
	fs.StringVar(&o.flags.Proxy, "proxy", "", `Proxy URL, or "direct" to ignore proxy environment variables`)

	fs.IntVar(&o.retryAttempts, "retry-attempts", 0, "Attempts for throttled calls (0 disables retries)")
	fs.Float64Var(&o.rateLimit, "rate-limit", 0, "Maximum calls per second (0 is unlimited)")

	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error (empty disables logging)")
	fs.StringVar(&o.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.Int64Var(&o.logMaxSize, "log-max-size", 10<<20, "Rotate the log file after this many bytes")
	fs.IntVar(&o.logMaxBackups, "log-max-backups", 3, "Rotated log files to keep")
	fs.BoolVar(&o.audit, "audit", false, "Emit security audit events as JSON to the log output")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}

// setupLogging builds the logger from the log flags.
func (o *globalOptions) setupLogging() error {
	o.logClose = func() error { return nil }
	o.logWriter = o.stderr

	level, enabled := slog.LevelInfo, o.logLevel != ""
	switch strings.ToLower(o.logLevel) {
	case "":
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return ews.Errorf(ews.KindConfig, "log-level",
			fmt.Sprintf("invalid log level %q: valid values are debug, info, warn, error", o.logLevel))
	}

	if o.logFile != "" {
		rf, err := ewslog.NewRotatingFile(o.logFile, o.logMaxSize, o.logMaxBackups)
		if err != nil {
			return ews.E(ews.KindConfig, "log-file", err)
		}
		o.logWriter, o.logClose = rf, rf.Close
	}
	if !enabled {
		o.logger = slog.New(slog.DiscardHandler)
		return nil
	}
	o.logger = slog.New(ewslog.NewRedactingHandler(
		slog.NewTextHandler(o.logWriter, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the configuration file, overlays the flags that were set
// on the command line and fills in secrets from the environment.
func (o *globalOptions) loadConfig(fs *pflag.FlagSet) (client.Config, error) {
	cfg := client.DefaultConfig()
	if o.configFile != "" {
		data, err := os.ReadFile(o.configFile)
		if err != nil {
			return cfg, ews.E(ews.KindConfig, "config: read", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, ews.E(ews.KindConfig, "config: parse "+o.configFile, err)
		}
	}

	overlay := map[string]func(){
		"host":        func() { cfg.Host = o.flags.Host },
		"auth":        func() { cfg.AuthKind = o.flags.AuthKind },
		"user":        func() { cfg.Username = o.flags.Username },
		"domain":      func() { cfg.Domain = o.flags.Domain },
		"workstation": func() { cfg.Workstation = o.flags.Workstation },
		"nt-hash":     func() { cfg.NTHash = o.flags.NTHash },
		"lm-hash":     func() { cfg.LMHash = o.flags.LMHash },
		"cache-dir":   func() { cfg.CacheDir = o.flags.CacheDir },
		"strict":      func() { cfg.Strict = o.flags.Strict },
		"insecure":    func() { cfg.InsecureSkipVerify = o.flags.InsecureSkipVerify },
		"timeout":     func() { cfg.Timeout = o.flags.Timeout },
		"proxy":       func() { cfg.Proxy = o.flags.Proxy },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply()
		}
	})
	if cfg.AuthKind == "" {
		cfg.AuthKind = client.DefaultConfig().AuthKind
	}

	switch strings.ToLower(cfg.AuthKind) {
	case "bearer":
		if tok := os.Getenv(envToken); tok != "" {
			cfg.Token = tok
		}
	default:
		if pw := os.Getenv(envPassword); pw != "" {
			cfg.Password = pw
		}
		if cfg.Password == "" && cfg.NTHash == "" && cfg.LMHash == "" && cfg.Username != "" {
			pw, err := o.readPassword()
			if err != nil {
				return cfg, ews.E(ews.KindConfig, "config: password", err)
			}
			cfg.Password = pw
		}
	}
	return cfg, nil
}

// readPassword prompts on the terminal without echo, or reads one line from
// non-terminal input.
func (o *globalOptions) readPassword() (string, error) {
	fmt.Fprint(o.stderr, "Password: ")
	if f, ok := o.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(o.stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(o.stdin).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("no password on standard input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newClient builds a client from the loaded configuration.
func (o *globalOptions) newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := o.loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	o.logger.Debug("configuration loaded", "config", cfg)

	opts := []client.Option{client.WithLogger(o.logger)}
	if o.audit {
		opts = append(opts, client.WithSecurityLogger(o.auditLogger()))
	}
	if o.metricsFile != "" {
		o.registry = prometheus.NewRegistry()
		opts = append(opts, client.WithMetrics(o.registry))
	}
	if o.retryAttempts > 0 {
		p := client.DefaultRetryPolicy()
		p.MaxAttempts = o.retryAttempts
		opts = append(opts, client.WithRetryPolicy(p))
	}
	if o.rateLimit > 0 {
		opts = append(opts, client.WithRateLimit(o.rateLimit, 1))
	}
	return client.New(cfg, opts...)
}

// auditLogger writes security events as JSON next to the regular log.
func (o *globalOptions) auditLogger() *slog.Logger {
	return slog.New(ewslog.NewRedactingHandler(slog.NewJSONHandler(o.logWriter, nil)))
}

// finish flushes metrics and closes the log file.
func (o *globalOptions) finish() error {
	var err error
	if o.registry != nil && o.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(o.metricsFile, o.registry); werr != nil {
			err = ews.E(ews.KindFileSystem, "metrics-file", werr)
		}
	}
	if cerr := o.logClose(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
