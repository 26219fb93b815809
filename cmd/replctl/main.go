// replctl starts a local replica set: one mongod per member, each gated
// on a readiness probe, then initiates the set and tails every member's
// output under a colored prefix until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danmuck/replctl/internal/bootstrap"
	"github.com/danmuck/replctl/internal/config"
	"github.com/danmuck/replctl/internal/console"
	"github.com/danmuck/replctl/internal/logging"
	"github.com/spf13/pflag"
)

// shutdownSignals end the run and trigger teardown.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

type action int

const (
	actionRun action = iota
	actionHelp
	actionWriteConfig
	actionPrintConfig
)

type invocation struct {
	action     action
	cfg        config.Config
	configPath string
	writePath  string
	force      bool
	flagSet    *pflag.FlagSet
}

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "replctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout *os.File) error {
	inv, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch inv.action {
	case actionHelp:
		printHelp(os.Stderr, inv.flagSet)
		return nil
	case actionWriteConfig:
		if err := config.WriteTemplate(inv.writePath, inv.force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote config template to %s\n", inv.writePath)
		return nil
	case actionPrintConfig:
		data, err := config.Dump(inv.cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	return bootstrap.Run(ctx, bootstrapOptions(inv.cfg, stdout), bootstrap.Deps{})
}

func bootstrapOptions(cfg config.Config, stdout *os.File) bootstrap.Options {
	return bootstrap.Options{
		Layout:        cfg.Layout(),
		Engine:        cfg.Engine(),
		MongoPath:     cfg.MongoPath,
		Reset:         cfg.Reset,
		SettleDelay:   cfg.SettleDelay,
		Probe:         cfg.Probe(),
		PollInterval:  cfg.PollInterval,
		StatusBackoff: cfg.StatusBackoff,
		NoColor:       console.Detect(stdout, cfg.Color),
		Out:           stdout,
		MetricsAddr:   cfg.MetricsAddr,
	}
}

// parseArgs layers defaults, the optional config file and explicitly
// set flags, in that order.
func parseArgs(args []string) (invocation, error) {
	def := config.Default()
	inv := invocation{action: actionRun}

	var mongoPath, dbPath, host, name, color, metricsAddr, ssl, sslPath, sslPass string
	var setSize, arbiters, oplogSize, port int
	var noReset, printConfig bool
	var settle time.Duration

	fs := pflag.NewFlagSet("replctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&inv.configPath, "config", "", "TOML config file")
	fs.StringVar(&mongoPath, "mongo_path", def.MongoPath, "path to MongoDB executables")
	fs.StringVar(&dbPath, "dbpath", def.DataDir, "base data directory, wiped each run")
	fs.IntVarP(&setSize, "set_size", "n", def.SetSize, "number of nodes in the set")
	fs.IntVar(&arbiters, "arbiters", def.Arbiters, "number of arbiters, must be less than the set size")
	fs.IntVar(&oplogSize, "oplog_size", def.OplogSizeMB, "oplogSize for non-arbiter nodes")
	fs.IntVar(&port, "port", def.Port, "first port number to use")
	fs.StringVar(&host, "host", def.Host, "host name members advertise")
	fs.StringVar(&name, "name", def.Name, "replica set name")
	fs.StringVar(&ssl, "ssl", strconv.FormatBool(def.TLS.Enabled), "enable TLS on every member; takes an optional `bool` such as --ssl=false or --ssl True")
	fs.Lookup("ssl").NoOptDefVal = "true"
	fs.StringVar(&sslPath, "ssl_path", def.TLS.PEMKeyFile, "path to PEM cert/key")
	fs.StringVar(&sslPass, "ssl_pass", def.TLS.PEMKeyPassword, "password for PEM cert/key")
	fs.BoolVar(&noReset, "no-reset", false, "keep existing data directories")
	fs.DurationVar(&settle, "settle", def.SettleDelay, "delay between startup and initiation")
	fs.StringVar(&color, "color", def.Color, "auto, always or never")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVar(&inv.writePath, "write-config", "", "write a config template to this path and exit")
	fs.BoolVar(&inv.force, "force", false, "overwrite an existing file with --write-config")
	fs.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	fs.BoolP("help", "h", false, "show help")
	inv.flagSet = fs

	if err := fs.Parse(joinBoolValue(args, "ssl")); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			inv.action = actionHelp
			return inv, nil
		}
		return inv, err
	}
	if help, _ := fs.GetBool("help"); help {
		inv.action = actionHelp
		return inv, nil
	}
	if rest := fs.Args(); len(rest) > 0 {
		return inv, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if inv.writePath != "" {
		inv.action = actionWriteConfig
		return inv, nil
	}

	cfg := def
	if inv.configPath != "" {
		loaded, err := loadFileConfig(inv.configPath, cfg)
		if err != nil {
			return inv, err
		}
		cfg = loaded
	}

	if fs.Changed("mongo_path") {
		cfg.MongoPath = mongoPath
	}
	if fs.Changed("dbpath") {
		cfg.DataDir = dbPath
	}
	if fs.Changed("set_size") {
		cfg.SetSize = setSize
	}
	if fs.Changed("arbiters") {
		cfg.Arbiters = arbiters
	}
	if fs.Changed("oplog_size") {
		cfg.OplogSizeMB = oplogSize
	}
	if fs.Changed("port") {
		cfg.Port = port
	}
	if fs.Changed("host") {
		cfg.Host = host
	}
	if fs.Changed("name") {
		cfg.Name = name
	}
	if fs.Changed("ssl") {
		enabled, err := strconv.ParseBool(ssl)
		if err != nil {
			return inv, fmt.Errorf("invalid --ssl value %q", ssl)
		}
		cfg.TLS.Enabled = enabled
	}
	if fs.Changed("ssl_path") {
		cfg.TLS.PEMKeyFile = sslPath
	}
	if fs.Changed("ssl_pass") {
		cfg.TLS.PEMKeyPassword = sslPass
	}
	if fs.Changed("no-reset") {
		cfg.Reset = !noReset
	}
	if fs.Changed("settle") {
		cfg.SettleDelay = settle
	}
	if fs.Changed("color") {
		cfg.Color = color
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}

	if err := config.Validate(cfg); err != nil {
		return inv, err
	}
	inv.cfg = cfg
	if printConfig {
		inv.action = actionPrintConfig
	}
	return inv, nil
}

// joinBoolValue rewrites "--name X" as "--name=X" when X parses as a
// bool, so the flag accepts a bare form and a spaced value alike.
func joinBoolValue(args []string, name string) []string {
	flag := "--" + name
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}
		if arg == flag && i+1 < len(args) {
			if _, err := strconv.ParseBool(args[i+1]); err == nil {
				out = append(out, flag+"="+args[i+1])
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `replctl starts a local replica set and tails its output.

Every member runs on localhost from --port upward. Arbiters take the
lowest ports. Data under --dbpath is wiped on each run unless
--no-reset is given.

Usage:
  replctl [flags]

Flags:
%s`, fs.FlagUsages())
}
