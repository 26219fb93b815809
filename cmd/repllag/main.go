// repllag prints how far a secondary trails the member it syncs from.
//
// Usage: repllag [flags] [host] [port]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/danmuck/replctl/internal/initiator"
	"github.com/danmuck/replctl/internal/logging"
	"github.com/danmuck/replctl/internal/repllag"
	"github.com/spf13/pflag"
)

const (
	defaultHost = "localhost"
	defaultPort = 27017
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "repllag: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	addr, client, timeout, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := repllag.Compute(ctx, repllag.MongoReader{Client: client}, addr)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, report.String())
	return err
}

func parseArgs(args []string) (string, initiator.MongoClient, time.Duration, error) {
	var client initiator.MongoClient
	var timeout time.Duration

	fs := pflag.NewFlagSet("repllag", pflag.ContinueOnError)
	fs.BoolVar(&client.TLS, "ssl", false, "connect with TLS")
	fs.StringVar(&client.TLSCAFile, "ssl_ca", "", "CA bundle for TLS verification (default: skip verification)")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline for both queries")
	if err := fs.Parse(args); err != nil {
		return "", client, 0, err
	}

	host := defaultHost
	port := defaultPort
	rest := fs.Args()
	if len(rest) > 2 {
		return "", client, 0, fmt.Errorf("unexpected argument: %s", rest[2])
	}
	if len(rest) > 0 {
		host = rest[0]
	}
	if len(rest) > 1 {
		p, err := strconv.Atoi(rest[1])
		if err != nil || p < 1 || p > 65535 {
			return "", client, 0, fmt.Errorf("invalid port %q", rest[1])
		}
		port = p
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), client, timeout, nil
}
