package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/cileserver/internal/logging"
	"github.com/danmuck/cileserver/internal/protocol/session"
)

const usageText = `Usage: cilectl [OPTIONS] COMMAND [ARGS]

Options:
  -h, --host HOST    Server hostname (default: %s)
  -p, --port PORT    Server port (default: %d)
  -config PATH       Client config file
  -retries N         Connection attempts

Commands:
  list [PATH]                List directory contents (default /)
  get REMOTE_PATH LOCAL_PATH Download a file
  put REMOTE_PATH LOCAL_PATH Upload a file
  delete PATH                Delete a file or empty directory
  mkdir PATH                 Create a directory
`

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, usageText, defaultHost, defaultPort)
}

// run returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cilectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var host string
	var port, retries int
	var configPath string
	fs.StringVar(&host, "h", defaultHost, "")
	fs.StringVar(&host, "host", defaultHost, "")
	fs.IntVar(&port, "p", defaultPort, "")
	fs.IntVar(&port, "port", defaultPort, "")
	fs.StringVar(&configPath, "config", "", "")
	fs.IntVar(&retries, "retries", 0, "")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout)
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		usage(stderr)
		return 1
	}

	cfg := defaultClientConfig()
	if configPath != "" {
		loaded, err := loadClientConfig(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "h", "host":
			cfg.Host = host
		case "p", "port":
			cfg.Port = port
		case "retries":
			cfg.Session.ConnectAttempts = retries
		}
	})

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return 1
	}
	cmd, cmdArgs := rest[0], rest[1:]
	if err := checkArgs(cmd, cmdArgs); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sess, err := session.Dial(ctx, cfg.addr(), cfg.Session)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer sess.Close()

	if err := execute(sess, cmd, cmdArgs, stdout); err != nil {
		reportError(stderr, err)
		return 1
	}
	return 0
}

func checkArgs(cmd string, args []string) error {
	switch cmd {
	case "list":
		return nil
	case "get", "put":
		if len(args) < 2 {
			return fmt.Errorf("%s command requires REMOTE_PATH and LOCAL_PATH", cmd)
		}
	case "delete", "mkdir":
		if len(args) < 1 {
			return fmt.Errorf("%s command requires PATH", cmd)
		}
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func execute(sess *session.Session, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "list":
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		return listDirectory(sess, path, stdout)
	case "get":
		return getFile(sess, args[0], args[1], stdout)
	case "put":
		return putFile(sess, args[0], args[1], stdout)
	case "delete":
		fmt.Fprintf(stdout, "Deleting: %s\n", args[0])
		return printConfirmation(stdout)(sess.Delete(args[0]))
	case "mkdir":
		fmt.Fprintf(stdout, "Creating directory: %s\n", args[0])
		return printConfirmation(stdout)(sess.Mkdir(args[0]))
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func printConfirmation(stdout io.Writer) func(string, error) error {
	return func(msg string, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, msg)
		return nil
	}
}

func listDirectory(sess *session.Session, path string, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Listing directory: %s\n", path)
	entries, err := sess.List(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Directory contents (%d entries):\n", len(entries))
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tSize\tType\tModified")
	for _, e := range entries {
		kind := "File"
		if e.IsDir {
			kind = "Directory"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Name, e.Size, kind, e.ModTime().Format(time.DateTime))
	}
	return tw.Flush()
}

// getFile writes the local file only after an OK response.
func getFile(sess *session.Session, remote, local string, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Getting file: %s -> %s\n", remote, local)
	data, err := sess.Get(remote)
	if err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", local, err)
	}
	fmt.Fprintf(stdout, "File downloaded successfully (%d bytes)\n", len(data))
	return nil
}

func putFile(sess *session.Session, remote, local string, stdout io.Writer) error {
	if strings.HasSuffix(remote, "/") {
		return fmt.Errorf("cannot write to a directory path %q, specify a file path", remote)
	}
	fmt.Fprintf(stdout, "Putting file: %s -> %s\n", local, remote)
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}
	return printConfirmation(stdout)(sess.Put(remote, data))
}

func reportError(stderr io.Writer, err error) {
	var rerr *session.RemoteError
	if errors.As(err, &rerr) {
		fmt.Fprintln(stderr, "Server returned error")
		if rerr.Message != "" {
			fmt.Fprintf(stderr, "Error message: %s\n", rerr.Message)
		}
		return
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
}
