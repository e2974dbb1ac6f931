// Command cxrefd runs the persistent indexing daemon: it opens a local
// socket, accepts framed Compile/Query/Project/CreateOutput messages, and
// dispatches them against a registry of open projects (spec.md §6).
// Grounded on the teacher's cmd/lci main.go/main_server.go for CLI wiring
// (urfave/cli) and the server-command's start/signal/shutdown sequence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/parser"
	"github.com/cxrefd/cxrefd/internal/server"
	"github.com/cxrefd/cxrefd/internal/version"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:                   "cxrefd",
		Usage:                  "persistent C/C++ source cross-reference daemon",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "project root directory to index",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "override the daemon's socket path",
			},
			&cli.IntFlag{
				Name:  "bind-retries",
				Usage: "number of bind attempts before giving up (spec.md §7)",
				Value: 10,
			},
		},
		Action: runDaemon,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cxrefd:", err)
		os.Exit(1)
	}
}

func runDaemon(c *cli.Context) error {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Project.Root = root

	logDir := cfg.Logging.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.Index.DataDir, "logs")
	}
	if _, err := logging.InitLogFile(logDir); err != nil {
		fmt.Fprintln(os.Stderr, "cxrefd: warning: could not open log file:", err)
	}
	logging.SetMinLevel(logging.ParseLevel(cfg.Logging.MinLevel))

	socketPath := c.String("socket")
	if socketPath == "" {
		socketPath = server.SocketPathForRoot(root)
	}

	backend, err := parser.NewTreeSitterBackend()
	if err != nil {
		return fmt.Errorf("init parser backend: %w", err)
	}

	d := server.NewDaemon(socketPath, backend)
	if err := d.OpenProject(root); err != nil {
		return fmt.Errorf("open project %s: %w", root, err)
	}
	if err := server.StartWithRetry(d, socketPath, c.Int("bind-retries")); err != nil {
		return err
	}

	fmt.Printf("cxrefd listening on %s (root %s)\n", socketPath, root)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	waitDone := make(chan struct{})
	go func() {
		d.Wait()
		close(waitDone)
	}()

	select {
	case sig := <-sigChan:
		fmt.Printf("received %v, shutting down\n", sig)
	case <-waitDone:
		fmt.Println("daemon stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("cxrefd shut down cleanly")
	return nil
}
