// Command cxref is the thin client talking to a running cxrefd daemon over
// its local socket, grounded on the teacher's cmd/lci search/status/debug
// commands and its ensureServerRunning auto-start behavior.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cxrefd/cxrefd/internal/server"
	"github.com/cxrefd/cxrefd/internal/types"
	"github.com/cxrefd/cxrefd/internal/version"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "cxref",
		Usage:   "query a running cxrefd daemon",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "project root", Value: "."},
			&cli.DurationFlag{Name: "timeout", Usage: "request timeout", Value: 30 * time.Second},
		},
		Commands: []*cli.Command{
			followCommand(),
			referencesCommand(),
			listSymbolsCommand(),
			findSymbolsCommand(),
			findFileCommand(),
			cursorInfoCommand(),
			diagnosticsCommand(),
			statusCommand(),
			reindexCommand(),
			shutdownCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cxref:", err)
		os.Exit(1)
	}
}

func clientFor(c *cli.Context) (*server.Client, context.Context, context.CancelFunc, error) {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return nil, nil, nil, err
	}
	socketPath := server.SocketPathForRoot(root)
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		if startErr := autoStart(root); startErr != nil {
			return nil, nil, nil, fmt.Errorf("daemon not running and auto-start failed: %w", startErr)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	return server.NewClient(socketPath), ctx, cancel, nil
}

// autoStart launches cxrefd detached against root, mirroring the teacher's
// ensureServerRunning: find our own executable's sibling cxrefd and spawn it
// as a background process the caller doesn't wait on.
func autoStart(root string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	daemonPath := filepath.Join(filepath.Dir(self), "cxrefd")
	cmd := exec.Command(daemonPath, "--root", root)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := cmd.Process.Release(); err != nil {
		return err
	}
	time.Sleep(300 * time.Millisecond)
	return nil
}

func printLines(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

func followCommand() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "follow-location: resolve a location to its declaration/definition target",
		ArgsUsage: "<path:offset>",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryFollowLocation, Query: c.Args().First()})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func referencesCommand() *cli.Command {
	return &cli.Command{
		Name:      "references",
		Usage:     "list every reference to the symbol at a location",
		ArgsUsage: "<path:offset>",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryReferencesLocation, Query: c.Args().First()})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func listSymbolsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-symbols",
		Usage:     "list every indexed symbol name starting with a prefix",
		ArgsUsage: "[prefix]",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryListSymbols, Query: c.Args().First()})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func findSymbolsCommand() *cli.Command {
	return &cli.Command{
		Name:      "find-symbols",
		Usage:     "find every indexed symbol name containing a substring",
		ArgsUsage: "<substring>",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryFindSymbols, Query: c.Args().First()})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func findFileCommand() *cli.Command {
	return &cli.Command{
		Name:      "find-file",
		Usage:     "find tracked files matching a pattern",
		ArgsUsage: "<pattern>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "regex", Usage: "interpret pattern as a regular expression"},
		},
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			var flags types.QueryFlag
			if c.Bool("regex") {
				flags |= types.QueryFlagMatchRegexp
			}
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryFindFile, Query: c.Args().First(), Flags: flags})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func cursorInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "cursor-info",
		Usage:     "show the cursor recorded at a location",
		ArgsUsage: "<path:offset>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recurse", Usage: "also print targets and references"},
		},
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			var flags types.QueryFlag
			if c.Bool("recurse") {
				flags |= types.QueryFlagFindVirtuals
			}
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryCursorInfo, Query: c.Args().First(), Flags: flags})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func diagnosticsCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagnostics",
		Usage:     "show diagnostics recorded for a file",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryDiagnostics, Query: c.Args().First()})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show indexing status counters",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryStatus})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "force a full reindex of every known source",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := clientFor(c)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := client.Query(ctx, types.QueryMessage{Type: types.QueryReindex})
			if err != nil {
				return err
			}
			printLines(lines)
			return nil
		},
	}
}

func shutdownCommand() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "ask the daemon to shut down cleanly",
		Action: func(c *cli.Context) error {
			root, err := filepath.Abs(c.String("root"))
			if err != nil {
				return err
			}
			socketPath := server.SocketPathForRoot(root)
			if _, err := os.Stat(socketPath); os.IsNotExist(err) {
				return fmt.Errorf("no daemon running for root %s", root)
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()
			return server.NewClient(socketPath).Shutdown(ctx)
		},
	}
}
