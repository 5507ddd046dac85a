// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// serveCommand runs the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the list manager API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to server.addr)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "How long to wait for in-flight requests on shutdown",
				Value: 10 * time.Second,
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create the config file if missing and initialize the store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// blocklistCommand mirrors the external domain-block feed.
func blocklistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "blocklist",
		Usage: "Manage the mirrored domain block list",
		Commands: []*cli.Command{
			{
				Name:  "refresh",
				Usage: "Replace the block list with the current feed",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Feed URL (defaults to blocklist.url)",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "Read the feed from a local JSON file instead",
					},
				},
				Action: r.BlocklistRefresh,
			},
			{
				Name:  "list",
				Usage: "Show mirrored block list entries",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.BlocklistList,
			},
		},
	}
}

// allowCommand manages hosts that bypass the block list.
func allowCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "allow",
		Usage: "Manage hosts that are always allowed",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Always allow a host",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "host"},
				},
				Action: r.AllowAdd,
			},
			{
				Name:  "remove",
				Usage: "Stop always allowing a host",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "host"},
				},
				Action: r.AllowRemove,
			},
			{
				Name:  "list",
				Usage: "List always-allowed hosts",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AllowList,
			},
		},
	}
}

// loginCommand runs the OAuth login from the terminal.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in to a Mastodon host and print the session token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "domain",
				Aliases:  []string{"d"},
				Usage:    "Host, URL or account handle to log in to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the authorization page in the browser",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Local port that receives the callback",
				Value: 3000,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the callback",
				Value: 5 * time.Minute,
			},
		},
		Action: r.Login,
	}
}
