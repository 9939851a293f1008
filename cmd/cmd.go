// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

func formatFlag(value string) cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, csv, markdown, txt",
		Value:   value,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write the example configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Sign in through the configured OAuth2 provider",
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show who commands run as",
				Flags:  jsonFlags(),
				Action: r.AuthStatus,
			},
			{
				Name:  "token",
				Usage: "Issue a relay token for a browser peer",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: 12 * time.Hour,
					},
				},
				Action: r.AuthToken,
			},
		},
	}
}

// playlistCommand handles playlist operations
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Shared playlist operations",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a playlist",
				ArgsUsage: "<name>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "description",
						Usage: "Playlist description",
					},
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Let anyone open the playlist",
					},
				}, jsonFlags()...),
				Action: r.PlaylistCreate,
			},
			{
				Name:   "list",
				Usage:  "List playlists you own or collaborate on",
				Flags:  jsonFlags(),
				Action: r.PlaylistList,
			},
			{
				Name:      "show",
				Usage:     "Show a playlist with its themes and collaborators",
				ArgsUsage: "<playlist-id>",
				Flags:     []cli.Flag{formatFlag("txt")},
				Action:    r.PlaylistShow,
			},
			{
				Name:      "add",
				Usage:     "Add a theme by catalog reference or by hand",
				ArgsUsage: "<playlist-id> [anime/OP1]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Song title"},
					&cli.StringFlag{Name: "show", Usage: "Anime title"},
					&cli.StringFlag{Name: "kind", Usage: "op, ed or in", Value: "op"},
					&cli.StringFlag{Name: "media", Usage: "Media URL"},
				}, jsonFlags()...),
				Action: r.PlaylistAdd,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a theme",
				ArgsUsage: "<playlist-id> <track-id>",
				Action:    r.PlaylistRemove,
			},
			{
				Name:      "reorder",
				Usage:     "Set the queue order; every track id must appear once",
				ArgsUsage: "<playlist-id> <track-id>...",
				Action:    r.PlaylistReorder,
			},
			{
				Name:      "rename",
				Usage:     "Change name, description or visibility",
				ArgsUsage: "<playlist-id> [name]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Usage: "New description"},
					&cli.StringFlag{Name: "visibility", Usage: "public or private"},
				},
				Action: r.PlaylistRename,
			},
			{
				Name:      "export",
				Usage:     "Export playlists to disk",
				ArgsUsage: "<playlist-id>...",
				Flags: []cli.Flag{
					formatFlag("json"),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent exports",
						Value: 4,
					},
				},
				Action: r.PlaylistExport,
			},
		},
	}
}

// inviteCommand handles invitation operations
func inviteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "invite",
		Usage: "Invitations and collaborators",
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Invite a user by id or email",
				ArgsUsage: "<playlist-id> <user>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "role",
						Usage: "editor or viewer",
						Value: "editor",
					},
				},
				Action: r.InviteSend,
			},
			{
				Name:      "respond",
				Usage:     "Accept or decline an invitation",
				ArgsUsage: "<invitation-id> <accept|decline>",
				Action:    r.InviteRespond,
			},
			{
				Name:      "list",
				Usage:     "List a playlist's collaborators",
				ArgsUsage: "<playlist-id>",
				Flags:     jsonFlags(),
				Action:    r.InviteList,
			},
			{
				Name:   "pending",
				Usage:  "List invitations waiting for you",
				Flags:  jsonFlags(),
				Action: r.InvitePending,
			},
		},
	}
}

// changesCommand handles change log operations
func changesCommand(r *Runner) *cli.Command {
	limit := &cli.IntFlag{
		Name:    "limit",
		Aliases: []string{"n"},
		Usage:   "Maximum number of records",
		Value:   50,
	}
	return &cli.Command{
		Name:  "changes",
		Usage: "Playlist change log",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "Show recent changes, newest first",
				ArgsUsage: "<playlist-id>",
				Flags:     []cli.Flag{limit, formatFlag("txt")},
				Action:    r.ChangesList,
			},
			{
				Name:      "export",
				Usage:     "Write recent changes to a file",
				ArgsUsage: "<playlist-id>",
				Flags: []cli.Flag{
					limit,
					formatFlag("csv"),
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Output file",
						Required: true,
					},
				},
				Action: r.ChangesExport,
			},
		},
	}
}

// importCommand resolves catalog references and adds them to a playlist.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Bulk add themes from the catalog",
		ArgsUsage: "<playlist-id> [anime/OP1]...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "File with one reference per line",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent catalog lookups",
				Value: 4,
			},
		},
		Action: r.Import,
	}
}

// sessionCommand runs a headless collaboration session.
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Join a playlist headless: play the queue and log presence and changes",
		ArgsUsage: "<playlist-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "play",
				Usage: "Start playing the first theme",
				Value: true,
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Leave after this long (0 waits for ctrl+c)",
			},
		},
		Action: r.Session,
	}
}

// tuiCommand returns the top-level TUI command for interactive playback.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive player",
		Action:  r.TUI,
	}
}

// serveCommand runs the relay.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the WebSocket relay for browser peers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default from config)",
			},
		},
		Action: r.Serve,
	}
}
