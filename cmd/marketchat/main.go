package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "marketchat",
		Usage: "campus marketplace chat from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8080",
				Usage:   "campusmarket API base URL",
				EnvVars: []string{"MARKETCHAT_API"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token (overrides the saved session)",
				EnvVars: []string{"MARKETCHAT_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "session-file",
				Usage:   "where the session token is stored",
				Value:   defaultSessionPath(),
				EnvVars: []string{"MARKETCHAT_SESSION"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log engine activity to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "create an account and sign in",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"MARKETCHAT_PASSWORD"}},
					&cli.StringFlag{Name: "campus"},
				},
				Action: registerAction,
			},
			{
				Name:  "login",
				Usage: "sign in and remember the session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"MARKETCHAT_PASSWORD"}},
				},
				Action: loginAction,
			},
			{
				Name:   "logout",
				Usage:  "end the session",
				Action: logoutAction,
			},
			{
				Name:   "whoami",
				Usage:  "show the signed-in user",
				Action: whoamiAction,
			},
			{
				Name:  "listings",
				Usage: "browse the catalog",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "marketplace, housing or services"},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: listingsAction,
			},
			{
				Name:      "interested",
				Usage:     "open (or reuse) the conversation about a listing",
				ArgsUsage: "<listing-id>",
				Action:    interestedAction,
			},
			{
				Name:  "inbox",
				Usage: "list conversations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "archived", Usage: "show the archived tab"},
				},
				Action: inboxAction,
			},
			{
				Name:      "send",
				Usage:     "send one message, optionally with up to 3 images",
				ArgsUsage: "<conversation-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Aliases: []string{"m"}},
					&cli.StringSliceFlag{Name: "attach", Aliases: []string{"a"}, Usage: "image file, repeatable"},
				},
				Action: sendAction,
			},
			{
				Name:      "chat",
				Usage:     "open a conversation and follow it live",
				ArgsUsage: "<conversation-id>",
				Action:    chatAction,
			},
			{
				Name:      "archive",
				Usage:     "move a conversation to the archived tab",
				ArgsUsage: "<conversation-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "move it back to the active tab"},
				},
				Action: archiveAction,
			},
			{
				Name:      "delete",
				Usage:     "hide a conversation for yourself",
				ArgsUsage: "<conversation-id>",
				Action:    deleteAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "marketchat:", err)
		os.Exit(1)
	}
}
