package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/fettsack/geschmackstest/internal/logging"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "blogctl",
		Usage:     "administration of the geschmackstest blog backend",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "config environment [prod | production | dev | development]",
				Value: "development",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path for the TOML config file",
				Value:   "./config.toml",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "postgres connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "log level (trace, debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(logging.LoggerSetupParams{
				LogToStdout: true,
				LogLevel:    c.String("log-level"),
			})
			log.SetOutput(c.App.ErrWriter)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "manage the postgres schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: migrateUpCommand,
					},
					{
						Name:   "down",
						Usage:  "roll back the latest migration",
						Action: migrateDownCommand,
					},
					{
						Name:   "version",
						Usage:  "print the current schema version",
						Action: migrateVersionCommand,
					},
				},
			},
			{
				Name:   "seed",
				Usage:  "create the configured seed user unless it exists",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "password",
						Usage:   "seed user password, prompted when empty",
						EnvVars: []string{"GESCHMACKSTEST_ADMIN_PASSWORD"},
					},
				},
			},
			{
				Name:   "create-user",
				Usage:  "create an editor account",
				Action: createUserCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "name of the new user",
						Required: true,
					},
				},
			},
			{
				Name:   "hash-password",
				Usage:  "print the bcrypt hash of a password read from the terminal",
				Action: hashPasswordCommand,
			},
			{
				Name:   "export-posts",
				Usage:  "write all blog posts as JSON",
				Action: exportPostsCommand,
			},
		},
	}
}
