package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"snapcal/internal/caldav"
	"snapcal/internal/config"
	"snapcal/internal/google"
	"snapcal/internal/models"
	"snapcal/internal/submit"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "snapcal",
		Usage: "Turn a photo of a flyer or schedule into calendar events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file.", EnvVars: []string{"SNAPCAL_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error). Overrides LOG_LEVEL."},
			&cli.StringFlag{Name: "timezone", Usage: "IANA timezone for new events. Overrides PRIMARY_TIMEZONE."},
			&cli.StringFlag{Name: "backend", Usage: "Calendar backend: google or caldav. Overrides CALENDAR_BACKEND."},
		},
		Commands: []*cli.Command{
			authCommand(),
			scanCommand(),
			addCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("timezone"); v != "" {
		cfg.Timezone = v
	}
	if v := c.String("backend"); v != "" {
		cfg.Calendar.Backend = v
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Name for this account (e.g., 'personal', 'work'). Prompted when empty."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Calendar.Google.ClientID, cfg.Calendar.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := c.String("account")
			if accountName == "" {
				fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
				accountName, _ = reader.ReadString('\n')
				accountName = strings.TrimSpace(accountName)
			}
			if accountName == "" {
				accountName = "default"
			}
			tokenFile := google.TokenFile(cfg.Calendar.Google.TokenDir, accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create one event by hand, skipping recognition and extraction.",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Event title.", Required: true},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Event description."},
			&cli.StringFlag{Name: "start", Aliases: []string{"s"}, Usage: "Start time, e.g. '2025-03-20 10:00' or RFC 3339.", Required: true},
			&cli.StringFlag{Name: "end", Aliases: []string{"e"}, Usage: "End time. Defaults to start plus --duration."},
			&cli.DurationFlag{Name: "duration", Value: time.Hour, Usage: "Event length when --end is not given."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ev, err := manualEvent(c.String("name"), c.String("description"), c.String("start"), c.String("end"), c.Duration("duration"), loc)
			if err != nil {
				return err
			}

			cal, err := newCalendar(c.Context, logger, cfg, loc)
			if err != nil {
				return err
			}
			credential, err := cal.session.Token(c.Context)
			if err != nil && !errors.Is(err, submit.ErrNoSession) {
				logger.Warn("Failed to read session credential.", "error", err)
			}

			res := cal.submitter.Submit(c.Context, ev, credential)
			if !res.Accepted() {
				return cli.Exit(models.UserMessage(res.Err), 1)
			}
			printAccepted(os.Stdout, ev, res)
			return nil
		},
	}
}

// manualEvent builds a candidate from the add command's flags.
func manualEvent(name, description, start, end string, duration time.Duration, loc *time.Location) (models.CandidateEvent, error) {
	ev := models.CandidateEvent{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		StartParsed: true,
		EndParsed:   true,
	}
	var err error
	if ev.Start, err = parseWhen(start, loc); err != nil {
		return ev, fmt.Errorf("invalid --start: %w", err)
	}
	if end == "" {
		ev.End = ev.Start.Add(duration)
		return ev, nil
	}
	if ev.End, err = parseWhen(end, loc); err != nil {
		return ev, fmt.Errorf("invalid --end: %w", err)
	}
	return ev, nil
}

// calendarBackend bundles the submission side selected by configuration.
type calendarBackend struct {
	submitter *submit.Adapter
	session   submit.SessionProvider
}

// newCalendar wires the configured backend and its credential source.
func newCalendar(ctx context.Context, logger *slog.Logger, cfg *config.Config, loc *time.Location) (*calendarBackend, error) {
	switch cfg.Calendar.Backend {
	case config.BackendCalDAV:
		dav := cfg.Calendar.CalDAV
		if dav.Username == "" {
			// Without an account the session stays empty and scan runs read-only.
			dav.Password = ""
		}
		client := caldav.NewClient(logger, dav.Endpoint, dav.Username, dav.CalendarName)
		return &calendarBackend{
			submitter: submit.NewAdapter(logger, client, cfg.Calendar.Timeout),
			session:   caldav.PasswordSession(dav.Password),
		}, nil
	default:
		g := cfg.Calendar.Google
		session, err := loadGoogleSession(ctx, logger, g)
		if err != nil {
			return nil, err
		}
		client := google.NewClient(logger, g.CalendarID, loc)
		return &calendarBackend{
			submitter: submit.NewAdapter(logger, client, cfg.Calendar.Timeout),
			session:   session,
		}, nil
	}
}

// loadGoogleSession opens the configured account's token, or the first saved
// one. Having no token at all yields an empty session.
func loadGoogleSession(ctx context.Context, logger *slog.Logger, g config.GoogleConfig) (*google.Session, error) {
	account := g.Account
	if account == "" {
		accounts, err := google.GetTokenAccounts(g.TokenDir)
		if err != nil {
			return nil, fmt.Errorf("could not list google accounts: %w", err)
		}
		if len(accounts) == 0 {
			logger.Debug("No Google token found, continuing without a session.", "dir", g.TokenDir)
			return &google.Session{}, nil
		}
		account = accounts[0]
		if len(accounts) > 1 {
			logger.Info("Several Google accounts found, using the first.", "account", account, "count", len(accounts))
		}
	}

	oauthConfig, err := google.GetOAuthConfigForAuthFlow(g.ClientID, g.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get google oauth config: %w", err)
	}
	return google.LoadSession(ctx, oauthConfig, g.TokenDir, account)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
