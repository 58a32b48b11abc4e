package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/classmate/internal/config"
	"github.com/hpungsan/classmate/internal/db"
	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/fileio"
	"github.com/hpungsan/classmate/internal/reminder"
	"github.com/hpungsan/classmate/internal/timetable"
)

// maxImportBytes caps a timetable read from a file or stdin.
const maxImportBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.App {
	if logger == nil {
		logger = slog.Default()
	}
	app := &cli.App{
		Name:    "classmate",
		Usage:   "Timetable assistant with daily class reminders",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(database, cfg, logger),
			mcpCmd(database, cfg, logger),
			parseTimeCmd(),
			showCmd(database),
			tomorrowCmd(database, cfg),
			askCmd(database, cfg, logger),
			importCmd(database, cfg, logger),
			exportCmd(database),
			deleteCmd(database),
			inboxCmd(database),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Chat user id"}
}

func serveCmd(database *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the reminder scheduler with the Telegram bot and HTTP ingress",
		Action: func(c *cli.Context) error {
			if err := runServe(database, cfg, logger); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func mcpCmd(database *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Action: func(c *cli.Context) error {
			if err := runMCP(database, cfg, logger); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// ParseTimeOutput is the parse-time result.
type ParseTimeOutput struct {
	Input   string `json:"input"`
	Time    string `json:"time"`
	Display string `json:"display"`
}

func parseTimeCmd() *cli.Command {
	return &cli.Command{
		Name:      "parse-time",
		Usage:     "Parse a reminder time such as \"8:30 PM\" or \"20:30\"",
		ArgsUsage: "<time>",
		Action: func(c *cli.Context) error {
			input := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(input) == "" {
				return outputError(errors.NewInvalidRequest("time argument is required"))
			}
			at, err := reminder.ParseTimeOfDay(input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(ParseTimeOutput{Input: input, Time: at.String(), Display: at.Clock12()})
		},
	}
}

func showCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show a user's stored timetable and reminder",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			rec, err := db.GetUser(c.Context, database, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(rec)
		},
	}
}

// TomorrowOutput is the tomorrow result.
type TomorrowOutput struct {
	UserID  string `json:"user_id"`
	Day     string `json:"day"`
	Periods int    `json:"periods"`
	Digest  string `json:"digest"`
}

func tomorrowCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "tomorrow",
		Usage: "Render the digest a reminder would send now",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID := c.String("user")
			rec, err := db.GetUser(c.Context, database, userID)
			if err != nil {
				return outputError(err)
			}
			if rec.Timetable.IsEmpty() {
				return outputError(errors.NewNoTimetable(userID))
			}
			loc, err := cfg.Location()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			day := reminder.TomorrowDay(time.Now().In(loc))
			periods := rec.Timetable.Day(day)
			return outputJSON(TomorrowOutput{
				UserID:  userID,
				Day:     day,
				Periods: len(periods),
				Digest:  timetable.FormatDay(day, periods),
			})
		},
	}
}

// AskOutput is the ask result.
type AskOutput struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func askCmd(database *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question about a user's timetable",
		ArgsUsage: "<question>",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID := c.String("user")
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return outputError(errors.NewInvalidRequest("question argument is required"))
			}
			rt, err := newRuntime(database, cfg, db.Outbox{DB: database}, logger)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := rt.restoreUser(c.Context, userID); err != nil {
				return outputError(err)
			}
			if !rt.store.HasTimetable(userID) {
				return outputError(errors.NewNoTimetable(userID))
			}
			return outputJSON(AskOutput{
				UserID:   userID,
				Question: question,
				Answer:   rt.pipeline.Answer(c.Context, userID, question),
			})
		},
	}
}

// ImportOutput is the import result.
type ImportOutput struct {
	UserID  string `json:"user_id"`
	Periods int    `json:"periods"`
	Week    string `json:"formatted"`
}

func importCmd(database *sql.DB, cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a structured timetable from a JSON file (or stdin)",
		ArgsUsage: "[file.json]",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			data, err := readImport(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			tt, err := timetable.Decode(data)
			if err != nil {
				return outputError(errors.NewInvalidRequest("invalid timetable: " + err.Error()))
			}

			userID := c.String("user")
			rt, err := newRuntime(database, cfg, db.Outbox{DB: database}, logger)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			// Keep an existing reminder: the import only replaces the timetable.
			if err := rt.restoreUser(c.Context, userID); err != nil && !errors.Is(err, errors.ErrNotFound) {
				return outputError(err)
			}
			if err := rt.sessions.Import(c.Context, userID, tt); err != nil {
				return outputError(err)
			}
			return outputJSON(ImportOutput{UserID: userID, Periods: tt.Len(), Week: timetable.FormatWeek(tt)})
		},
	}
}

// readImport reads path, or stdin when path is empty or "-".
func readImport(path string) ([]byte, error) {
	var r io.Reader
	if path == "" || path == "-" {
		if !stdinHasData() {
			return nil, errors.NewInvalidRequest("timetable JSON must be given as a file or piped via stdin")
		}
		r = os.Stdin
	} else {
		f, err := fileio.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > maxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("timetable exceeds %d bytes", maxImportBytes))
	}
	return data, nil
}

// ExportOutput is the export result when writing to a file.
type ExportOutput struct {
	UserID  string `json:"user_id"`
	Path    string `json:"path"`
	Periods int    `json:"periods"`
}

func exportCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a user's timetable as JSON to a file (or stdout)",
		ArgsUsage: "[file.json]",
		Flags: []cli.Flag{
			userFlag(),
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing file"},
		},
		Action: func(c *cli.Context) error {
			userID := c.String("user")
			rec, err := db.GetUser(c.Context, database, userID)
			if err != nil {
				return outputError(err)
			}
			if rec.Timetable.IsEmpty() {
				return outputError(errors.NewNoTimetable(userID))
			}
			data, err := timetable.Encode(rec.Timetable)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			path := c.Args().First()
			if path == "" || path == "-" {
				_, err := os.Stdout.Write(append(data, '\n'))
				return err
			}
			f, err := fileio.Create(path, c.Bool("force"))
			if err != nil {
				return outputError(err)
			}
			if _, err := f.Write(data); err != nil {
				f.Close()
				return outputError(errors.NewInternal(err))
			}
			if err := f.Close(); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(ExportOutput{UserID: userID, Path: path, Periods: rec.Timetable.Len()})
		},
	}
}

// DeleteOutput is the delete result.
type DeleteOutput struct {
	UserID  string `json:"user_id"`
	Deleted bool   `json:"deleted"`
}

func deleteCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a user's stored timetable and reminder",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			userID := c.String("user")
			if _, err := db.GetUser(c.Context, database, userID); err != nil {
				return outputError(err)
			}
			if err := db.DeleteUser(c.Context, database, userID); err != nil {
				return outputError(err)
			}
			return outputJSON(DeleteOutput{UserID: userID, Deleted: true})
		},
	}
}

// InboxOutput is the inbox result.
type InboxOutput struct {
	UserID   string             `json:"user_id"`
	Count    int                `json:"count"`
	Messages []db.OutboxMessage `json:"messages"`
}

func inboxCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "inbox",
		Usage: "Read reminders delivered to the outbox",
		Flags: []cli.Flag{
			userFlag(),
			&cli.BoolFlag{Name: "peek", Usage: "Leave messages in the outbox"},
		},
		Action: func(c *cli.Context) error {
			userID := c.String("user")
			msgs, err := readInbox(c.Context, database, userID, c.Bool("peek"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(InboxOutput{UserID: userID, Count: len(msgs), Messages: msgs})
		},
	}
}

func readInbox(ctx context.Context, database *sql.DB, userID string, peek bool) ([]db.OutboxMessage, error) {
	var (
		msgs []db.OutboxMessage
		err  error
	)
	if peek {
		msgs, err = db.ListOutbox(ctx, database, userID)
	} else {
		msgs, err = db.DrainOutbox(ctx, database, userID)
	}
	if msgs == nil {
		msgs = []db.OutboxMessage{}
	}
	return msgs, err
}

// outputJSON prints JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var ce *errors.ClassmateError
	if stderrors.As(err, &ce) {
		return cli.Exit(fmt.Sprintf("[%s] %s", ce.Code, ce.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
