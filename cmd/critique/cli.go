package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/config"
	"github.com/hpungsan/critique/internal/db"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/logging"
	"github.com/hpungsan/critique/internal/mcp"
	"github.com/hpungsan/critique/internal/ops"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
	"github.com/hpungsan/critique/internal/web"
)

// env holds what commands share. The database and session are opened on
// first use so --help needs neither.
type env struct {
	baseDir string
	workDir string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// piped reports whether stdin carries input rather than a terminal.
	piped func() bool

	// client replaces the configured completion provider when set.
	client completion.Client

	cfg    *config.Config
	db     *sql.DB
	ownsDB bool
	sess   *session.Session
}

func newEnv() (*env, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	workDir, _ := os.Getwd()
	return &env{
		baseDir: filepath.Join(homeDir, ".critique"),
		workDir: workDir,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		piped:   stdinHasData,
	}, nil
}

// loadConfig loads configuration once: --config if given, else the global file
// layered with the nearest repo .critique/config.toml.
func (e *env) loadConfig(c *cli.Context) (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadWithRepo(e.baseDir, e.workDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, e.stderr); err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

func (e *env) database(c *cli.Context) (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	cfg, err := e.loadConfig(c)
	if err != nil {
		return nil, err
	}
	database, err := db.Init(e.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)
	e.db, e.ownsDB = database, true
	return database, nil
}

// sessionName resolves --session, then session.name, then the default.
func (e *env) sessionName(c *cli.Context) string {
	if name := strings.TrimSpace(c.String("session")); name != "" {
		return name
	}
	if e.cfg != nil && strings.TrimSpace(e.cfg.Session.Name) != "" {
		return e.cfg.Session.Name
	}
	return db.DefaultSessionName
}

func (e *env) openSession(c *cli.Context) (*session.Session, error) {
	if e.sess != nil {
		return e.sess, nil
	}
	database, err := e.database(c)
	if err != nil {
		return nil, err
	}
	name := e.sessionName(c)
	var opts []session.Option
	if e.client != nil {
		opts = append(opts, session.WithClient(e.client))
	}
	sess, err := session.Open(c.Context, db.NewSessionStore(database, name), name, e.cfg, opts...)
	if err != nil {
		return nil, err
	}
	e.sess = sess
	return sess, nil
}

// close saves the session and releases the database.
func (e *env) close() error {
	var err error
	if e.sess != nil {
		err = e.sess.Close(context.Background())
		e.sess = nil
	}
	if e.ownsDB && e.db != nil {
		if cerr := e.db.Close(); err == nil {
			err = cerr
		}
		e.db = nil
	}
	return err
}

// withSession adapts a command body that needs the open session.
func (e *env) withSession(fn func(c *cli.Context, sess *session.Session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		sess, err := e.openSession(c)
		if err != nil {
			return outputError(err)
		}
		return fn(c, sess)
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:      "critique",
		Usage:     "Line-anchored AI code review",
		Version:   Version,
		Writer:    e.stdout,
		ErrWriter: e.stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, EnvVars: []string{"CRITIQUE_SESSION"}, Usage: "Session name (default: session.name from config)"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file (default: ~/.critique/config.toml plus repo .critique/config.toml)"},
		},
		Commands: []*cli.Command{
			loadCmd(e),
			editCmd(e),
			showCmd(e),
			langCmd(e),
			themeCmd(e),
			threadCmd(e),
			reviewCmd(e),
			followupCmd(e),
			applyCmd(e),
			diffCmd(e),
			exportCmd(e),
			importCmd(e),
			clearCmd(e),
			sessionsCmd(e),
			serveCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loadCmd creates the load command.
func loadCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Load a file (or stdin) as the document under review",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file-name", Aliases: []string{"f"}, Usage: "Display name (default: base name of path, or untitled)"},
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "Language tag (default: detected)"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			input := ops.LoadDocumentInput{
				FileName: c.String("file-name"),
				Language: c.String("language"),
			}
			if c.NArg() > 0 {
				input.Path = c.Args().First()
			} else {
				if !e.piped() {
					return outputError(errors.NewInvalidRequest("a path or piped content is required"))
				}
				content, err := e.readStdin()
				if err != nil {
					return outputError(err)
				}
				input.Content = &content
			}

			output, err := ops.LoadDocument(c.Context, sess, input)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// editCmd creates the edit command.
func editCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Replace the document text as a typed edit (reads stdin)",
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			if !e.piped() {
				return outputError(errors.NewInvalidRequest("code must be piped via stdin"))
			}
			code, err := e.readStdin()
			if err != nil {
				return outputError(err)
			}
			output, err := ops.EditDocument(c.Context, sess, ops.EditDocumentInput{Code: code})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// showCmd creates the show command.
func showCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show the document and its highlights",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "Print only the code"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			doc := ops.GetDocument(sess)
			if c.Bool("raw") {
				_, err := fmt.Fprintln(e.stdout, doc.Code)
				return err
			}
			return e.outputJSON(doc)
		}),
	}
}

// langCmd creates the lang command.
func langCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "lang",
		Usage:     "Set the document language",
		ArgsUsage: "<language>",
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			output, err := ops.SetLanguage(c.Context, sess, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// themeCmd creates the theme command.
func themeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "theme",
		Usage:     "Set the theme: dark, light or toggle",
		ArgsUsage: "[dark|light|toggle]",
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			theme := c.Args().First()
			if theme == "" {
				theme = "toggle"
			}
			next, err := ops.SetTheme(c.Context, sess, theme)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(map[string]string{"theme": string(next)})
		}),
	}
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "start", Usage: "First line (1-indexed)"},
		&cli.IntFlag{Name: "end", Usage: "Last line, inclusive (default: start)"},
	}
}

func lineRange(c *cli.Context) (int, int) {
	start, end := c.Int("start"), c.Int("end")
	if end == 0 {
		end = start
	}
	return start, end
}

// threadCmd creates the thread command and its subcommands.
func threadCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "thread",
		Usage: "Create and manage review threads",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Anchor a thread to a line range",
				Flags: append(rangeFlags(),
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: "explain", Usage: "explain|bugs|improve|custom"},
					&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Custom prompt (implies custom)"},
					&cli.BoolFlag{Name: "review", Aliases: []string{"r"}, Usage: "Run the review and wait for the reply"},
				),
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					start, end := lineRange(c)
					action := c.String("action")
					if c.IsSet("prompt") && !c.IsSet("action") {
						action = string(thread.ActionCustom)
					}
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()

					input := ops.CreateThreadInput{
						StartLine:    start,
						EndLine:      end,
						Action:       action,
						CustomPrompt: c.String("prompt"),
						Review:       c.Bool("review"),
					}
					if input.Review {
						input.OnChunk = e.streamChunk
					}
					output, err := ops.CreateThread(ctx, sess, input)
					e.endStream(input.Review)
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				}),
			},
			{
				Name:  "list",
				Usage: "List threads in document order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter: active|outdated|resolved"},
				},
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					output, err := ops.ListThreads(sess, ops.ListThreadsInput{Status: c.String("status")})
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				}),
			},
			{
				Name:      "show",
				Usage:     "Show a thread with its conversation",
				ArgsUsage: "<thread-id>",
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					t, err := ops.GetThread(sess, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(t)
				}),
			},
			{
				Name:      "reselect",
				Usage:     "Re-anchor a thread and mark it active",
				ArgsUsage: "<thread-id>",
				Flags:     rangeFlags(),
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					start, end := lineRange(c)
					t, err := ops.ReselectThread(c.Context, sess, ops.ReselectThreadInput{
						ThreadID:  c.Args().First(),
						StartLine: start,
						EndLine:   end,
					})
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(t)
				}),
			},
			{
				Name:      "resolve",
				Usage:     "Mark a thread resolved",
				ArgsUsage: "<thread-id>",
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					t, err := ops.ResolveThread(c.Context, sess, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(t)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a thread",
				ArgsUsage: "<thread-id>",
				Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
					output, err := ops.DeleteThread(c.Context, sess, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				}),
			},
		},
	}
}

// reviewCmd creates the review command.
func reviewCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "Review a thread's range again (streams to stderr)",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: "explain", Usage: "explain|bugs|improve|custom"},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Custom prompt (implies custom)"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			action := c.String("action")
			if c.IsSet("prompt") && !c.IsSet("action") {
				action = string(thread.ActionCustom)
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			output, err := ops.Review(ctx, sess, ops.ReviewInput{
				ThreadID:     c.Args().First(),
				Action:       action,
				CustomPrompt: c.String("prompt"),
				OnChunk:      e.streamChunk,
			})
			e.endStream(true)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// followupCmd creates the followup command.
func followupCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "followup",
		Usage:     "Ask a follow-up question in a thread (message from args or stdin)",
		ArgsUsage: "<thread-id> [message...]",
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			message := strings.Join(c.Args().Tail(), " ")
			if message == "" && e.piped() {
				text, err := e.readStdin()
				if err != nil {
					return outputError(err)
				}
				message = text
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			output, err := ops.FollowUp(ctx, sess, ops.FollowUpInput{
				ThreadID: c.Args().First(),
				Message:  message,
				OnChunk:  e.streamChunk,
			})
			e.endStream(true)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

func suggestionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message id (default: latest message with a suggestion)"},
		&cli.StringFlag{Name: "suggestion", Aliases: []string{"g"}, Usage: "Suggestion id (default: first of the message)"},
	}
}

// suggestionRef builds a reference from flags, defaulting to the newest
// message that carries a suggestion.
func suggestionRef(c *cli.Context, sess *session.Session) (ops.SuggestionRef, error) {
	ref := ops.SuggestionRef{
		ThreadID:     c.Args().First(),
		MessageID:    c.String("message"),
		SuggestionID: c.String("suggestion"),
	}
	if ref.MessageID != "" && ref.SuggestionID != "" {
		return ref, nil
	}
	t, err := ops.GetThread(sess, ref.ThreadID)
	if err != nil {
		return ref, err
	}
	for i := len(t.Messages) - 1; i >= 0; i-- {
		m := t.Messages[i]
		if len(m.Suggestions) == 0 || (ref.MessageID != "" && m.ID != ref.MessageID) {
			continue
		}
		ref.MessageID = m.ID
		if ref.SuggestionID == "" {
			ref.SuggestionID = m.Suggestions[0].ID
		}
		return ref, nil
	}
	return ref, errors.NewNotFound("suggestion", ref.ThreadID)
}

// applyCmd creates the apply command.
func applyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Apply a suggestion to the document",
		ArgsUsage: "<thread-id>",
		Flags:     suggestionFlags(),
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			ref, err := suggestionRef(c, sess)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ApplySuggestion(c.Context, sess, ref)
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// diffCmd creates the diff command.
func diffCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Show a suggestion as a unified diff",
		ArgsUsage: "<thread-id>",
		Flags: append(suggestionFlags(),
			&cli.BoolFlag{Name: "json", Usage: "Print the structured diff as JSON"},
		),
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			ref, err := suggestionRef(c, sess)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.SuggestionDiff(sess, ref)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return e.outputJSON(output)
			}
			_, err = io.WriteString(e.stdout, output.Unified)
			return err
		}),
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the session as Markdown or a JSON backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.critique/exports/<file>-review-<timestamp>.<ext>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "markdown|json (default: from path extension, else markdown)"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			output, err := ops.Export(c.Context, sess, ops.ExportInput{
				Path:   c.String("path"),
				Format: ops.ExportFormat(c.String("format")),
			})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Replace the session with a JSON backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Backup file path"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			output, err := ops.Import(c.Context, sess, ops.ImportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// clearCmd creates the clear command.
func clearCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Empty the document and delete every thread",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm; clearing cannot be undone"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			output, err := ops.Clear(c.Context, sess, ops.ClearInput{Confirm: c.Bool("yes")})
			if err != nil {
				return outputError(err)
			}
			return e.outputJSON(output)
		}),
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(e *env) *cli.Command {
	list := func(c *cli.Context) error {
		database, err := e.database(c)
		if err != nil {
			return outputError(err)
		}
		output, err := ops.ListSessions(c.Context, database, e.sessionName(c))
		if err != nil {
			return outputError(err)
		}
		return e.outputJSON(output)
	}
	return &cli.Command{
		Name:   "sessions",
		Usage:  "List or delete saved sessions",
		Action: list,
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List saved sessions, most recent first",
				Action: list,
			},
			{
				Name:      "delete",
				Usage:     "Delete a saved session",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					database, err := e.database(c)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.DeleteSession(c.Context, database, strings.Join(c.Args().Slice(), " "), e.sessionName(c))
					if err != nil {
						return outputError(err)
					}
					return e.outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Usage: "Bind address (default: web.bind from config)"},
			&cli.IntFlag{Name: "port", Usage: "Port (default: web.port from config)"},
		},
		Action: e.withSession(func(c *cli.Context, sess *session.Session) error {
			bind, port := e.cfg.Web.Bind, e.cfg.Web.Port
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			srv, err := web.NewServer(ctx, sess, e.db, Version, bind, port)
			if err != nil {
				return err
			}
			return web.Run(srv)
		}),
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the review tools over MCP stdio",
		Action: e.withSession(func(_ *cli.Context, sess *session.Session) error {
			return mcp.Run(sess, Version)
		}),
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func (e *env) outputJSON(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// streamChunk echoes reply text to stderr as it arrives.
func (e *env) streamChunk(chunk string) {
	_, _ = io.WriteString(e.stderr, chunk)
}

func (e *env) endStream(streamed bool) {
	if streamed {
		_, _ = io.WriteString(e.stderr, "\n")
	}
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr := errors.As(err); cErr != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
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

// readStdin reads all of stdin, bounded like a loaded file.
func (e *env) readStdin() (string, error) {
	data, err := io.ReadAll(io.LimitReader(e.stdin, ops.MaxDocumentBytes+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if len(data) > ops.MaxDocumentBytes {
		return "", errors.NewFileTooLarge(ops.MaxDocumentBytes, int64(len(data)))
	}
	return string(data), nil
}
