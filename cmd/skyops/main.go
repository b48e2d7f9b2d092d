package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"skylark/internal/app"
	"skylark/internal/conflict"
	"skylark/internal/db"
	"skylark/internal/domain"
	"skylark/internal/engine"
	"skylark/internal/migrate"
	"skylark/internal/render"
	"skylark/internal/repo"
	"skylark/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "skyops",
	Short: "Skylark drone fleet operations",
	Long: `skyops coordinates a drone fleet from plain-language commands.
- Pilots, drones and missions live in the workspace database (.skylark/skylark.db); seed it with 'skyops import'.
- 'skyops say' runs one turn; 'skyops chat' keeps a conversation open so multi-step flows (assign, add, edit, delete) can finish.
- Assignments are written on both sides (resource and mission) and every change lands in the event log ('skyops log tail').
- Conflicts (double bookings, skill, location, date and availability problems) are reported, never enforced.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SKYLARK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor recorded on changes")
	rootCmd.PersistentFlags().String("session", "", "dialogue session id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
}

func registerCommands() {
	rootCmd.AddCommand(sayCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(pilotsCmd())
	rootCmd.AddCommand(dronesCmd())
	rootCmd.AddCommand(missionsCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func sayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say <message>",
		Short: "Run one conversational turn",
		Long:  "Interpret one message. Flows that need an answer stay pending on the --session id (default \"cli\") until the next say.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := viper.GetString("session")
			if session == "" {
				session = "cli"
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.HandleTurn(actorContext(ctx), session, strings.Join(args, " "))
				return printResponse(os.Stdout, res)
			})
		},
	}
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation",
		Long:  "Read messages from stdin until EOF or 'exit'. Each chat gets a fresh session unless --session is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := viper.GetString("session")
			if session == "" {
				session = uuid.NewString()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return chatLoop(actorContext(ctx), e, session, os.Stdin, os.Stdout)
			})
		},
	}
	return cmd
}

func chatLoop(ctx context.Context, e engine.Engine, session string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Skylark ops (session %s). Type 'exit' to leave.\n", session)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}
		if err := printResponse(out, e.HandleTurn(ctx, session, line)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func pilotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pilots",
		Short: "List pilots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				snap, err := r.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap.Pilots, render.Pilots(snap.Pilots))
			})
		},
	}
}

func dronesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drones",
		Short: "List drones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				snap, err := r.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap.Drones, render.Drones(snap.Drones))
			})
		},
	}
}

func missionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "missions",
		Aliases: []string{"projects"},
		Short:   "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				snap, err := r.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap.Missions, render.Missions(snap.Missions))
			})
		},
	}
}

func conflictsCmd() *cobra.Command {
	var dateRule string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect fleet conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d := e.Detector()
				if dateRule != "" {
					d.DateRule = conflict.DateRule(dateRule)
					if !d.DateRule.Valid() {
						return fmt.Errorf("--date-rule must be start or end")
					}
				}
				snap, err := e.Store.Snapshot(ctx)
				if err != nil {
					return err
				}
				found := d.Detect(snap)
				if !viper.GetBool("json") && len(found) == 0 {
					fmt.Println("No active conflicts detected.")
					return nil
				}
				return printJSONOrTable(found, render.Conflicts(found))
			})
		},
	}
	cmd.Flags().StringVar(&dateRule, "date-rule", "", "compare availability against mission start or end (overrides config)")
	return cmd
}

func rankCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "rank <mission-id>",
		Short: "Rank available pilots or drones for a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, ok := domain.ParseEntityType(kind)
			if !ok || (et != domain.EntityPilot && et != domain.EntityDrone) {
				return fmt.Errorf("--kind must be pilot or drone")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reply, err := e.Candidates(ctx, et, args[0])
				if err != nil {
					return errors.New(domain.Message(err))
				}
				if viper.GetBool("json") {
					return printJSON(reply)
				}
				switch {
				case len(reply.Pilots) > 0:
					return printJSONOrTable(reply.Pilots, render.PilotCandidates(reply.Pilots))
				case len(reply.Drones) > 0:
					return printJSONOrTable(reply.Drones, render.DroneCandidates(reply.Drones))
				}
				fmt.Println(reply.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "pilot", "pilot or drone")
	return cmd
}

func importCmd() *cobra.Command {
	var pilots, drones, missions string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load fleet records from CSV files",
		Long:  "Append rows from CSV exports. Headers must use the column names of the collection (pilot_id, name, skills, ...).",
		RunE: func(cmd *cobra.Command, args []string) error {
			files := []struct {
				et   domain.EntityType
				path string
			}{
				{domain.EntityPilot, pilots},
				{domain.EntityDrone, drones},
				{domain.EntityMission, missions},
			}
			if pilots == "" && drones == "" && missions == "" {
				return fmt.Errorf("at least one of --pilots, --drones or --missions is required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				out := map[string]int{}
				for _, f := range files {
					if f.path == "" {
						continue
					}
					n, err := env.ImportFile(ctx, f.et, f.path, viper.GetString("actor"))
					if err != nil {
						return err
					}
					out[string(f.et)] = n
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				for _, et := range domain.EntityTypes {
					if n, ok := out[string(et)]; ok {
						fmt.Printf("Imported %d %s records\n", n, et)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pilots, "pilots", "", "pilot roster CSV")
	cmd.Flags().StringVar(&drones, "drones", "", "drone fleet CSV")
	cmd.Flags().StringVar(&missions, "missions", "", "missions CSV")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every accepted change: record edits, status changes, assignments, compensations and imports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evts, err := r.LatestEvents(ctx, n, repo.EventFilter{Type: evtType, EntityKind: entityKind, EntityID: entityID})
				if err != nil {
					return err
				}
				return printJSONOrTable(evts, render.Events(evts))
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "pilot, drone or mission")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				current, err := migrate.Current(ctx, env.DB)
				if err != nil {
					return err
				}
				latest, err := migrate.Latest()
				if err != nil {
					return err
				}
				snap, err := env.Repo.Snapshot(ctx)
				if err != nil {
					return err
				}
				conflicts := env.Engine.Detector().Detect(snap)
				out := map[string]any{
					"fleet":          env.Config.Fleet.Name,
					"db":             db.Path(env.Workspace),
					"schema_version": current,
					"schema_latest":  latest,
					"pilots":         len(snap.Pilots),
					"drones":         len(snap.Drones),
					"missions":       len(snap.Missions),
					"conflicts":      len(conflicts),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Fleet: %s (%s)\n", env.Config.Fleet.Name, db.Path(env.Workspace))
				fmt.Printf("Schema: %d/%d\n", current, latest)
				fmt.Printf("Pilots: %d  Drones: %d  Missions: %d\n", len(snap.Pilots), len(snap.Drones), len(snap.Missions))
				fmt.Printf("Conflicts: %d\n", len(conflicts))
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config comes from skylark.yml or skylark.toml in the workspace; defaults apply when neither exists.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if viper.GetBool("json") {
					return printJSON(env.Config)
				}
				out, err := env.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
				cfg := env.Config
				if !cmd.Flags().Changed("addr") {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        firstNonEmpty(os.Getenv("SKYLARK_JWT_SECRET"), cfg.Auth.JWTSecret),
					AllowActorHeader: cfg.Auth.AllowActorHeader,
					Logger:           env.Log,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
					return fmt.Errorf("SKYLARK_JWT_SECRET (or auth.jwt_secret) is required unless auth.allow_actor_header is set")
				}
				handler, err := server.New(server.Config{
					Engine:   env.Engine,
					Repo:     env.Repo,
					BasePath: basePath,
					Auth:     authCfg,
					Log:      env.Log,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, env.Repo, cfg, env.Log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					env.Log.Info("shutting down")
					srv.Shutdown(shutdownCtx)
				}()
				env.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.Int("webhooks", len(cfg.Webhooks)))
				fmt.Printf("Serving Skylark API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the --actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				secret := firstNonEmpty(os.Getenv("SKYLARK_JWT_SECRET"), env.Config.Auth.JWTSecret)
				token, err := server.SignToken(secret, viper.GetString("actor"), ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		return fn(ctx, env.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		return fn(ctx, env.Repo)
	})
}

func actorContext(ctx context.Context) context.Context {
	return engine.WithActor(ctx, viper.GetString("actor"))
}

func printResponse(w io.Writer, res engine.Response) error {
	if viper.GetBool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Text)
	if res.Pending != "" {
		fmt.Fprintf(w, "(waiting for your answer: %s)\n", res.Pending)
	}
	return nil
}

func printJSONOrTable(v any, tw table.Writer) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
