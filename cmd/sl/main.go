package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"storyline/internal/client"
	"storyline/internal/codec"
	"storyline/internal/config"
	"storyline/internal/credentials"
	"storyline/internal/engine"
	"storyline/internal/refs"
	"storyline/internal/server"
	"storyline/internal/surface"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Storyline CLI",
	Long: `Storyline syncs tracker stories with editable local documents.
Pull a story into a text document, edit it in your editor of choice, and
save it back. Saves are guarded by an optimistic-concurrency check: if the
story changed remotely since you pulled it, the save is refused and your
edits are kept. Conflicts are detected, never merged.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STORYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding storyline.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("dry-run", false, "log mutating requests instead of sending them")
	rootCmd.PersistentFlags().String("base-url", "", "tracker API base URL (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides config token sources)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(refsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage storyline.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default storyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(baseURL)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "https://api.tracker.example/v3", "tracker API base URL")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

// --- story ---

func storyCmd() *cobra.Command {
	story := &cobra.Command{
		Use:   "story",
		Short: "Pull, save, and create stories",
		Long: `Stories round-trip through editable documents. The document carries a
LastUpdated conflict token; do not edit it by hand.`,
	}
	story.AddCommand(storyPullCmd())
	story.AddCommand(storyEditCmd())
	story.AddCommand(storySaveCmd())
	story.AddCommand(storyShowCmd())
	story.AddCommand(storyCreateCmd())
	return story
}

func storyPullCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "pull <id>",
		Short: "Fetch a story into an editable document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("story id %q: %w", args[0], err)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *engine.Session) error {
				if err := s.Load(ctx, id); err != nil {
					return err
				}
				text := s.Surface.Text()
				if out == "" || out == "-" {
					fmt.Print(text)
					return nil
				}
				if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write document to file instead of stdout")
	return cmd
}

func storyEditCmd() *cobra.Command {
	var editor string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Pull a story, edit it in $EDITOR, and save it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("story id %q: %w", args[0], err)
			}
			if editor == "" {
				editor = os.Getenv("EDITOR")
			}
			if editor == "" {
				return fmt.Errorf("no editor configured; set $EDITOR or --editor")
			}
			path := fmt.Sprintf("%s/story-%d.txt", os.TempDir(), id)
			sf, err := surface.NewFile(path, os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			defer sf.Close()
			c, _, err := buildClient()
			if err != nil {
				return err
			}
			s := engine.NewSession(c, sf)
			ctx := cmd.Context()
			if err := s.Load(ctx, id); err != nil {
				return err
			}
			ed := exec.CommandContext(ctx, editor, path)
			ed.Stdin, ed.Stdout, ed.Stderr = os.Stdin, os.Stdout, os.Stderr
			if err := ed.Run(); err != nil {
				return fmt.Errorf("editor: %w", err)
			}
			if !sf.Modified() {
				fmt.Println("no changes")
				return nil
			}
			outcome, err := s.Save(ctx)
			if errors.Is(err, client.ErrDryRun) {
				fmt.Println("dry run: update logged, nothing sent")
				return nil
			}
			if err != nil {
				return err
			}
			if outcome == engine.OutcomeConflict {
				return fmt.Errorf("save refused: story changed remotely; edits kept in %s", path)
			}
			fmt.Printf("saved story %d (token %s)\n", s.StoryID(), s.Token())
			return nil
		},
	}
	cmd.Flags().StringVar(&editor, "editor", "", "editor command (defaults to $EDITOR)")
	return cmd
}

func storySaveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save an edited document back to the tracker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFileOrStdin(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *engine.Session) error {
				if err := s.Adopt(string(data)); err != nil {
					return err
				}
				outcome, err := s.Save(ctx)
				if errors.Is(err, client.ErrDryRun) {
					fmt.Println("dry run: update logged, nothing sent")
					return nil
				}
				if err != nil {
					return err
				}
				switch outcome {
				case engine.OutcomeConflict:
					if !force {
						return fmt.Errorf("save refused: story changed remotely; pull again or re-save after review")
					}
					// Force re-adopts with the remote token so the next
					// comparison passes. The remote version is overwritten.
					remote, err := s.Client.Story(ctx, s.StoryID())
					if err != nil {
						return err
					}
					doc := string(data)
					doc = replaceToken(doc, remote.UpdatedAt)
					if err := s.Adopt(doc); err != nil {
						return err
					}
					if _, err := s.Save(ctx); err != nil {
						return err
					}
					fallthrough
				case engine.OutcomeSaved:
					if args[0] != "-" {
						if err := os.WriteFile(args[0], []byte(s.Surface.Text()), 0o644); err != nil {
							return err
						}
					}
					fmt.Printf("saved story %d (token %s)\n", s.StoryID(), s.Token())
				default:
					fmt.Println(outcome)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the remote version on conflict")
	return cmd
}

func storyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the raw story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("story id %q: %w", args[0], err)
			}
			c, _, err := buildClient()
			if err != nil {
				return err
			}
			story, err := c.Story(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(story)
		},
	}
}

func storyCreateCmd() *cobra.Command {
	var file, storyType string
	var projectID int
	var labels []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a story from a section file",
		Long: `Reads a user-authored section: the heading line becomes the story name,
the body (up to the configured log marker) becomes the description after
markup conversion. The created story's URL is appended to the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *engine.Session) error {
				story, err := s.Create(ctx, string(data), engine.CreateOpts{
					StoryType: storyType,
					ProjectID: projectID,
					Labels:    labels,
					LogMarker: cfg.Create.LogMarker,
				})
				if errors.Is(err, client.ErrDryRun) {
					fmt.Println("dry run: create logged, nothing sent")
					return nil
				}
				if err != nil {
					return err
				}
				// Record the canonical URL against the originating section.
				f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				if _, err := fmt.Fprintf(f, "\nUrl: %s\n", story.AppURL); err != nil {
					return err
				}
				fmt.Printf("created story %d: %s\n", story.ID, story.AppURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "section file")
	cmd.Flags().StringVar(&storyType, "type", "", "story type (feature, bug, chore); prompted if omitted")
	cmd.Flags().IntVar(&projectID, "project", 0, "project id; prompted if omitted")
	cmd.Flags().StringArrayVar(&labels, "label", []string{}, "label name (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// --- refs ---

func refsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "List reference collections",
		Long:  "Projects, epics, labels and workflow states, as the sync engine resolves them. Archived items are excluded.",
	}
	cmd.AddCommand(refsListCmd("projects", refs.KindProject))
	cmd.AddCommand(refsListCmd("epics", refs.KindEpic))
	cmd.AddCommand(refsListCmd("labels", refs.KindLabel))
	cmd.AddCommand(refsStatesCmd())
	return cmd
}

func refsListCmd(use string, kind refs.Kind) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   use,
		Short: "List " + use,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), func(ctx context.Context, cache *refs.Cache) error {
				var (
					pairs refs.Pairs
					err   error
				)
				if refresh {
					pairs, err = cache.Refresh(ctx, kind)
				} else {
					pairs, err = cache.Get(ctx, kind)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pairs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, p := range pairs {
					tw.AppendRow(table.Row{p.ID, p.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a refetch")
	return cmd
}

func refsStatesCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "states",
		Short: "List workflow states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd.Context(), func(ctx context.Context, cache *refs.Cache) error {
				var err error
				if refresh {
					_, err = cache.RefreshWorkflows(ctx)
				}
				if err != nil {
					return err
				}
				wfs, err := cache.Workflows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wfs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Workflow", "State ID", "State"})
				for _, wf := range wfs {
					for _, st := range wf.States {
						tw.AppendRow(table.Row{wf.Name, st.ID, st.Name})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a refetch")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the editor bridge API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := buildClient()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Bridge.Addr
			}
			if basePath == "" {
				basePath = cfg.Bridge.BasePath
			}
			handler, err := server.New(server.Config{
				Client:    c,
				BasePath:  basePath,
				LogMarker: cfg.Create.LogMarker,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving editor bridge on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Credential checks"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Resolve the API token and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := buildClient()
			if err != nil {
				return err
			}
			tokens := tokenSource(cfg)
			if _, err := tokens.Token(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("token OK")
			return nil
		},
	})
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &config.Config{}
		cfg.Create.LogMarker = codec.DefaultLogMarker
		cfg.Bridge.Addr = "127.0.0.1:8191"
		cfg.Bridge.BasePath = "/v0"
	}
	if v := viper.GetString("base-url"); v != "" {
		cfg.API.BaseURL = v
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("tracker base URL not configured; set api.base_url in storyline.yml or --base-url")
	}
	return cfg, nil
}

func tokenSource(cfg *config.Config) client.TokenSource {
	if v := viper.GetString("token"); v != "" {
		return credentials.Static(v)
	}
	return &credentials.Provider{Path: cfg.API.TokenPath, Command: cfg.API.TokenCommand}
}

func buildClient() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c := client.New(cfg.API.BaseURL, tokenSource(cfg))
	c.DryRun = viper.GetBool("dry-run")
	return c, cfg, nil
}

func withSession(ctx context.Context, fn func(context.Context, *engine.Session) error) error {
	c, _, err := buildClient()
	if err != nil {
		return err
	}
	s := engine.NewSession(c, &surface.Memory{
		ChooseFunc: promptChoose,
		InputFunc:  promptInput,
	})
	return fn(ctx, s)
}

func withCache(ctx context.Context, fn func(context.Context, *refs.Cache) error) error {
	c, _, err := buildClient()
	if err != nil {
		return err
	}
	return fn(ctx, refs.NewCache(c))
}

func promptChoose(prompt string, options []string) (int, error) {
	fmt.Print(surface.Describe(prompt, options))
	fmt.Print("> ")
	var line string
	if _, err := fmt.Scanln(&line); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("choice %q out of range 1-%d", line, len(options))
	}
	return n - 1, nil
}

func promptInput(prompt string) (string, error) {
	fmt.Printf("%s ", prompt)
	var line string
	if _, err := fmt.Scanln(&line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// replaceToken rewrites the LastUpdated metadata line with a fresh token.
// Used only by forced saves, never by the sync engine itself.
func replaceToken(doc, token string) string {
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, codec.KeyLastUpdated+":") {
			lines[i] = codec.KeyLastUpdated + ": " + token
			break
		}
	}
	return strings.Join(lines, "\n")
}
