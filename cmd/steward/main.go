package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stewardai/steward/agent"
	"github.com/stewardai/steward/archive"
	"github.com/stewardai/steward/bridge"
	"github.com/stewardai/steward/config"
	"github.com/stewardai/steward/internal/version"
	"github.com/stewardai/steward/model"
	"github.com/stewardai/steward/plugin"
	"github.com/stewardai/steward/provider"
	"github.com/stewardai/steward/session"
	"github.com/stewardai/steward/task"
)

var (
	configPath string
	debug      bool

	logger *zap.Logger

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	titleCase = cases.Title(language.English)
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "steward - leader/worker AI assistant for multi-step project work",
	Long: `steward is a command-line AI assistant. A leader agent turns your
intent into tasks, then delegates them to worker agents that run their
own tool loops against configured MCP tool servers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		// Operational logs go to a file so they never interleave with
		// the interactive output.
		if cfg, err := config.Load(configPath); err == nil {
			if lvl, perr := zapcore.ParseLevel(cfg.LogLevel); perr == nil {
				zcfg.Level = zap.NewAtomicLevelAt(lvl)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err == nil {
				zcfg.OutputPaths = []string{filepath.Join(cfg.DataDir, "steward.log")}
			}
		}
		if debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start the leader session (interactive unless --task or --file is given)",
	RunE:  runWork,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration into the current directory",
	RunE:  runInit,
}

var historyCmd = &cobra.Command{
	Use:   "history [load|del] [n]",
	Short: "List, show, or delete saved chat sessions",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runHistory,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins [search|install|remove] [arg]",
	Short: "Search the plugin catalog and manage installed tool servers",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runPlugins,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks [clear]",
	Short: "Show the task list, or clear completed tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTasks,
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts [search|task] [arg]",
	Short: "Browse archived worker transcripts",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runTranscripts,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(*cobra.Command, []string) {
		fmt.Println("steward", version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "steward.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	workCmd.Flags().Bool("resume", false, "continue the persisted leader conversation")
	workCmd.Flags().String("task", "", "run a single instruction and exit")
	workCmd.Flags().String("file", "", "read the instruction from a file and exit")

	initCmd.Flags().Bool("auto", false, "accept defaults without prompting")

	rootCmd.AddCommand(workCmd, initCmd, historyCmd, tasksCmd, pluginsCmd, transcriptsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func runWork(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	leaderKey, err := cfg.Leader.APIKey()
	if err != nil {
		return err
	}
	workerKey, err := cfg.Worker.APIKey()
	if err != nil {
		return err
	}

	projectName := filepath.Base(mustGetwd())
	store, err := task.NewStore(filepath.Join(cfg.DataDir, "tasks.json"), projectName)
	if err != nil {
		return err
	}
	if st := store.Stats(); st.Pending+st.InProgress > 0 {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("resuming with %d pending and %d in-progress tasks", st.Pending, st.InProgress)))
		logger.Info("unfinished tasks found",
			zap.Int("pending", st.Pending), zap.Int("in_progress", st.InProgress))
	}

	br := bridge.New(logger)
	defer br.Close()
	servers, err := bridge.LoadServers(cfg.ServersPath())
	if err != nil {
		return err
	}
	for name, sc := range servers.Servers {
		if err := br.Start(ctx, name, sc); err != nil {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("tool server %s unavailable: %v", name, err)))
		}
	}

	arch, err := archive.Open(filepath.Join(cfg.DataDir, "transcripts.db"))
	if err != nil {
		return err
	}
	defer arch.Close()

	historyPath := filepath.Join(cfg.DataDir, "history.json")
	if resume, _ := cmd.Flags().GetBool("resume"); !resume {
		if err := os.Remove(historyPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	history, err := agent.NewHistory(historyPath, "")
	if err != nil {
		return err
	}

	leaderModel := model.New(provider.NewOpenAIProvider(provider.OpenAIConfig{
		APIKey:  leaderKey,
		Model:   cfg.Leader.Model,
		BaseURL: cfg.Leader.BaseURL,
	}), logger, model.WithOutput(os.Stdout))
	workerModel := model.New(provider.NewOpenAIProvider(provider.OpenAIConfig{
		APIKey:  workerKey,
		Model:   cfg.Worker.Model,
		BaseURL: cfg.Worker.BaseURL,
	}), logger)

	policy := agent.NewPolicy(promptPermission)
	leader := agent.NewLeader(agent.LeaderConfig{
		Model:   leaderModel,
		Store:   store,
		Bridge:  br,
		Catalog: plugin.DefaultCatalog(),
		Policy:  policy,
		History: history,
		Archive: arch,
		RunWorker: func(ctx context.Context, name string, t task.Task) (string, error) {
			w := agent.NewWorker(name, workerModel, br, policy, logger, os.Stdout)
			return w.Run(ctx, t)
		},
		StartServer: br.Start,
		ServersPath: cfg.ServersPath(),
		MaxParallel: cfg.MaxParallel,
		Log:         logger,
		Out:         os.Stdout,
	})

	if text, _ := cmd.Flags().GetString("task"); text != "" {
		return leader.HandleInput(ctx, text)
	}
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return leader.HandleInput(ctx, string(data))
	}

	if err := interactiveLoop(ctx, leader, projectName); err != nil {
		return err
	}
	// Keep a browsable copy of the finished conversation.
	if history.Len() > 1 {
		mgr, err := session.NewManager(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return err
		}
		if err := mgr.Save("", history.Messages()); err != nil {
			logger.Warn("session save failed", zap.Error(err))
		}
	}
	return nil
}

func interactiveLoop(ctx context.Context, leader *agent.Leader, projectName string) error {
	fmt.Println(titleStyle.Render("steward") + mutedStyle.Render(" working on "+projectName))
	fmt.Println(mutedStyle.Render(`type your request, "clear" to reset, "exit" to quit`))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			if err := leader.Clear(); err != nil {
				fmt.Println(errStyle.Render("error: ") + err.Error())
			}
			continue
		}
		if err := leader.HandleInput(ctx, line); err != nil {
			if ctx.Err() != nil {
				// Interrupt aborts the in-flight call, not the session.
				fmt.Println()
				fmt.Println(mutedStyle.Render("interrupted"))
				return nil
			}
			fmt.Println(errStyle.Render("error: ") + err.Error())
			continue
		}
		fmt.Println()
	}
}

// promptPermission asks the user on stdin how to treat a tool call.
func promptPermission(tool string) agent.Action {
	fmt.Printf("%s wants to run. [y]es once / [p]lugin for session / [a]ll for session / [n]o: ", tool)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return agent.Deny
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return agent.AllowOnce
	case "p", "plugin":
		return agent.AllowPlugin
	case "a", "all":
		return agent.AllowAllSession
	default:
		return agent.Deny
	}
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if auto, _ := cmd.Flags().GetBool("auto"); !auto {
		fmt.Printf("leader model [%s]: ", cfg.Leader.Model)
		if line := readLine(); line != "" {
			cfg.Leader.Model = line
		}
		fmt.Printf("worker model [%s]: ", cfg.Worker.Model)
		if line := readLine(); line != "" {
			cfg.Worker.Model = line
		}
	}
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	if err := bridge.SaveServers(cfg.ServersPath(), &bridge.ServersFile{Servers: map[string]bridge.ServerConfig{}}); err != nil {
		return err
	}
	fmt.Println("wrote", configPath, "and", cfg.ServersPath())
	return nil
}

func readLine() string {
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	mgr, err := session.NewManager(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return err
	}

	if len(args) == 0 {
		entries, err := mgr.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no saved sessions")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%2d  %s  %s (%d turns)\n",
				e.N, e.Saved.Format("2006-01-02 15:04"), e.Title, e.Turns)
		}
		return nil
	}

	n := 1
	if len(args) == 2 {
		if n, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("session number %q: %w", args[1], err)
		}
	}
	switch args[0] {
	case "load":
		s, err := mgr.Load(n)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(s.Title))
		for _, m := range s.Messages {
			if m.Role == provider.RoleSystem {
				continue
			}
			fmt.Printf("%s: %s\n", titleCase.String(string(m.Role)), m.Content)
		}
		return nil
	case "del":
		return mgr.Delete(n)
	default:
		return fmt.Errorf("unknown history subcommand %q", args[0])
	}
}

func runPlugins(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	catalog := plugin.DefaultCatalog()

	if len(args) == 0 {
		installed, err := bridge.LoadServers(cfg.ServersPath())
		if err != nil {
			return err
		}
		for _, p := range catalog.List() {
			mark := " "
			if _, ok := installed.Servers[p.Name]; ok {
				mark = "*"
			}
			fmt.Printf("%s %-12s %s\n", mark, p.Name, p.Description)
		}
		return nil
	}

	switch args[0] {
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: steward plugins search <query>")
		}
		for _, p := range catalog.Search(args[1]) {
			fmt.Printf("%-12s %s\n", p.Name, p.Description)
		}
		return nil
	case "install":
		if len(args) < 2 {
			return fmt.Errorf("usage: steward plugins install <name>")
		}
		if err := catalog.Install(args[1], cfg.ServersPath()); err != nil {
			return err
		}
		fmt.Println("installed", args[1])
		return nil
	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: steward plugins remove <name>")
		}
		if err := catalog.Uninstall(args[1], cfg.ServersPath()); err != nil {
			return err
		}
		fmt.Println("removed", args[1])
		return nil
	default:
		return fmt.Errorf("unknown plugins subcommand %q", args[0])
	}
}

func runTasks(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := task.NewStore(filepath.Join(cfg.DataDir, "tasks.json"), filepath.Base(mustGetwd()))
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if args[0] != "clear" {
			return fmt.Errorf("unknown tasks subcommand %q", args[0])
		}
		removed, err := store.ClearCompleted()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d completed tasks\n", removed)
		return nil
	}

	tasks := store.All()
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%s  [%s] p%d %s  %s", t.ID, t.Status, t.Priority, titleCase.String(string(t.Type)), t.Title)
		if len(t.Dependencies) > 0 {
			line += mutedStyle.Render("  needs " + strings.Join(t.Dependencies, ", "))
		}
		fmt.Println(line)
	}
	st := store.Stats()
	fmt.Println(mutedStyle.Render(fmt.Sprintf("%d total: %d pending, %d in progress, %d completed, %d failed",
		st.Total, st.Pending, st.InProgress, st.Completed, st.Failed)))
	return nil
}

func runTranscripts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	arch, err := archive.Open(filepath.Join(cfg.DataDir, "transcripts.db"))
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx := cmd.Context()
	var records []archive.Transcript
	switch {
	case len(args) == 0:
		records, err = arch.Recent(ctx, 10)
	case args[0] == "search" && len(args) == 2:
		records, err = arch.Search(ctx, args[1], 10)
	case args[0] == "task" && len(args) == 2:
		records, err = arch.ForTask(ctx, args[1])
	default:
		return fmt.Errorf("usage: steward transcripts [search <query>|task <id>]")
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no transcripts")
		return nil
	}
	for _, r := range records {
		head := fmt.Sprintf("%s  %s  %s", r.CreatedAt.Format("2006-01-02 15:04"), r.Agent, titleCase.String(r.Outcome))
		if r.TaskID != "" {
			head += "  " + r.TaskID
		}
		fmt.Println(titleStyle.Render(head))
		fmt.Println(r.Content)
		fmt.Println()
	}
	return nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
