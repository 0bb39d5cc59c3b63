package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nstogner/companion/pkg/config"
	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/persona"
	"github.com/nstogner/companion/pkg/todo"
)

var (
	checkTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("5"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(14).Foreground(lipgloss.Color("8"))
)

type checkLevel int

const (
	levelOK checkLevel = iota
	levelWarn
	levelFail
)

type checkResult struct {
	label   string
	level   checkLevel
	summary string
	details []string
}

func newCheckCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and data files",
		Long: `check loads the configuration, personas, todo list and model profiles
and prints what the server would use. It exits non-zero only when the
configuration itself is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := runChecks(cmd.Context(), configPath(cmd), !offline)
			renderChecks(cmd.OutOrStdout(), results)
			return err
		},
	}
	cmd.Flags().String("config", "", "path to a TOML config file (or COMPANION_CONFIG)")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip contacting the inference backend")
	return cmd
}

func runChecks(ctx context.Context, path string, online bool) ([]checkResult, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return []checkResult{{label: "config", level: levelFail, summary: err.Error()}}, err
	}

	results := []checkResult{{
		label:   "config",
		level:   levelOK,
		summary: fmt.Sprintf("%s backend, listening on %s", cfg.Backend, cfg.Addr()),
		details: []string{
			fmt.Sprintf("window %d, feedback every %d captures", cfg.WindowSize, cfg.Threshold),
			fmt.Sprintf("models %s / %s, timeout %v", cfg.VisionModel, cfg.ReasoningModel, cfg.RequestTimeout),
		},
	}}

	results = append(results, checkPersonas(cfg.PersonasFile))
	results = append(results, checkTodos(cfg.TodoFile))
	results = append(results, checkProfiles(cfg.ProfilesFile))
	if online {
		results = append(results, checkBackend(ctx, cfg))
	}
	return results, nil
}

func checkPersonas(path string) checkResult {
	set := persona.LoadFile(path)
	r := checkResult{label: "personas", level: levelOK}
	if set.Fallback {
		r.level = levelWarn
		r.summary = fmt.Sprintf("%s unusable, using built-in %q", path, persona.Builtin.Name)
		return r
	}
	r.summary = fmt.Sprintf("%d loaded from %s", len(set.Personas), path)
	for _, p := range set.Personas {
		line := p.Name
		if p.Name == set.Default {
			line += " (default)"
		}
		r.details = append(r.details, line)
	}
	return r
}

func checkTodos(path string) checkResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return checkResult{label: "todos", level: levelWarn, summary: err.Error()}
	}
	items := todo.Parse(string(data))
	open := 0
	for _, it := range items {
		if !it.Completed {
			open++
		}
	}
	return checkResult{
		label:   "todos",
		level:   levelOK,
		summary: fmt.Sprintf("%d items, %d open", len(items), open),
		details: strings.Split(todo.Render(items), "\n"),
	}
}

func checkProfiles(path string) checkResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return checkResult{label: "profiles", level: levelWarn, summary: err.Error()}
	}
	profiles, err := model.ParseProfiles(data)
	if err != nil {
		return checkResult{label: "profiles", level: levelWarn, summary: err.Error()}
	}
	r := checkResult{label: "profiles", level: levelOK, summary: fmt.Sprintf("%d defined", len(profiles))}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := profiles[name]
		r.details = append(r.details, fmt.Sprintf("%s: %s / %s", name, p.VisionModel, p.ReasoningModel))
	}
	return r
}

func checkBackend(ctx context.Context, cfg *config.Config) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return checkResult{label: "backend", level: levelWarn, summary: err.Error()}
	}
	gw := model.NewGateway(backend, domain.Selection{Vision: cfg.VisionModel, Reasoning: cfg.ReasoningModel}, cfg.RequestTimeout)
	if !gw.CheckConnectivity(ctx) {
		return checkResult{label: "backend", level: levelWarn, summary: backend.Name() + " unreachable"}
	}

	installed := gw.ListInstalled(ctx)
	r := checkResult{label: "backend", level: levelOK, summary: fmt.Sprintf("%s reachable, %d models", backend.Name(), len(installed))}
	for _, m := range []string{cfg.VisionModel, cfg.ReasoningModel} {
		if !model.IsInstalled(m, installed) {
			r.level = levelWarn
			r.details = append(r.details, m+" is not installed")
		}
	}
	return r
}

func renderChecks(w io.Writer, results []checkResult) {
	fmt.Fprintln(w, checkTitleStyle.Render("companion check"))
	fmt.Fprintln(w)
	for _, r := range results {
		var mark string
		switch r.level {
		case levelOK:
			mark = okStyle.Render("✓")
		case levelWarn:
			mark = warnStyle.Render("!")
		default:
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, labelStyle.Render(r.label), r.summary)
		for _, d := range r.details {
			fmt.Fprintln(w, detailStyle.Render(d))
		}
	}
}
