package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/doctor"
	"github.com/officefloor/officefloor/internal/events"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/inspect"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/lock"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/officefloor"
	"github.com/officefloor/officefloor/internal/sources/builtin"
	"github.com/officefloor/officefloor/internal/storage"
	"github.com/officefloor/officefloor/internal/tui"
	"github.com/officefloor/officefloor/internal/tui/tokenmgr"
)

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("ERROR", cfg.Service.LogFormat)

	registry, err := builtin.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry, *configPath).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

type statusReport struct {
	Running  bool       `json:"running"`
	PID      int        `json:"pid,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	LockPath string     `json:"lock_path"`
	Offices  int        `json:"offices"`
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	report := statusReport{LockPath: cfg.Service.LockPath, Offices: len(cfg.Offices)}
	l, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	switch {
	case errors.Is(err, lock.ErrLocked):
		report.Running = true
		if owner, ok := lock.Holder(cfg.Service.LockPath); ok {
			report.PID = owner.PID
			if !owner.Since.IsZero() {
				report.Since = &owner.Since
			}
		}
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	default:
		_ = l.Release()
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if report.Running {
		fmt.Printf("running (pid %d, lock %s)\n", report.PID, report.LockPath)
		if report.Since != nil {
			fmt.Printf("since: %s (up %s)\n", report.Since.Format(time.RFC3339), time.Since(*report.Since).Round(time.Second))
		}
	} else {
		fmt.Printf("stopped (lock %s)\n", report.LockPath)
	}
	fmt.Printf("offices: %d\n", report.Offices)
	return 0
}

type invokeResult struct {
	ProcessID  string `json:"process_id"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// runInvoke opens the floor in process, runs one function and closes again.
// Started sources such as timers run for the lifetime of the invocation.
func runInvoke(args []string) int {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	configPath := configFlag(fs)
	param := fs.String("param", "", "JSON parameter for the function")
	timeout := fs.Duration("timeout", 60*time.Second, "How long to wait for the process")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: officefloor invoke <office> <function> [--param JSON] [--timeout 60s]")
		return 1
	}
	office, function := fs.Arg(0), fs.Arg(1)

	var parameter any
	if *param != "" {
		if err := json.Unmarshal([]byte(*param), &parameter); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --param: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("ERROR", cfg.Service.LogFormat)

	registry, err := builtin.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx := officefloor.WithSubmitter(context.Background(), "cli")
	opts := officefloor.Options{Registry: registry}
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open journal: %v\n", err)
			return 1
		}
		defer db.Close()
		j := journal.New(db)
		opts.Journal = j
		opts.Observers = []execute.Observer{j.Observer()}
	}
	floor, err := officefloor.Open(ctx, cfg, opts)
	if err != nil {
		printIssues(os.Stderr, err)
		return 1
	}
	defer floor.Close(context.Background())

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	start := time.Now()
	outcome, err := floor.InvokeAndWait(waitCtx, office, function, parameter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	res := invokeResult{ProcessID: outcome.ProcessID, Status: "completed", DurationMs: time.Since(start).Milliseconds()}
	code := 0
	if outcome.Err != nil {
		res.Status = "failed"
		res.Error = outcome.Err.Error()
		code = 1
	} else if _, err := json.Marshal(outcome.Result); err == nil {
		res.Result = outcome.Result
	} else {
		res.Result = fmt.Sprint(outcome.Result)
	}
	data, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(data))
	return code
}

// reorderFlags moves positional arguments after the flags so they may be
// given in either order.
func reorderFlags(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: officefloor inspect <process-id> [--json]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "Error: journal is disabled; nothing to inspect")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	out, err := build(ctx, journal.New(db), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) == 0 || args[0] != "get" {
		fmt.Fprintln(os.Stderr, "Usage: officefloor config get <path|entity> [--json]")
		return 1
	}
	return runConfigGet(args[1:])
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: officefloor config get <path|entity> [--json]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	switch val.(type) {
	case string, int, float64, bool:
		fmt.Printf("%v\n", val)
	default:
		data, err := yaml.Marshal(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	}
	return 0
}

func runTypes(args []string) int {
	fs := flag.NewFlagSet("types", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	registry, err := builtin.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	types := registry.Types()

	if *jsonOut {
		data, _ := json.MarshalIndent(types, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	kinds := make([]string, 0, len(types))
	for kind := range types {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("%s: %s\n", kind, strings.Join(types[kind], ", "))
	}
	return 0
}

func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := configFlag(fs)
	scopes := fs.String("scopes", "", "Comma separated scopes; skips the interactive picker")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	selected := splitCSV(*scopes)
	if len(selected) == 0 {
		var offices []string
		if cfg, err := config.Load(*configPath); err == nil {
			for _, o := range cfg.Offices {
				offices = append(offices, o.Name)
			}
		}
		final, err := tea.NewProgram(tokenmgr.New(offices)).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		var m tokenmgr.Model
		switch v := final.(type) {
		case tokenmgr.Model:
			m = v
		case *tokenmgr.Model:
			m = *v
		}
		if m.Cancelled() {
			return 1
		}
		selected = m.Scopes()
	}
	if len(selected) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no scopes selected")
		return 1
	}

	token, err := tokenmgr.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	snippet, err := tokenmgr.Snippet(token, selected)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("# add under api.auth.tokens")
	fmt.Print(snippet)
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Office floor API URL")
	token := fs.String("token", os.Getenv("OFFICEFLOOR_TOKEN"), "API bearer token with events:ro")
	offices := fs.String("office", "", "Comma-separated offices to watch (default all)")
	types := fs.String("type", "", "Comma-separated event types to watch (default all)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: token required. Use --token or OFFICEFLOOR_TOKEN env var.")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	filter := events.Filter{Offices: splitCSV(*offices), Types: splitCSV(*types)}
	p := tea.NewProgram(tui.NewMonitor(ctx, *apiURL, *token).WithFilter(filter))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// splitCSV splits a comma separated flag value, dropping empty entries.
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
