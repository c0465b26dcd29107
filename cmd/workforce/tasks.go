package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/basket/workforce/internal/config"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

const briefColumnWidth = 48

func runTasksCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "only list tasks with this status")
	limit := fs.Int("limit", 20, "maximum number of tasks")
	asJSON := fs.Bool("json", false, "print the raw JSON page")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: workforce tasks [-status s] [-limit n] [-json]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	res, raw, err := fetchTasks(ctx, cfg, *status, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tasks: %v\n", err)
		return 1
	}
	if *asJSON {
		_, _ = os.Stdout.Write(raw)
		return 0
	}
	renderTasks(os.Stdout, res, time.Now())
	return 0
}

func fetchTasks(ctx context.Context, cfg config.Config, status string, limit int) (persistence.ListResult, []byte, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	target := daemonURL(cfg.BindAddr, "/api/tasks")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return persistence.ListResult{}, nil, err
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return persistence.ListResult{}, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return persistence.ListResult{}, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return persistence.ListResult{}, nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, e.Error)
	}
	var res persistence.ListResult
	if err := json.Unmarshal(body, &res); err != nil {
		return persistence.ListResult{}, nil, fmt.Errorf("decode tasks: %w", err)
	}
	return res, body, nil
}

// renderTasks prints a task table. Color is only emitted when w is a
// terminal.
func renderTasks(w io.Writer, res persistence.ListResult, now time.Time) {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)
	muted := r.NewStyle().Foreground(lipgloss.Color("241"))

	if len(res.Tasks) == 0 {
		fmt.Fprintln(w, muted.Render("no tasks"))
		return
	}

	rows := make([][]string, 0, len(res.Tasks))
	for _, m := range res.Tasks {
		rows = append(rows, []string{
			m.ID,
			m.EmployeeID,
			string(m.Status),
			string(m.Stage),
			fmt.Sprintf("%3.0f%%", m.Progress*100),
			truncate(m.Brief, briefColumnWidth),
			age(now, m.UpdatedAt),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(muted).
		Headers("ID", "EMPLOYEE", "STATUS", "STAGE", "PROGRESS", "BRIEF", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if col == 2 && row >= 0 && row < len(res.Tasks) {
				return cell.Foreground(statusColor(res.Tasks[row].Status))
			}
			return cell
		})
	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w, muted.Render(fmt.Sprintf("%d of %d tasks", len(res.Tasks), res.Total)))
}

func statusColor(s task.Status) lipgloss.Color {
	switch s {
	case task.StatusRunning:
		return lipgloss.Color("33")
	case task.StatusCompleted:
		return lipgloss.Color("35")
	case task.StatusFailed:
		return lipgloss.Color("196")
	case task.StatusCancelled:
		return lipgloss.Color("244")
	default:
		return lipgloss.Color("214")
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
