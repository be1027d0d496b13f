package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"shvattr/attributes"
	"shvattr/client"
	"shvattr/config"
	"shvattr/message"
	"shvattr/method"
	"shvattr/render"
	"shvattr/roles"
	"shvattr/value"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	signalStyle = cellStyle.Foreground(lipgloss.Color("#666666"))
	errorStyle  = cellStyle.Foreground(lipgloss.Color("#FF6B6B"))
	resultStyle = cellStyle.Foreground(lipgloss.Color("#90EE90"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
)

func list(ctx context.Context, conn *client.Conn, cfg config.Config, path string) error {
	res, err := conn.Call(ctx, path, method.Ls, nil, cfg.Access)
	if err != nil {
		return err
	}
	names, err := roles.DecodeStringList(res)
	if err != nil {
		return fmt.Errorf("ls %s: %w", path, err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// attrs loads the method table of path, lets the automatic getter finish, and
// prints one row per method.
func attrs(ctx context.Context, conn *client.Conn, cfg config.Config, path string, opts options) error {
	dir, err := conn.Call(ctx, path, method.Dir, nil, cfg.Access)
	if err != nil {
		return err
	}
	ds, err := method.FromDir(path, dir)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	m := attributes.New(conn, path)
	defer m.Detach()
	m.Subscribe(attributes.ListenerFuncs{OnRowChanged: func(int) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}})
	m.Load(ds)
	if err := waitIdle(ctx, m, changed); err != nil {
		return err
	}

	cols := []attributes.Column{attributes.ColMethod, attributes.ColSignature, attributes.ColParams, attributes.ColResult, attributes.ColRun}
	if opts.wide {
		cols = []attributes.Column{attributes.ColMethod, attributes.ColSignature, attributes.ColFlags, attributes.ColAccessLevel,
			attributes.ColParams, attributes.ColResult, attributes.ColRun}
	}
	headers := make([]string, len(cols))
	for i, col := range cols {
		headers[i] = attributes.ColumnTitle(col)
	}
	rows := make([][]string, m.RowCount())
	for r := range rows {
		rows[r] = make([]string, len(cols))
		for i, col := range cols {
			cell := m.DisplayValue(r, col)
			switch col {
			case attributes.ColRun:
				cell = m.Affordance(r).String()
			case attributes.ColResult:
				cell = oneLine(cell, opts.limit)
			}
			rows[r][i] = cell
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			rd, ok := m.Row(row)
			switch {
			case !ok:
				return cellStyle
			case rd.Method.IsSignal():
				return signalStyle
			case cols[col] == attributes.ColResult && rd.Response != nil && rd.Response.IsError():
				return errorStyle
			case cols[col] == attributes.ColResult && rd.Response != nil:
				return resultStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	return nil
}

func waitIdle(ctx context.Context, m *attributes.Model, changed <-chan struct{}) error {
	for {
		idle := true
		for i := 0; i < m.RowCount(); i++ {
			if m.IsPending(i) {
				idle = false
				break
			}
		}
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", m.Path(), ctx.Err())
		}
	}
}

// oneLine folds a multi-line rendering into a table cell.
func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit > 0 {
		return render.Truncate(s, limit)
	}
	return s
}

func call(ctx context.Context, conn *client.Conn, cfg config.Config, args []string, opts options) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError("call needs a path, a method and optional params")
	}
	var params value.Value
	if len(args) == 3 {
		p, err := value.Parse(args[2])
		if err != nil {
			return fmt.Errorf("params: %w", err)
		}
		params = p
	}

	res, err := conn.Call(ctx, args[0], args[1], params, cfg.Access)
	out := message.Success(res)
	if err != nil {
		var ve *value.Error
		if !errors.As(err, &ve) {
			return err
		}
		out = message.Failure(ve)
	}
	limit := render.MaxDisplaySize
	if opts.limit > 0 {
		limit = opts.limit
	}
	if out.IsError() {
		return fmt.Errorf("%s:%s: %s: %s", args[0], args[1], out.Err.Code, render.RenderLimit(out, limit))
	}
	fmt.Println(render.RenderLimit(out, limit))
	return nil
}

func deleteRole(ctx context.Context, conn *client.Conn, cfg config.Config, role string) error {
	reports := make(chan roles.Report, 1)
	d := roles.NewDeletion(conn, roles.DefaultPlan(cfg.ACLPath), role, func(r roles.Report) { reports <- r })
	d.OnTransition(func(s roles.State, index int) {
		if s == roles.DeletingDependents {
			_, _, total := d.Progress()
			fmt.Fprintf(os.Stderr, "deleting access entry %d/%d\n", index+1, total)
		}
	})
	if err := d.Start(); err != nil {
		return err
	}

	var rep roles.Report
	select {
	case rep = <-reports:
	case <-ctx.Done():
		return fmt.Errorf("delete role %s (run %s): %w", role, d.ID(), ctx.Err())
	}
	for _, e := range rep.Deleted {
		fmt.Printf("deleted access entry %s\n", e)
	}
	if rep.State == roles.Failed {
		where := rep.Step.String()
		if rep.Entry != "" {
			where += " " + rep.Entry
		}
		return fmt.Errorf("%s: role %s kept, failed at %s: %v", rep.ID, role, where, rep.Err)
	}
	fmt.Println(okStyle.Render("deleted role " + role))
	return nil
}
