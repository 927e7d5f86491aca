package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/armorclaw/errtrack/internal/report"
	"github.com/armorclaw/errtrack/pkg/store"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// runReportCommand prints live metrics from a daemon when -server is set,
// and persisted history when a database is available
func runReportCommand(cli cliConfig) error {
	if _, ok := tracker.ParseTimeRange(cli.timeRange); !ok {
		return fmt.Errorf("unknown time range %q", cli.timeRange)
	}

	printed := false
	if cli.server != "" {
		if err := reportFromServer(cli.server, cli.timeRange); err != nil {
			return err
		}
		printed = true
	}

	dbPath := cli.dbPath
	if dbPath == "" {
		if cfg, err := loadConfig(cli); err == nil && cfg.Store.Enabled {
			dbPath = cfg.Store.DBPath
		}
	}
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			if err := reportFromStore(dbPath, cli.limit); err != nil {
				return err
			}
			printed = true
		}
	}

	if !printed {
		return fmt.Errorf("nothing to report: pass -server for a running daemon or -db for a database")
	}
	return nil
}

func reportFromServer(base, timeRange string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	base = strings.TrimRight(base, "/")

	var m tracker.ErrorMetrics
	if err := getJSON(client, base+"/api/metrics?range="+url.QueryEscape(timeRange), &m); err != nil {
		return err
	}
	var st tracker.Stats
	if err := getJSON(client, base+"/api/stats", &st); err != nil {
		return err
	}

	if err := report.Metrics(os.Stdout, m); err != nil {
		return err
	}
	return report.Stats(os.Stdout, st)
}

func getJSON(client *http.Client, u string, v any) error {
	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

func reportFromStore(path string, limit int) error {
	st, err := store.New(store.Config{Path: path})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	if err := report.StoreStats(os.Stdout, stats); err != nil {
		return err
	}

	groups, err := st.Query(ctx, store.GroupQuery{Limit: limit, OrderDesc: true})
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}
	return report.Groups(os.Stdout, groups)
}
