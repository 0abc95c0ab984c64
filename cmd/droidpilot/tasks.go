package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"droidpilot/internal/config"
	"droidpilot/internal/model"
	"droidpilot/internal/store"
	logx "droidpilot/pkg/logx"
)

func newTasksCommand(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listTasks(cmd, *configPath, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks to show")
	return cmd
}

func listTasks(cmd *cobra.Command, configPath string, limit int) error {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	var durs config.Durations
	busy := durs.Get("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err := durs.Err(); err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logx.Nop())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	tasks, err := st.ListTasks(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		cmd.Println("no tasks")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			t.DeviceName,
			string(t.Kind),
			string(t.Status),
			strconv.Itoa(t.RetryCount),
			payloadSummary(t),
			t.UpdatedAt.Format("2006-01-02 15:04:05"),
			t.LastError,
		})
	}
	cmd.Println(renderTable(
		[]string{"ID", "DEVICE", "KIND", "STATUS", "RETRIES", "PAYLOAD", "UPDATED", "LAST ERROR"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func payloadSummary(t model.Task) string {
	switch t.Kind {
	case model.KindTransfer:
		return fmt.Sprintf("%d file(s)", len(t.Files))
	case model.KindAutomation:
		if t.Action != nil {
			return t.Action.Name
		}
	}
	return ""
}
