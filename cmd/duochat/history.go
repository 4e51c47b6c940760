package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/history"
)

var (
	historyProject  string
	historyProvider string
	historyFollow   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved conversation snapshots",
	Long: `History lists the conversation snapshots in the history directory.
With --project and --provider it prints that snapshot's transcript.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyProject, "project", "", "Project path of the snapshot to show")
	historyCmd.Flags().StringVar(&historyProvider, "provider", "", "Provider of the snapshot to show: claude or codex")
	historyCmd.Flags().BoolVar(&historyFollow, "follow", false, "Keep running and reprint the listing when snapshots change")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if historyProject != "" || historyProvider != "" {
		if historyProject == "" || historyProvider == "" {
			return fmt.Errorf("--project and --provider go together")
		}
		p := chatstream.Provider(historyProvider)
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q", historyProvider)
		}
		return showSnapshot(cfg.HistoryDir, historyProject, p)
	}

	if err := listSnapshots(cfg.HistoryDir); err != nil {
		return err
	}
	if !historyFollow {
		return nil
	}
	return followSnapshots(cmd, cfg.HistoryDir)
}

// followSnapshots reprints the listing whenever another client rewrites
// a snapshot, until the command is interrupted.
func followSnapshots(cmd *cobra.Command, dir string) error {
	archive, err := history.NewArchive(dir, history.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	changed := make(chan string, 16)
	watcher, err := archive.Watch(func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-changed:
			fmt.Println()
			if err := listSnapshots(dir); err != nil {
				return err
			}
		}
	}
}

// listSnapshots prints one line per snapshot file.
func listSnapshots(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Println("no saved conversations")
		return nil
	}
	if err != nil {
		return err
	}

	var count int
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec history.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			fmt.Printf("%-50s  (unreadable)\n", entry.Name())
			continue
		}
		session := rec.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Printf("%-8s  %-30s  %3d messages  saved %s  session %s\n",
			string(rec.Provider), rec.ProjectPath, len(rec.Messages),
			rec.SavedAt.Format(time.DateTime), session)
		count++
	}
	if count == 0 {
		fmt.Println("no saved conversations")
	}
	return nil
}

// showSnapshot prints one snapshot's transcript.
func showSnapshot(dir, project string, p chatstream.Provider) error {
	archive, err := history.NewArchive(dir, history.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	rec, err := archive.Load(project, p)
	if err != nil {
		return fmt.Errorf("no snapshot for %s in %s", string(p), project)
	}

	fmt.Printf("%s in %s, saved %s\n", string(rec.Provider), rec.ProjectPath, rec.SavedAt.Format(time.DateTime))
	if rec.SessionID != "" {
		fmt.Printf("session %s\n", rec.SessionID)
	}
	fmt.Println()
	for _, m := range rec.Messages {
		fmt.Printf("[%s] %s\n%s\n\n", m.Timestamp.Format(time.TimeOnly), string(m.Role), m.Text)
	}
	return nil
}
