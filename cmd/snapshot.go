package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/macfound/configaudit/internal/utils"
	"github.com/macfound/configaudit/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the latest stored configuration version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		history, _ := cmd.Flags().GetInt("history")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				utils.Log.Warnf("Closing %s store: %v", cfg.StoreBackend, err)
			}
		}()

		id := cfg.Identifier()
		if history > 0 {
			db, ok := store.(*storage.DB)
			if !ok {
				return fmt.Errorf("--history needs the sqlite store, configured backend is %s", cfg.StoreBackend)
			}
			revs, err := db.ListRevisions(cmd.Context(), id, history)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tAUTHOR\tCHANGES\tMESSAGE")
			for _, r := range revs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.CommittedAt.Format("2006-01-02 15:04:05"), r.Author, r.ChangeCount, r.Message)
			}
			return w.Flush()
		}

		snap, err := store.GetPrevious(cmd.Context(), id)
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no version stored for %s", id)
		}
		if snap.Metadata.UpdatedAt != "" {
			fmt.Printf("Updated At %s\n", snap.Metadata.UpdatedAt)
			fmt.Printf("Updated By %s (%s)\n\n", snap.Metadata.UpdatedBy.FullName(), snap.Metadata.UpdatedBy.Email)
		}
		os.Stdout.Write(pretty.Pretty([]byte(snap.Raw)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().Int("history", 0, "List the last N stored versions instead (sqlite store only)")
}
