package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/macfound/configaudit/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recently changed configuration records (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbPath := viper.GetString("store.dbpath")
		limit, _ := cmd.Flags().GetInt("limit")
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database not found: %s", dbPath)
		}
		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		changes, err := db.ListRecentChanges(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCONFIGURATION\tPARENT\tKEY\tVALUE\tAUTHOR")
		for _, c := range changes {
			ts := c.OccurredAt.Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ts, c.Identifier, c.Parent, c.Key, c.Value, c.Author)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: store.dbpath)")
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
	viper.BindPFlag("store.dbpath", changesCmd.Flags().Lookup("dbpath"))
}
