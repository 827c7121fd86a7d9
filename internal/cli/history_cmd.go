package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/config"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/db"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/store"
)

var (
	historyDBPath = config.DefaultDBPath
	historyPeer   string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list past transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd.Context(), cmd.OutOrStdout(), historyDBPath, historyPeer, historyLimit)
	},
}

func runHistory(ctx context.Context, out io.Writer, dbPath, peerID string, limit int) error {
	gdb, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	transfers := store.NewTransferStore(gdb)
	var list []db.Transfer
	if peerID != "" {
		list, err = transfers.ListByPeer(ctx, peerID, limit)
	} else {
		list, err = transfers.List(ctx, limit)
	}
	if err != nil {
		return err
	}

	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "No transfers yet")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDIRECTION\tPEER\tFILE\tTYPE\tBYTES\tCHUNKS")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			t.CreatedAt.Local().Format(time.DateTime), t.Direction, t.PeerID, t.FileName, t.MimeType, t.Size, t.TotalChunks)
	}
	return w.Flush()
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", historyDBPath, "transfer history database")
	historyCmd.Flags().StringVar(&historyPeer, "peer", "", "only show transfers with this peer")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of transfers to show (0 for all)")
}
