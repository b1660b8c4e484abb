package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

func newListCmd() *cobra.Command {
	var (
		limit     string
		order     string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "list <thread-id>",
		Short: "Print the checkpoints of a thread as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := services.ParseLimit(limit)
			if err != nil {
				return err
			}
			listOrder, err := services.ParseListOrder(order)
			if err != nil {
				return err
			}

			svc, closeFn, err := openBackend(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			threadCfg := repository.CheckpointConfig{ThreadID: args[0], CheckpointNS: namespace}
			tuples, err := svc.Sessions.ListCheckpoints(cmd.Context(), threadCfg, repository.ListOptions{Limit: n}, listOrder)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, tuple := range tuples {
				if err := enc.Encode(tuple); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&limit, "limit", "", "maximum number of checkpoints (default all)")
	cmd.Flags().StringVar(&order, "order", "asc", "listing order: asc (oldest first) or desc")
	cmd.Flags().StringVar(&namespace, "ns", "", "checkpoint namespace")

	return cmd
}

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <thread-id>",
		Short: "Print the summary of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openBackend(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := svc.Sessions.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
