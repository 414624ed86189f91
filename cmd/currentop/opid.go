package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrzor/currentop/internal/config"
	"github.com/mrzor/currentop/internal/opid"
)

var opidCmd = &cobra.Command{
	Use:   "opid",
	Short: "Encode and decode operation handles",
}

var opidDecodeCmd = &cobra.Command{
	Use:   "decode OPID",
	Short: "Show the worker and sequence an operation handle names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, _ := cmd.Flags().GetInt("capacity")
		h, worker, seq, err := opid.Parse(args[0], capacity)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "opid=%s worker=%d seq=%d\n", h, worker, seq)
		return nil
	},
}

var opidEncodeCmd = &cobra.Command{
	Use:   "encode WORKER SEQ",
	Short: "Build the handle for a worker's operation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		worker, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid worker %q: %w", args[0], err)
		}
		seq, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[1], err)
		}
		capacity, _ := cmd.Flags().GetInt("capacity")
		if worker < 0 || worker >= capacity {
			return fmt.Errorf("%w: worker %d with capacity %d", opid.ErrOutOfRange, worker, capacity)
		}
		if seq == 0 {
			return fmt.Errorf("%w: sequence numbers start at 1", opid.ErrMalformed)
		}
		fmt.Fprintln(cmd.OutOrStdout(), opid.Encode(worker, uint32(seq)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(opidCmd)
	opidCmd.AddCommand(opidDecodeCmd, opidEncodeCmd)
	opidCmd.PersistentFlags().Int("capacity", config.MaxWorkersLimit, "Worker capacity the handle is checked against")
}
