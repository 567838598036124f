package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"TrackDeal/core/auth"
	"TrackDeal/server"

	"github.com/spf13/cobra"
)

// cliCaller is the identity operator commands run as.
var cliCaller = auth.Caller{UserID: 0, Name: "cli", Roles: []auth.Tier{auth.TierSuperAdmin}}

var verifyCmd = &cobra.Command{
	Use:   "verify-contract <contract-id>",
	Short: "重新计算合同文档哈希并与记录比对",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid contract id %q", args[0])
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		engine, cleanup, err := server.BuildEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := engine.VerifyContract(ctx, cliCaller, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("contract %d failed integrity verification", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
