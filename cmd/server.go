package cmd

import (
	"TrackDeal/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 TrackDeal 服务器",
	Long:  `启动交易生命周期引擎的 HTTP 服务，提供动作接口、查询接口和 /ws/deals 事件流。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
