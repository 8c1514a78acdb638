package cmd

import (
	"VibeTune/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动VibeTune服务器",
	Long:  `启动HTTP API服务器：歌曲管理、视频转音乐生成、媒体文件与状态推送`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
