package cmd

import (
	"LiveFM/server"

	"github.com/spf13/cobra"
)

var httpAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 LiveFM 服务器",
	Long:  `启动 HTTP 服务器：房间目录 REST API 与 /ws 实时中继。MySQL、Redis、MinIO 不可用时退化为进程内实现。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if httpAddr != "" {
			cfg.HTTPAddr = httpAddr
		}
		return server.Start(cfg)
	},
}

func init() {
	serverCmd.Flags().StringVarP(&httpAddr, "addr", "a", "", "监听地址，覆盖 HTTP_ADDR")
	rootCmd.AddCommand(serverCmd)
}
