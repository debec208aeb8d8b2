package cmd

import (
	"context"
	"fmt"
	"time"

	"LiveFM/cache"

	"github.com/spf13/cobra"
)

var redisRoom string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写和 Pub/Sub 检查；指定 --room 时显示该房间的在线用户。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				fmt.Printf("关闭Redis连接时发生错误: %v\n", err)
			}
		}()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.CheckRedis(ctx); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisRoom != "" {
			users, err := cache.NewRoomCache(cache.RedisClient).ActiveUsers(ctx, redisRoom)
			if err != nil {
				return fmt.Errorf("读取房间在线用户失败: %w", err)
			}
			fmt.Printf("房间 %s 在线用户 (%d): %v\n", redisRoom, len(users), users)
		}
		return nil
	},
}

func init() {
	redisCmd.Flags().StringVar(&redisRoom, "room", "", "显示指定房间的在线用户")
	rootCmd.AddCommand(redisCmd)
}
