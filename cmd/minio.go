package cmd

import (
	"context"
	"fmt"
	"time"

	"LiveFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO封面存储管理",
	Long:  `查看和管理MinIO存储桶中的房间封面，支持列出文件、查看统计信息、按前缀删除。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}
		fmt.Println("MinIO连接成功！")

		switch {
		case minioDelete:
			if minioPrefix == "" {
				return fmt.Errorf("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除前缀: %s\n", minioPrefix)
			if err := store.DeletePrefix(ctx, minioPrefix); err != nil {
				return fmt.Errorf("删除失败: %w", err)
			}
		case minioStats:
			stats, err := store.Stats(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("获取统计信息失败: %w", err)
			}
			fmt.Printf("\n对象数: %d\n总大小: %.2f MB\n", stats.TotalObjects, float64(stats.TotalSize)/1024/1024)
			if !stats.LastModified.IsZero() {
				fmt.Printf("最后修改: %s\n", stats.LastModified.Format(time.RFC3339))
			}
		default:
			objects, err := store.List(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("列出文件失败: %w", err)
			}
			fmt.Printf("\n前缀 %q 下共 %d 个对象\n", minioPrefix, len(objects))
			for _, o := range objects {
				fmt.Printf("  %-60s %10d  %s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "covers/", "按前缀过滤或指定要删除的前缀")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的所有对象")

	minioCmd.Example = `  # 列出所有封面
  livefm minio

  # 某个房主的封面统计
  livefm minio -s -p "covers/42/"

  # 删除某个房主的全部封面
  livefm minio -d -p "covers/42/"`
}
