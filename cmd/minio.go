package cmd

import (
	"fmt"
	"time"

	"TrackDeal/core/document"
	"TrackDeal/storage"

	"github.com/spf13/cobra"
)

var (
	minioPath string
	minioTTL  time.Duration
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶检查",
	Long:  `连接MinIO并确认存储桶存在；指定 --path 时读取该合同文档，输出其 sha256 和预签名下载地址。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinioStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Println("MinIO连接成功！")
		if minioPath == "" {
			return nil
		}

		blob, err := store.Get(cmd.Context(), minioPath)
		if err != nil {
			return err
		}
		url, err := store.SignedURL(cmd.Context(), minioPath, minioTTL)
		if err != nil {
			return err
		}
		fmt.Printf("size:   %d bytes\nsha256: %s\nurl:    %s\n", len(blob), document.Hash(blob), url)
		return nil
	},
}

func init() {
	minioCmd.Flags().StringVar(&minioPath, "path", "", "合同文档对象路径")
	minioCmd.Flags().DurationVar(&minioTTL, "ttl", 15*time.Minute, "预签名地址有效期")
	rootCmd.AddCommand(minioCmd)
}
