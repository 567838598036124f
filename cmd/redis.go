package cmd

import (
	"context"
	"fmt"
	"time"

	"TrackDeal/cache"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接与签署锁测试",
	Long:  `测试Redis连接，并对签署锁做一次加锁、竞争、释放的往返。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		locker := cache.NewRedisLocker(client)
		key := fmt.Sprintf("lockcheck:%d", time.Now().UnixNano())

		release, err := locker.Lock(cmd.Context(), key, 5*time.Second)
		if err != nil {
			return fmt.Errorf("加锁失败: %w", err)
		}

		// 持有期间第二次加锁应当超时
		ctx, cancel := context.WithTimeout(cmd.Context(), 200*time.Millisecond)
		defer cancel()
		if second, err := locker.Lock(ctx, key, 5*time.Second); err == nil {
			second()
			release()
			return fmt.Errorf("锁未生效: 第二个持有者也拿到了 %s", key)
		}
		release()

		again, err := locker.Lock(cmd.Context(), key, 5*time.Second)
		if err != nil {
			return fmt.Errorf("释放后重新加锁失败: %w", err)
		}
		again()
		fmt.Println("签署锁测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
