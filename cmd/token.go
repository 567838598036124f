package cmd

import (
	"fmt"
	"strings"
	"time"

	"TrackDeal/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenName   string
	tokenRoles  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发本地测试用的 JWT",
	Long:  `按 JWT_SECRET 签发令牌，--roles 为逗号分隔的角色标签（producer, finance_admin, admin, super_admin）。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID <= 0 {
			return fmt.Errorf("--user must be a positive id")
		}
		var roles []string
		for _, r := range strings.Split(tokenRoles, ",") {
			if tag := strings.TrimSpace(r); tag != "" {
				if _, ok := auth.ParseTier(tag); !ok {
					return fmt.Errorf("unknown role %q", tag)
				}
				roles = append(roles, tag)
			}
		}
		token, err := auth.NewJWTResolver(cfg.JWTSecret).Issue(tokenUserID, tokenName, roles, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "user id")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "username")
	tokenCmd.Flags().StringVar(&tokenRoles, "roles", "producer", "comma separated role tags")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
