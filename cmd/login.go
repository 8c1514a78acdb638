package cmd

import (
	"fmt"

	"VibeTune/client"

	"github.com/spf13/cobra"
)

var (
	loginUser     string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "登录并打印访问令牌 (export VIBETUNE_TOKEN=...)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(apiBaseURL(), "")
		user, err := c.Login(cmd.Context(), loginUser, loginPassword)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s (%s)\n", user.Username, user.ID)
		fmt.Println(c.Token())
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "用户名或邮箱")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "密码")
	loginCmd.MarkFlagRequired("username")
	loginCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(loginCmd)
}
