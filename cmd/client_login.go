package cmd

import (
	"fmt"

	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

func init() {
	var username, password string

	loginCmd := &cobra.Command{
		Use:   "login -u <user> -p <password>",
		Short: "Log in and save the API token // 登录并保存令牌",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out dto.LoginDTO
			err := apiCall("POST", "/api/user/login", &dto.UserLoginRequest{Username: username, Password: password}, &out)
			if err != nil {
				return err
			}
			path, err := saveToken(out.Token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s, token saved to %s\n", out.User.Name, path)
			return nil
		},
	}
	fs := loginCmd.Flags()
	fs.StringVarP(&username, "user", "u", "", "user name")
	fs.StringVarP(&password, "password", "p", "", "password")
	_ = loginCmd.MarkFlagRequired("user")
	_ = loginCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd)
}
