package cmd

import (
	"fmt"
	"net/http"

	"github.com/haierkeys/vm-backup-service/internal/app"
	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

func init() {
	var remote bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print out version info and exit. // 打印版本信息并退出。",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "v%s ( Git:%s ) BuildTime:%s\n", app.Version, app.GitTag, app.BuildTime)
			if !remote {
				return nil
			}
			var v dto.VersionDTO
			if err := apiCall(http.MethodGet, "/api/version", nil, &v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server %s v%s ( Git:%s ) BuildTime:%s\n", v.Name, v.Version, v.GitTag, v.BuildTime)
			return nil
		},
	}
	versionCmd.Flags().BoolVar(&remote, "remote", false, "also query the server version")

	rootCmd.AddCommand(versionCmd)
}
