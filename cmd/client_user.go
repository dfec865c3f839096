package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

const (
	userPath  = "/api/users"
	groupPath = "/api/groups"
)

func limitString(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	return itoa(n)
}

func init() {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users and quotas // 管理用户与配额",
	}

	var gid int64
	userCreateCmd := &cobra.Command{
		Use:   "create <name> <password>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &dto.UserCreateRequest{Username: args[0], Password: args[1]}
			if cmd.Flags().Changed("gid") {
				req.GID = &gid
			}
			var u dto.UserDTO
			if err := apiCall(http.MethodPost, userPath, req, &u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", u.ID)
			return nil
		},
	}
	userCreateCmd.Flags().Int64Var(&gid, "gid", 0, "primary group, defaults to users")

	userListCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := apiList[*dto.UserDTO](userPath)
			if err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), users)
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{itoa(u.ID), u.Name, itoa(u.GID), joinIDs(u.Groups)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "GID", "GROUPS"}, rows)
			return nil
		},
	}
	addJSONFlag(userListCmd)

	userChgrpCmd := &cobra.Command{
		Use:   "chgrp <uid> <gid>",
		Short: "Change the primary group of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseID(args[0])
			if err != nil {
				return err
			}
			g, err := parseID(args[1])
			if err != nil {
				return err
			}
			return apiCall(http.MethodPut, userPath+"/"+itoa(uid)+"/chgrp", &dto.UserChgrpRequest{GID: g}, nil)
		},
	}

	var (
		quotaDS              int64
		quotaImages, quotaMB int64
	)
	userQuotaCmd := &cobra.Command{
		Use:   "quota <uid>",
		Short: "Show or set (with --datastore) the quota of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseID(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("datastore") {
				req := &dto.QuotaSetRequest{DatastoreID: quotaDS, ImagesLimit: quotaImages, SizeLimit: quotaMB}
				return apiCall(http.MethodPut, userPath+"/"+itoa(uid)+"/quota", req, nil)
			}
			var quotas []*dto.QuotaDTO
			if err := apiCall(http.MethodGet, userPath+"/"+itoa(uid)+"/quota", nil, &quotas); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), quotas)
			}
			rows := make([][]string, 0, len(quotas))
			for _, q := range quotas {
				rows = append(rows, []string{
					itoa(q.DatastoreID),
					itoa(q.ImagesUsed) + " / " + limitString(q.ImagesLimit),
					itoa(q.SizeUsed) + " / " + limitString(q.SizeLimit),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"DATASTORE", "IMAGES", "SIZE (MB)"}, rows)
			return nil
		},
	}
	qf := userQuotaCmd.Flags()
	qf.Int64Var(&quotaDS, "datastore", 0, "datastore to set limits on")
	qf.Int64Var(&quotaImages, "images", -1, "image limit, -1 for unlimited")
	qf.Int64Var(&quotaMB, "size", -1, "size limit in MB, -1 for unlimited")
	addJSONFlag(userQuotaCmd)

	userCmd.AddCommand(userCreateCmd, userListCmd, userChgrpCmd, userQuotaCmd)
	rootCmd.AddCommand(userCmd)

	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups // 管理组",
	}

	var admin bool
	groupCreateCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g dto.GroupDTO
			if err := apiCall(http.MethodPost, groupPath, &dto.GroupCreateRequest{Name: args[0], Admin: admin}, &g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", g.ID)
			return nil
		},
	}
	groupCreateCmd.Flags().BoolVar(&admin, "admin", false, "members are administrators")

	groupListCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var groups []*dto.GroupDTO
			if err := apiCall(http.MethodGet, groupPath, nil, &groups); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), groups)
			}
			rows := make([][]string, 0, len(groups))
			for _, g := range groups {
				rows = append(rows, []string{itoa(g.ID), g.Name, strings.ToUpper(strconv.FormatBool(g.Admin))})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "ADMIN"}, rows)
			return nil
		},
	}
	addJSONFlag(groupListCmd)

	groupCmd.AddCommand(groupCreateCmd, groupListCmd)
	rootCmd.AddCommand(groupCmd)
}
