package cmd

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

const (
	imagePath     = "/api/images"
	datastorePath = "/api/datastores"
)

func init() {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Manage images and backups // 管理镜像与备份",
	}

	imageShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var img dto.ImageDTO
			if err := apiCall(http.MethodGet, imagePath+"/"+itoa(id), nil, &img); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), &img)
			}
			printImage(cmd.OutOrStdout(), &img)
			return nil
		},
	}
	addJSONFlag(imageShowCmd)

	imageListCmd := &cobra.Command{
		Use:   "list",
		Short: "List images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := apiList[*dto.ImageDTO](imagePath)
			if err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), images)
			}
			rows := make([][]string, 0, len(images))
			for _, img := range images {
				rows = append(rows, []string{itoa(img.ID), img.Name, itoa(img.DatastoreID), img.Type, img.State, itoa(img.Size)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "DATASTORE", "TYPE", "STATE", "SIZE"}, rows)
			return nil
		},
	}
	addJSONFlag(imageListCmd)

	imageDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return apiCall(http.MethodDelete, imagePath+"/"+itoa(id), nil, nil)
		},
	}

	var restoreName string
	imageRestoreCmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a backup as a new VM template and disk images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var out dto.RestoreResultDTO
			if err := apiCall(http.MethodPost, imagePath+"/"+itoa(id)+"/restore", &dto.ImageRestoreRequest{Name: restoreName}, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template ID: %d\nImage IDs: %s\n", out.TemplateID, joinIDs(out.ImageIDs))
			return nil
		},
	}
	imageRestoreCmd.Flags().StringVar(&restoreName, "name", "", "name of the new template")

	imageCmd.AddCommand(imageShowCmd, imageListCmd, imageDeleteCmd, imageRestoreCmd)
	rootCmd.AddCommand(imageCmd)

	dsCmd := &cobra.Command{
		Use:   "datastore",
		Short: "Manage datastores // 管理数据存储",
	}

	var (
		dsType, dsMad string
		dsLimit       int64
		dsCheck       bool
		dsAttrs       map[string]string
	)
	dsCreateCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &dto.DatastoreCreateRequest{
				Name:          args[0],
				Type:          dsType,
				DSMad:         dsMad,
				CapacityCheck: dsCheck,
				Attributes:    dsAttrs,
			}
			if cmd.Flags().Changed("limit-mb") {
				req.LimitMB = &dsLimit
			}
			var ds dto.DatastoreDTO
			if err := apiCall(http.MethodPost, datastorePath, req, &ds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", ds.ID)
			return nil
		},
	}
	cf := dsCreateCmd.Flags()
	cf.StringVar(&dsType, "type", "IMAGE_DS", "IMAGE_DS, SYSTEM_DS or BACKUP_DS")
	cf.StringVar(&dsMad, "ds-mad", "", "backup driver: local, s3, minio, r2, oss or webdav")
	cf.Int64Var(&dsLimit, "limit-mb", -1, "capacity limit in MB, -1 for no limit")
	cf.BoolVar(&dsCheck, "capacity-check", false, "reject backups that do not fit")
	cf.StringToStringVar(&dsAttrs, "attr", nil, "driver attribute KEY=VALUE, repeatable")

	dsShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var ds dto.DatastoreDTO
			if err := apiCall(http.MethodGet, datastorePath+"/"+itoa(id), nil, &ds); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), &ds)
			}
			free := "-"
			if ds.FreeMB != nil {
				free = itoa(*ds.FreeMB)
			}
			pairs := [][2]string{
				{"ID", itoa(ds.ID)},
				{"NAME", ds.Name},
				{"TYPE", ds.Type},
				{"DS_MAD", ds.DSMad},
				{"LIMIT_MB", itoa(ds.LimitMB)},
				{"FREE_MB", free},
				{"CAPACITY_CHECK", strconv.FormatBool(ds.CapacityCheck)},
			}
			keys := make([]string, 0, len(ds.Attributes))
			for k := range ds.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				pairs = append(pairs, [2]string{k, ds.Attributes[k]})
			}
			printAttrs(cmd.OutOrStdout(), "DATASTORE "+itoa(ds.ID)+" INFORMATION", pairs)
			return nil
		},
	}
	addJSONFlag(dsShowCmd)

	dsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List datastores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []*dto.DatastoreDTO
			if err := apiCall(http.MethodGet, datastorePath, nil, &list); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]string, 0, len(list))
			for _, ds := range list {
				rows = append(rows, []string{itoa(ds.ID), ds.Name, ds.Type, ds.DSMad, itoa(ds.LimitMB)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "DS_MAD", "LIMIT_MB"}, rows)
			return nil
		},
	}
	addJSONFlag(dsListCmd)

	dsDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return apiCall(http.MethodDelete, datastorePath+"/"+itoa(id), nil, nil)
		},
	}

	dsCmd.AddCommand(dsCreateCmd, dsShowCmd, dsListCmd, dsDeleteCmd)
	rootCmd.AddCommand(dsCmd)
}

func printImage(w io.Writer, img *dto.ImageDTO) {
	printAttrs(w, "IMAGE "+itoa(img.ID)+" INFORMATION", [][2]string{
		{"ID", itoa(img.ID)},
		{"NAME", img.Name},
		{"DATASTORE", itoa(img.DatastoreID)},
		{"TYPE", img.Type},
		{"STATE", img.State},
		{"SIZE", itoa(img.Size)},
		{"SOURCE", img.Source},
		{"VM", itoa(img.VMID)},
		{"MODE", img.Mode},
		{"FS_FREEZE", img.FsFreeze},
		{"LAST_INCREMENT_ID", strconv.Itoa(img.LastIncrementID)},
	})
	if len(img.Increments) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(img.Increments))
	for _, inc := range img.Increments {
		rows = append(rows, []string{strconv.Itoa(inc.ID), inc.Type, itoa(inc.Size), inc.Source, formatTime(inc.Date)})
	}
	fmt.Fprintln(w, "BACKUP INCREMENTS")
	printTable(w, []string{"ID", "TYPE", "SIZE", "SOURCE", "DATE"}, rows)
}
