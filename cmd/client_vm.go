package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

const vmPath = "/api/vms"

// parseDiskSpec parses "size[:imageId[:volatile]]"
func parseDiskSpec(s string) (dto.DiskParameter, error) {
	var d dto.DiskParameter
	parts := strings.Split(s, ":")
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || size <= 0 {
		return d, fmt.Errorf("invalid disk size in %q", s)
	}
	d.Size = size
	d.ImageID = domain.NoID
	if len(parts) > 1 && parts[1] != "" {
		if d.ImageID, err = parseID(parts[1]); err != nil {
			return d, err
		}
	}
	if len(parts) > 2 {
		d.Volatile = parts[2] == "volatile" || parts[2] == "true"
	}
	return d, nil
}

func vmActionCmd(action domain.VMAction) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " a VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return apiCall(http.MethodPost, vmPath+"/"+itoa(id)+"/action", &dto.VMActionRequest{Action: string(action)}, nil)
		},
	}
}

func init() {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Manage virtual machines // 管理虚拟机",
	}

	var disks []string
	createCmd := &cobra.Command{
		Use:   "create <name> --disk size[:imageId[:volatile]]...",
		Short: "Create a VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &dto.VMCreateRequest{Name: args[0]}
			for _, spec := range disks {
				d, err := parseDiskSpec(spec)
				if err != nil {
					return err
				}
				req.Disks = append(req.Disks, d)
			}
			var vm dto.VMDTO
			if err := apiCall(http.MethodPost, vmPath, req, &vm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", vm.ID)
			return nil
		},
	}
	createCmd.Flags().StringArrayVar(&disks, "disk", nil, "disk as size[:imageId[:volatile]], size in MB")
	_ = createCmd.MarkFlagRequired("disk")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var vm dto.VMDTO
			if err := apiCall(http.MethodGet, vmPath+"/"+itoa(id), nil, &vm); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), &vm)
			}
			printVM(cmd.OutOrStdout(), &vm)
			return nil
		},
	}
	addJSONFlag(showCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List VMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vms, err := apiList[*dto.VMDTO](vmPath)
			if err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), vms)
			}
			rows := make([][]string, 0, len(vms))
			for _, vm := range vms {
				job := "-"
				if vm.Backup.BackupJobID >= 0 {
					job = itoa(vm.Backup.BackupJobID)
				}
				rows = append(rows, []string{itoa(vm.ID), vm.Name, vm.State, job, string(vm.Backup.Mode), strconv.Itoa(len(vm.Backup.BackupIDs))})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "STATE", "BACKUP JOB", "MODE", "BACKUPS"}, rows)
			return nil
		},
	}
	addJSONFlag(listCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot-create <id> [name]",
		Short: "Create a system snapshot",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := &dto.SnapshotCreateRequest{}
			if len(args) == 2 {
				req.Name = args[1]
			}
			return apiCall(http.MethodPost, vmPath+"/"+itoa(id)+"/snapshot", req, nil)
		},
	}

	diskSnapshotCmd := &cobra.Command{
		Use:   "disk-snapshot-create <id> <disk_id> [name]",
		Short: "Create a disk snapshot",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			diskID, err := strconv.Atoi(args[1])
			if err != nil || diskID < 0 {
				return fmt.Errorf("invalid disk id %q", args[1])
			}
			req := &dto.DiskSnapshotCreateRequest{DiskID: diskID}
			if len(args) == 3 {
				req.Name = args[2]
			}
			return apiCall(http.MethodPost, vmPath+"/"+itoa(id)+"/disk-snapshot", req, nil)
		},
	}

	var (
		confMode, confFreeze string
		confKeep             int
		confVolatile         bool
	)
	updateconfCmd := &cobra.Command{
		Use:   "updateconf <id>",
		Short: "Update the backup configuration of a VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := &dto.VMBackupConfigRequest{}
			f := cmd.Flags()
			if f.Changed("mode") {
				req.Mode = &confMode
			}
			if f.Changed("fs-freeze") {
				req.FsFreeze = &confFreeze
			}
			if f.Changed("keep-last") {
				req.KeepLast = &confKeep
			}
			if f.Changed("backup-volatile") {
				req.BackupVolatile = &confVolatile
			}
			return apiCall(http.MethodPut, vmPath+"/"+itoa(id)+"/backup-config", req, nil)
		},
	}
	uf := updateconfCmd.Flags()
	uf.StringVar(&confMode, "mode", "", "FULL or INCREMENT")
	uf.StringVar(&confFreeze, "fs-freeze", "", "NONE, SUSPEND or AGENT")
	uf.IntVar(&confKeep, "keep-last", 0, "backups to keep, 0 keeps all")
	uf.BoolVar(&confVolatile, "backup-volatile", false, "include volatile disks")

	var (
		backupDS    int64
		backupReset bool
	)
	sched := &scheduleFlags{}
	backupCmd := &cobra.Command{
		Use:   "backup <id> -d <datastore_id>",
		Short: "Back up a VM now or schedule it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields, scheduled, err := sched.fields(time.Now())
			if err != nil {
				return err
			}
			if scheduled {
				fields["ARGS"] = itoa(backupDS)
				if backupReset {
					fields["ARGS"] += ",YES"
				}
				var sa dto.SchedActionDTO
				if err := apiCall(http.MethodPost, schedPath(vmPath, id, ""), &dto.SchedActionRequest{Fields: fields}, &sa); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled action %d at %s\n", sa.ID, formatTime(sa.Time))
				return nil
			}
			var out dto.VMBackupDTO
			if err := apiCall(http.MethodPost, vmPath+"/"+itoa(id)+"/backup", &dto.VMBackupRequest{DatastoreID: backupDS, Reset: backupReset}, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Image ID: %d\n", out.ImageID)
			return nil
		},
	}
	bf := backupCmd.Flags()
	bf.Int64VarP(&backupDS, "datastore", "d", 0, "backup datastore id")
	bf.BoolVar(&backupReset, "reset", false, "start a new incremental chain")
	bf.StringVar(&sched.at, "schedule", "", "schedule time: now, +seconds, epoch or \"2006-01-02 15:04\"")
	bf.StringVar(&sched.hourly, "hourly", "", "repeat every N hours")
	bf.StringVar(&sched.daily, "daily", "", "repeat every N days")
	bf.StringVar(&sched.weekly, "weekly", "", "repeat on week days (0-6)")
	bf.StringVar(&sched.monthly, "monthly", "", "repeat on month days (1-31)")
	bf.StringVar(&sched.yearly, "yearly", "", "repeat on year days (0-365)")
	bf.StringVar(&sched.end, "end", "", "end after N repetitions or on a date")
	_ = backupCmd.MarkFlagRequired("datastore")

	var restoreDisk, restoreInc int
	restoreCmd := &cobra.Command{
		Use:   "restore <id> <image_id>",
		Short: "Restore a backup onto the VM disks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			imageID, err := parseID(args[1])
			if err != nil {
				return err
			}
			req := &dto.VMRestoreRequest{ImageID: imageID}
			if cmd.Flags().Changed("disk-id") {
				req.DiskID = &restoreDisk
			}
			if cmd.Flags().Changed("increment-id") {
				req.IncrementID = &restoreInc
			}
			return apiCall(http.MethodPost, vmPath+"/"+itoa(id)+"/restore", req, nil)
		},
	}
	restoreCmd.Flags().IntVar(&restoreDisk, "disk-id", -1, "restore only this disk")
	restoreCmd.Flags().IntVar(&restoreInc, "increment-id", -1, "restore up to this increment")

	schedAddCmd := &cobra.Command{
		Use:   "sched-add <id> <file>",
		Short: "Add a scheduled action from a KEY = VALUE file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			text, err := readTemplate(args[1])
			if err != nil {
				return err
			}
			fields, err := parseFields(text)
			if err != nil {
				return err
			}
			var sa dto.SchedActionDTO
			if err := apiCall(http.MethodPost, schedPath(vmPath, id, ""), &dto.SchedActionRequest{Fields: fields}, &sa); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", sa.ID)
			return nil
		},
	}
	schedUpdateCmd := &cobra.Command{
		Use:   "sched-update <id> <sched_id> <file>",
		Short: "Update a scheduled action",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return schedUpdate(vmPath, args)
		},
	}
	schedDeleteCmd := &cobra.Command{
		Use:   "sched-delete <id> <sched_id>",
		Short: "Delete a scheduled action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return schedDelete(vmPath, args)
		},
	}

	vmCmd.AddCommand(createCmd, showCmd, listCmd,
		vmActionCmd(domain.VMActionDeploy), vmActionCmd(domain.VMActionPoweroff),
		vmActionCmd(domain.VMActionSuspend), vmActionCmd(domain.VMActionResume),
		vmActionCmd(domain.VMActionUndeploy), vmActionCmd(domain.VMActionTerminate),
		snapshotCmd, diskSnapshotCmd, updateconfCmd, backupCmd, restoreCmd,
		schedAddCmd, schedUpdateCmd, schedDeleteCmd)
	rootCmd.AddCommand(vmCmd)
}

func printVM(w io.Writer, vm *dto.VMDTO) {
	printAttrs(w, "VIRTUAL MACHINE "+itoa(vm.ID)+" INFORMATION", [][2]string{
		{"ID", itoa(vm.ID)},
		{"NAME", vm.Name},
		{"STATE", vm.State},
		{"PERMISSIONS", vm.Permissions},
		{"START TIME", formatTime(vm.STime)},
		{"ERROR", vm.ErrorMessage},
	})
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(vm.Disks))
	for _, d := range vm.Disks {
		rows = append(rows, []string{strconv.Itoa(d.ID), itoa(d.ImageID), itoa(d.Size), strconv.FormatBool(d.Volatile)})
	}
	fmt.Fprintln(w, "DISKS")
	printTable(w, []string{"ID", "IMAGE", "SIZE", "VOLATILE"}, rows)
	fmt.Fprintln(w)

	cfg := vm.Backup
	printAttrs(w, "BACKUP CONFIGURATION", [][2]string{
		{"BACKUP_JOB_ID", itoa(cfg.BackupJobID)},
		{"MODE", string(cfg.Mode)},
		{"KEEP_LAST", strconv.Itoa(cfg.KeepLast)},
		{"FS_FREEZE", string(cfg.FsFreeze)},
		{"BACKUP_VOLATILE", domain.YesNo(cfg.BackupVolatile)},
		{"LAST_INCREMENT_ID", strconv.Itoa(cfg.LastIncrementID)},
		{"INCREMENTAL_BACKUP_ID", itoa(cfg.IncrementalBackupID)},
		{"BACKUP_IDS", joinIDs(cfg.BackupIDs)},
	})
	if len(vm.SchedActions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SCHEDULED ACTIONS")
		printSchedActions(w, vm.SchedActions)
	}
}
