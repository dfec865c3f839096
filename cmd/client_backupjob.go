package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/haierkeys/vm-backup-service/internal/dto"

	"github.com/spf13/cobra"
)

const backupJobPath = "/api/backupjobs"

func jobPath(id int64, verb string) string {
	p := backupJobPath + "/" + itoa(id)
	if verb != "" {
		p += "/" + verb
	}
	return p
}

// jobVerb builds "<verb> <id> ..." commands that send one request and print nothing on success
func jobVerb(use, short string, nargs int, method, verb string, body func(args []string) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var payload interface{}
			if body != nil {
				if payload, err = body(args); err != nil {
					return err
				}
			}
			return apiCall(method, jobPath(id, verb), payload, nil)
		},
	}
}

func init() {
	jobCmd := &cobra.Command{
		Use:     "backupjob",
		Aliases: []string{"bj"},
		Short:   "Manage backup jobs // 管理备份任务",
	}

	createCmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a backup job from a template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := readTemplate(args[0])
			if err != nil {
				return err
			}
			var job dto.BackupJobDTO
			if err := apiCall(http.MethodPost, backupJobPath, &dto.BackupJobTemplateRequest{Template: tmpl}, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %d\n", job.ID)
			return nil
		},
	}

	var appendMode bool
	updateCmd := &cobra.Command{
		Use:   "update <id> <file>",
		Short: "Replace (or merge with --append) the job template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tmpl, err := readTemplate(args[1])
			if err != nil {
				return err
			}
			return apiCall(http.MethodPut, jobPath(id, ""), &dto.BackupJobUpdateRequest{Template: tmpl, Append: appendMode}, nil)
		},
	}
	updateCmd.Flags().BoolVarP(&appendMode, "append", "a", false, "merge into the current template")

	deleteCmd := jobVerb("delete <id>", "Delete a backup job", 1, http.MethodDelete, "", nil)
	unlockCmd := jobVerb("unlock <id>", "Unlock a backup job", 1, http.MethodPut, "unlock", nil)
	retryCmd := jobVerb("retry <id>", "Back up the VMs that failed in the last run", 1, http.MethodPost, "retry", nil)
	cancelCmd := jobVerb("cancel <id>", "Cancel the running backups of a job", 1, http.MethodPost, "cancel", nil)

	renameCmd := jobVerb("rename <id> <name>", "Rename a backup job", 2, http.MethodPut, "rename",
		func(args []string) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("name is required")
			}
			return &dto.BackupJobRenameRequest{Name: args[1]}, nil
		})

	chownCmd := jobVerb("chown <id> <uid> [gid]", "Change owner (and group) of a backup job", 3, http.MethodPut, "chown",
		func(args []string) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("uid is required")
			}
			uid, err := parseID(args[1])
			if err != nil {
				return nil, err
			}
			req := &dto.BackupJobChownRequest{UID: uid}
			if len(args) == 3 {
				gid, err := parseID(args[2])
				if err != nil {
					return nil, err
				}
				req.GID = &gid
			}
			return req, nil
		})

	chgrpCmd := jobVerb("chgrp <id> <gid>", "Change group of a backup job", 2, http.MethodPut, "chgrp",
		func(args []string) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("gid is required")
			}
			gid, err := parseID(args[1])
			if err != nil {
				return nil, err
			}
			return &dto.BackupJobChgrpRequest{GID: gid}, nil
		})

	chmodCmd := jobVerb("chmod <id> <octal>", "Change permissions of a backup job", 2, http.MethodPut, "chmod",
		func(args []string) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("octal permissions are required")
			}
			return &dto.BackupJobChmodRequest{Octal: args[1]}, nil
		})

	var lockUse, lockManage, lockAdmin, lockAll bool
	lockCmd := jobVerb("lock <id>", "Lock a backup job", 1, http.MethodPut, "lock",
		func(args []string) (interface{}, error) {
			level := "USE"
			switch {
			case lockAll:
				level = "ALL"
			case lockAdmin:
				level = "ADMIN"
			case lockManage:
				level = "MANAGE"
			case lockUse:
				level = "USE"
			}
			return &dto.BackupJobLockRequest{Level: level}, nil
		})
	lf := lockCmd.Flags()
	lf.BoolVar(&lockUse, "use", false, "lock use, manage and admin operations (default)")
	lf.BoolVar(&lockManage, "manage", false, "lock manage and admin operations")
	lf.BoolVar(&lockAdmin, "admin", false, "lock admin operations")
	lf.BoolVar(&lockAll, "all", false, "lock every operation")
	lockCmd.MarkFlagsMutuallyExclusive("use", "manage", "admin", "all")

	priorityCmd := jobVerb("priority <id> <value>", "Set the priority of a backup job", 2, http.MethodPut, "priority",
		func(args []string) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("priority is required")
			}
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("invalid priority %q", args[1])
			}
			return &dto.BackupJobPriorityRequest{Priority: p}, nil
		})

	sched := &scheduleFlags{}
	backupCmd := &cobra.Command{
		Use:   "backup <id[,id...]>",
		Short: "Run backup jobs now or schedule them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDList(args[0])
			if err != nil {
				return err
			}
			fields, scheduled, err := sched.fields(time.Now())
			if err != nil {
				return err
			}
			if scheduled {
				for _, id := range ids {
					var sa dto.SchedActionDTO
					if err := apiCall(http.MethodPost, jobPath(id, "sched"), &dto.SchedActionRequest{Fields: fields}, &sa); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "job %d: scheduled action %d at %s\n", id, sa.ID, formatTime(sa.Time))
				}
				return nil
			}
			if len(ids) == 1 {
				return apiCall(http.MethodPost, jobPath(ids[0], "backup"), nil, nil)
			}
			return apiCall(http.MethodPost, backupJobPath+"/backup", &dto.BackupJobRunRequest{IDs: ids}, nil)
		},
	}
	bf := backupCmd.Flags()
	bf.StringVar(&sched.at, "schedule", "", "schedule time: now, +seconds, epoch or \"2006-01-02 15:04\"")
	bf.StringVar(&sched.hourly, "hourly", "", "repeat every N hours")
	bf.StringVar(&sched.daily, "daily", "", "repeat every N days")
	bf.StringVar(&sched.weekly, "weekly", "", "repeat on week days (0-6)")
	bf.StringVar(&sched.monthly, "monthly", "", "repeat on month days (1-31)")
	bf.StringVar(&sched.yearly, "yearly", "", "repeat on year days (0-365)")
	bf.StringVar(&sched.end, "end", "", "end after N repetitions or on a date")

	schedUpdateCmd := &cobra.Command{
		Use:   "sched-update <id> <sched_id> <file>",
		Short: "Update a scheduled action from a KEY = VALUE file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return schedUpdate(backupJobPath, args)
		},
	}
	schedDeleteCmd := &cobra.Command{
		Use:   "sched-delete <id> <sched_id>",
		Short: "Delete a scheduled action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return schedDelete(backupJobPath, args)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a backup job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var job dto.BackupJobDTO
			if err := apiCall(http.MethodGet, jobPath(id, ""), nil, &job); err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), &job)
			}
			printBackupJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}
	addJSONFlag(showCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backup jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := apiList[*dto.BackupJobDTO](backupJobPath)
			if err != nil {
				return err
			}
			if clientEnv.json {
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					itoa(j.ID), j.UName, j.GName, j.Name, strconv.Itoa(j.Priority),
					formatTime(j.LastBackupTime), strconv.FormatInt(j.LastDuration, 10) + "s",
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "USER", "GROUP", "NAME", "PRIO", "LAST", "DURATION"}, rows)
			return nil
		},
	}
	addJSONFlag(listCmd)

	jobCmd.AddCommand(createCmd, updateCmd, deleteCmd, renameCmd, chownCmd, chgrpCmd, chmodCmd,
		lockCmd, unlockCmd, priorityCmd, backupCmd, retryCmd, cancelCmd,
		schedUpdateCmd, schedDeleteCmd, showCmd, listCmd)
	rootCmd.AddCommand(jobCmd)
}

func printBackupJob(w io.Writer, j *dto.BackupJobDTO) {
	printAttrs(w, "BACKUP JOB "+itoa(j.ID)+" INFORMATION", [][2]string{
		{"ID", itoa(j.ID)},
		{"NAME", j.Name},
		{"USER", j.UName},
		{"GROUP", j.GName},
		{"LOCK", j.Lock},
		{"PERMISSIONS", j.Permissions},
		{"PRIORITY", strconv.Itoa(j.Priority)},
		{"LAST BACKUP TIME", formatTime(j.LastBackupTime)},
		{"LAST BACKUP DURATION", strconv.FormatInt(j.LastDuration, 10) + "s"},
	})
	fmt.Fprintln(w)
	printAttrs(w, "TEMPLATE CONTENTS", [][2]string{
		{"BACKUP_VMS", j.BackupVMs},
		{"DATASTORE_ID", itoa(j.DatastoreID)},
		{"FS_FREEZE", j.FsFreeze},
		{"KEEP_LAST", strconv.Itoa(j.KeepLast)},
		{"MODE", j.Mode},
		{"BACKUP_VOLATILE", j.BackupVolatile},
		{"EXECUTION", j.Execution},
		{"ERROR", j.Error},
	})
	fmt.Fprintln(w)
	printAttrs(w, "VIRTUAL MACHINES", [][2]string{
		{"UPDATED", joinIDs(j.UpdatedVMs)},
		{"OUTDATED", joinIDs(j.OutdatedVMs)},
		{"BACKING UP", joinIDs(j.BackingUpVMs)},
		{"ERROR", joinIDs(j.ErrorVMs)},
	})
	if len(j.SchedActions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SCHEDULED ACTIONS")
		printSchedActions(w, j.SchedActions)
	}
}
