package cmd

import (
	"io"
	"net/http"
	"strconv"

	"github.com/haierkeys/vm-backup-service/internal/domain"
	"github.com/haierkeys/vm-backup-service/internal/dto"
)

// 虚拟机与备份任务共用的计划任务子命令

func schedPath(base string, parentID int64, schedID string) string {
	p := base + "/" + itoa(parentID) + "/sched"
	if schedID != "" {
		p += "/" + schedID
	}
	return p
}

// schedUpdate <id> <sched_id> <file>
func schedUpdate(base string, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	sid, err := strconv.Atoi(args[1])
	if err != nil || sid < 0 {
		return &APIError{Message: "invalid scheduled action id " + args[1]}
	}
	text, err := readTemplate(args[2])
	if err != nil {
		return err
	}
	fields, err := parseFields(text)
	if err != nil {
		return err
	}
	return apiCall(http.MethodPut, schedPath(base, id, strconv.Itoa(sid)), &dto.SchedActionRequest{Fields: fields}, nil)
}

// schedDelete <id> <sched_id>
func schedDelete(base string, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(args[1]); err != nil {
		return &APIError{Message: "invalid scheduled action id " + args[1]}
	}
	return apiCall(http.MethodDelete, schedPath(base, id, args[1]), nil, nil)
}

func printSchedActions(w io.Writer, list []*dto.SchedActionDTO) {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		done := "-"
		if s.Done >= 0 {
			done = formatTime(s.Done)
		}
		end := "-"
		switch domain.EndType(s.EndType) {
		case domain.EndReps:
			end = strconv.FormatInt(s.EndValue, 10) + " times"
		case domain.EndDate:
			end = formatTime(s.EndValue)
		}
		rows = append(rows, []string{
			strconv.Itoa(s.ID), s.Action, s.Args, formatTime(s.Time),
			domain.RepeatKind(s.Repeat).String(), s.Days, end, done,
		})
	}
	printTable(w, []string{"ID", "ACTION", "ARGS", "SCHEDULED", "REPEAT", "DAYS", "END", "DONE"}, rows)
}
