package dto

import (
	"github.com/haierkeys/vm-backup-service/internal/domain"

	"github.com/jinzhu/copier"
)

// NewBackupJobDTO 将备份任务转换为响应对象
func NewBackupJobDTO(job *domain.BackupJob) *BackupJobDTO {
	out := &BackupJobDTO{
		ID:             job.ID,
		Name:           job.Name,
		UID:            job.UID,
		GID:            job.GID,
		UName:          job.UName,
		GName:          job.GName,
		Priority:       job.Priority,
		Lock:           job.Lock.String(),
		LockTime:       job.LockTime,
		Permissions:    job.Permissions.Octal(),
		BackupVMs:      domain.JoinIDs(job.BackupVMs),
		DatastoreID:    job.Config.DatastoreID,
		FsFreeze:       string(job.Config.FsFreeze),
		KeepLast:       job.Config.KeepLast,
		Mode:           string(job.Config.Mode),
		BackupVolatile: domain.YesNo(job.Config.BackupVolatile),
		Execution:      string(job.Config.Execution),
		Error:          job.Error,
		Attributes:     job.Attributes,
		UpdatedVMs:     nonNil(job.Buckets.Updated),
		OutdatedVMs:    nonNil(job.Buckets.Outdated),
		BackingUpVMs:   nonNil(job.Buckets.BackingUp),
		ErrorVMs:       nonNil(job.Buckets.Errored),
		LastBackupTime: job.LastBackupTime,
		LastDuration:   job.LastBackupDuration,
	}
	out.SchedActions = NewSchedActionDTOs(job.SchedActions)
	return out
}

// NewBackupJobDTOs 批量转换备份任务
func NewBackupJobDTOs(jobs []*domain.BackupJob) []*BackupJobDTO {
	out := make([]*BackupJobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewBackupJobDTO(j))
	}
	return out
}

// NewSchedActionDTO 转换计划任务
func NewSchedActionDTO(s *domain.SchedAction) *SchedActionDTO {
	return &SchedActionDTO{
		ID:         s.ID,
		ParentID:   s.ParentID,
		ParentType: string(s.ParentType),
		Action:     s.Action,
		Args:       s.Args,
		Time:       s.Time,
		Done:       s.Done,
		Repeat:     int(s.Repeat),
		Days:       s.Days,
		EndType:    int(s.EndType),
		EndValue:   s.EndValue,
		Warning:    s.Warning,
	}
}

// NewSchedActionDTOs 批量转换计划任务
func NewSchedActionDTOs(list []*domain.SchedAction) []*SchedActionDTO {
	if len(list) == 0 {
		return nil
	}
	out := make([]*SchedActionDTO, 0, len(list))
	for _, s := range list {
		out = append(out, NewSchedActionDTO(s))
	}
	return out
}

// NewVMDTO 转换虚拟机，计划任务由调用方单独填充
func NewVMDTO(vm *domain.VM) *VMDTO {
	out := &VMDTO{}
	_ = copier.Copy(out, vm)
	out.State = string(vm.State)
	out.Permissions = vm.Permissions.Octal()
	out.Disks = nonNilSlice(vm.Disks)
	out.Snapshots = nonNilSlice(vm.Snapshots)
	out.DiskSnapshots = nonNilSlice(vm.DiskSnapshots)
	out.Backup = vm.Backup
	out.Backup.BackupIDs = nonNil(vm.Backup.BackupIDs)
	return out
}

// NewVMDTOs 批量转换虚拟机
func NewVMDTOs(vms []*domain.VM) []*VMDTO {
	out := make([]*VMDTO, 0, len(vms))
	for _, vm := range vms {
		out = append(out, NewVMDTO(vm))
	}
	return out
}

// NewImageDTO 转换镜像
func NewImageDTO(img *domain.Image) *ImageDTO {
	out := &ImageDTO{}
	_ = copier.Copy(out, img)
	out.Type = string(img.Type)
	out.State = string(img.State)
	out.Mode = string(img.Mode)
	out.FsFreeze = string(img.FsFreeze)
	out.BackupDiskIDs = nonNilSlice(img.BackupDiskIDs)
	out.Increments = nonNilSlice(img.Increments)
	out.LastIncrementID = img.LastIncrementID()
	return out
}

// NewImageDTOs 批量转换镜像
func NewImageDTOs(images []*domain.Image) []*ImageDTO {
	out := make([]*ImageDTO, 0, len(images))
	for _, img := range images {
		out = append(out, NewImageDTO(img))
	}
	return out
}

// NewDatastoreDTO 转换数据存储，驱动凭据不会输出
func NewDatastoreDTO(ds *domain.Datastore) *DatastoreDTO {
	out := &DatastoreDTO{}
	_ = copier.Copy(out, ds)
	out.Type = string(ds.Type)
	out.Attributes = make(map[string]string, len(ds.Attributes))
	for k, v := range ds.Attributes {
		if isSecretAttribute(k) {
			continue
		}
		out.Attributes[k] = v
	}
	return out
}

// NewDatastoreDTOs 批量转换数据存储
func NewDatastoreDTOs(list []*domain.Datastore) []*DatastoreDTO {
	out := make([]*DatastoreDTO, 0, len(list))
	for _, ds := range list {
		out = append(out, NewDatastoreDTO(ds))
	}
	return out
}

// NewUserDTO 转换用户，不包含密码
func NewUserDTO(u *domain.User) *UserDTO {
	out := &UserDTO{}
	_ = copier.Copy(out, u)
	out.Groups = nonNil(u.Groups)
	return out
}

// NewUserDTOs 批量转换用户
func NewUserDTOs(users []*domain.User) []*UserDTO {
	out := make([]*UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, NewUserDTO(u))
	}
	return out
}

// NewGroupDTOs 批量转换组
func NewGroupDTOs(groups []*domain.Group) []*GroupDTO {
	out := make([]*GroupDTO, 0, len(groups))
	for _, g := range groups {
		dto := &GroupDTO{}
		_ = copier.Copy(dto, g)
		out = append(out, dto)
	}
	return out
}

// NewQuotaDTOs 批量转换配额
func NewQuotaDTOs(list []*domain.Quota) []*QuotaDTO {
	out := make([]*QuotaDTO, 0, len(list))
	for _, q := range list {
		dto := &QuotaDTO{}
		_ = copier.Copy(dto, q)
		out = append(out, dto)
	}
	return out
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilSlice[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
