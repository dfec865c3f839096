package logger

// 统一的日志字段命名常量
// 用于确保整个项目中日志字段命名的一致性，便于日志查询和分析
const (
	// FieldTraceID 追踪 ID 字段
	FieldTraceID = "traceId"

	// FieldUID 用户 ID 字段
	FieldUID = "uid"

	// FieldAction 操作类型字段
	FieldAction = "action"

	// FieldMethod 方法名称字段
	FieldMethod = "method"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldError 错误信息字段
	FieldError = "error"

	// FieldSize 大小字段（MB）
	FieldSize = "size"

	// FieldJobID 备份任务 ID 字段
	FieldJobID = "jobId"

	// FieldVMID 虚拟机 ID 字段
	FieldVMID = "vmId"

	// FieldImageID 镜像 ID 字段
	FieldImageID = "imageId"

	// FieldDatastoreID 数据存储 ID 字段
	FieldDatastoreID = "datastoreId"

	// FieldSchedID 计划任务 ID 字段
	FieldSchedID = "schedId"

	// FieldMode 备份模式字段
	FieldMode = "mode"

	// FieldPriority 优先级字段
	FieldPriority = "priority"

	// FieldDriver 驱动名称字段
	FieldDriver = "driver"

	// FieldBucket 存储桶名称字段
	FieldBucket = "bucket"

	// FieldFileKey 对象键字段
	FieldFileKey = "fileKey"
)
