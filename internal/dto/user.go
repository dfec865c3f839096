package dto

// UserLoginRequest User login request parameters
// 用户登录请求参数
type UserLoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"` // User name // 用户名
	Password string `json:"password" form:"password" binding:"required"` // Password // 密码
}

// UserCreateRequest 创建用户请求参数
type UserCreateRequest struct {
	Username string `json:"username" form:"username" binding:"required,min=1,max=128"`
	Password string `json:"password" form:"password" binding:"required,min=4"`
	GID      *int64 `json:"gid" form:"gid"` // Primary group, defaults to users // 主组，默认 users
}

// UserChgrpRequest 修改用户主组请求参数
type UserChgrpRequest struct {
	GID int64 `json:"gid" form:"gid" binding:"gte=0"`
}

// GroupCreateRequest 创建组请求参数
type GroupCreateRequest struct {
	Name  string `json:"name" form:"name" binding:"required"`
	Admin bool   `json:"admin" form:"admin"`
}

// QuotaSetRequest sets per datastore limits, negative values mean unlimited
// QuotaSetRequest 设置数据存储配额，负数表示不限制
type QuotaSetRequest struct {
	DatastoreID int64 `json:"datastoreId" form:"datastoreId" binding:"gte=0"`
	ImagesLimit int64 `json:"imagesLimit" form:"imagesLimit"`
	SizeLimit   int64 `json:"sizeLimit" form:"sizeLimit"`
}

// ---------------- DTO / Response ----------------

// UserDTO User data transfer object
// UserDTO 用户数据传输对象
type UserDTO struct {
	ID     int64   `json:"id"`     // User ID // 用户 ID
	Name   string  `json:"name"`   // User name // 用户名
	GID    int64   `json:"gid"`    // Primary group // 主组
	Groups []int64 `json:"groups"` // All groups // 全部组
}

// LoginDTO 登录结果
type LoginDTO struct {
	Token string   `json:"token"`
	User  *UserDTO `json:"user"`
}

// GroupDTO 组数据传输对象
type GroupDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// QuotaDTO 配额数据传输对象
type QuotaDTO struct {
	UID         int64 `json:"uid"`
	DatastoreID int64 `json:"datastoreId"`
	ImagesLimit int64 `json:"imagesLimit"`
	SizeLimit   int64 `json:"sizeLimit"`
	ImagesUsed  int64 `json:"imagesUsed"`
	SizeUsed    int64 `json:"sizeUsed"`
}

// VersionDTO version information for API response
// VersionDTO 版本信息 API 响应对象
type VersionDTO struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitTag    string `json:"gitTag"`
	BuildTime string `json:"buildTime"`
}
