package rbac

import "strings"

// 权限常量
const (
	// 敏感操作权限
	PermissionBroadcast       = "hub:broadcast"
	PermissionViewConnections = "hub:read"

	// 普通操作权限
	PermissionReadEmail       = "email:read"
	PermissionCategorizeEmail = "email:categorize"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadEmail,
		PermissionCategorizeEmail,
	},
	RoleAdmin: {
		PermissionReadEmail,
		PermissionCategorizeEmail,
		PermissionBroadcast,
		PermissionViewConnections,
	},
}

// Authorizer 根据邮箱解析角色
type Authorizer struct {
	admins map[string]struct{}
}

// NewAuthorizer 用配置中的 admin 邮箱列表创建 Authorizer
func NewAuthorizer(admins []string) *Authorizer {
	a := &Authorizer{admins: make(map[string]struct{}, len(admins))}
	for _, email := range admins {
		a.admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return a
}

// RoleOf 获取用户角色
func (a *Authorizer) RoleOf(email string) string {
	if _, ok := a.admins[strings.ToLower(email)]; ok {
		return RoleAdmin
	}
	return RoleUser
}

// HasPermission 检查用户是否有指定权限
func (a *Authorizer) HasPermission(email, permission string) bool {
	for _, p := range rolePermissions[a.RoleOf(email)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func (a *Authorizer) CheckPermission(email, permission string) error {
	if !a.HasPermission(email, permission) {
		return &PermissionDeniedError{Email: email, Permission: permission}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Email      string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
