package model

import (
	"time"
)

// Role 用户角色
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserAccount 管理配置中的用户条目
// 站长不存储在这里，由环境变量识别
type UserAccount struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Banned   bool   `json:"banned,omitempty"`
}

// UserConfig 用户相关的管理配置
type UserConfig struct {
	AllowRegister bool          `json:"allow_register"`
	Users         []UserAccount `json:"users"`
}

// AdminConfig 管理配置文档，Version 用于乐观并发控制
type AdminConfig struct {
	Version    int64      `json:"version"`
	UserConfig UserConfig `json:"user_config"`
}

// FindUser 查找用户条目，不存在返回 nil
func (c *AdminConfig) FindUser(username string) *UserAccount {
	for i := range c.UserConfig.Users {
		if c.UserConfig.Users[i].Username == username {
			return &c.UserConfig.Users[i]
		}
	}
	return nil
}

// RemoveUser 从配置中移除用户条目
func (c *AdminConfig) RemoveUser(username string) {
	users := c.UserConfig.Users[:0]
	for _, u := range c.UserConfig.Users {
		if u.Username != username {
			users = append(users, u)
		}
	}
	c.UserConfig.Users = users
}

// Clone 深拷贝，避免读改写时共享底层切片
func (c *AdminConfig) Clone() *AdminConfig {
	out := *c
	out.UserConfig.Users = append([]UserAccount(nil), c.UserConfig.Users...)
	return &out
}

// User 已注册的账户凭据
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionUser 专门用于 Session 存储的用户信息结构
type SessionUser struct {
	Username string
	Role     string
}
