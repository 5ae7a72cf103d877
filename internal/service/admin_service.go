package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
	"golang.org/x/sync/errgroup"
)

// 管理操作
const (
	ActionAdd              = "add"
	ActionBan              = "ban"
	ActionUnban            = "unban"
	ActionSetAdmin         = "setAdmin"
	ActionCancelAdmin      = "cancelAdmin"
	ActionSetAllowRegister = "setAllowRegister"
	ActionChangePassword   = "changePassword"
	ActionDeleteUser       = "deleteUser"
)

var adminActions = map[string]bool{
	ActionAdd: true, ActionBan: true, ActionUnban: true, ActionSetAdmin: true,
	ActionCancelAdmin: true, ActionSetAllowRegister: true, ActionChangePassword: true, ActionDeleteUser: true,
}

// IsAdminAction 是否为已知的用户管理操作
func IsAdminAction(action string) bool {
	return adminActions[action]
}

// 管理配置读改写的最大尝试次数
const maxCASAttempts = 3

// ActionError 带 HTTP 状态码的业务错误
type ActionError struct {
	Status  int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func actionErr(status int, message string) *ActionError {
	return &ActionError{Status: status, Message: message}
}

// AdminActionRequest 管理操作请求
type AdminActionRequest struct {
	Action         string `json:"action"`
	TargetUsername string `json:"targetUsername"`
	TargetPassword string `json:"targetPassword"`
	AllowRegister  *bool  `json:"allowRegister"`
}

// UserOverview 管理后台用户列表条目
type UserOverview struct {
	Username           string     `json:"username"`
	Role               model.Role `json:"role"`
	Banned             bool       `json:"banned"`
	FilterAdultContent bool       `json:"filter_adult_content"`
	CanDisableFilter   bool       `json:"can_disable_filter"`
	ManagedByAdmin     bool       `json:"managed_by_admin"`
	LastFilterChange   string     `json:"last_filter_change,omitempty"`
}

// AdminService 用户生命周期管理，所有变更都是对管理配置的 CAS 读改写
type AdminService struct {
	store                repository.Storage
	owner                string
	defaultAllowRegister bool
}

func NewAdminService(store repository.Storage, ownerUsername string, defaultAllowRegister bool) *AdminService {
	return &AdminService{
		store:                store,
		owner:                ownerUsername,
		defaultAllowRegister: defaultAllowRegister,
	}
}

// IsOwner 站长由环境变量 USERNAME 识别
func (s *AdminService) IsOwner(username string) bool {
	return s.owner != "" && username == s.owner
}

// LoadConfig 读取管理配置；首次使用时以已注册用户初始化（尚未持久化，Version=0）
func (s *AdminService) LoadConfig(ctx context.Context) (*model.AdminConfig, error) {
	cfg, err := s.store.GetAdminConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取管理配置失败: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}

	cfg = &model.AdminConfig{UserConfig: model.UserConfig{
		AllowRegister: s.defaultAllowRegister,
		Users:         []model.UserAccount{},
	}}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取用户列表失败: %w", err)
	}
	for _, u := range users {
		if !s.IsOwner(u) {
			cfg.UserConfig.Users = append(cfg.UserConfig.Users, model.UserAccount{Username: u, Role: model.RoleUser})
		}
	}
	return cfg, nil
}

// UserEntry 查询用户在管理配置中的条目
func (s *AdminService) UserEntry(ctx context.Context, username string) (*model.UserAccount, error) {
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if entry := cfg.FindUser(username); entry != nil {
		out := *entry
		return &out, nil
	}
	return nil, nil
}

// RoleOf 返回用户角色，站长优先
func (s *AdminService) RoleOf(ctx context.Context, username string) (model.Role, error) {
	if s.IsOwner(username) {
		return model.RoleOwner, nil
	}
	entry, err := s.UserEntry(ctx, username)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return model.RoleUser, nil
	}
	return entry.Role, nil
}

type adminStep struct {
	register       bool
	changed        bool
	changePassword bool
	deleteUser     bool
}

// Apply 执行管理操作；遇到并发修改时基于最新配置重新判定，最多 maxCASAttempts 次
func (s *AdminService) Apply(ctx context.Context, operator string, req AdminActionRequest) error {
	if !adminActions[req.Action] {
		return actionErr(http.StatusBadRequest, "参数格式错误")
	}
	if req.Action != ActionSetAllowRegister && req.TargetUsername == "" {
		return actionErr(http.StatusBadRequest, "缺少目标用户名")
	}
	if req.Action != ActionSetAllowRegister && req.Action != ActionChangePassword &&
		req.Action != ActionDeleteUser && operator == req.TargetUsername {
		return actionErr(http.StatusBadRequest, "无法对自己进行此操作")
	}

	registered, deleted := false, false
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cfg, err := s.LoadConfig(ctx)
		if err != nil {
			s.rollback(ctx, req, registered)
			return err
		}

		step, aerr := s.decide(cfg, operator, req, registered)
		if aerr != nil && req.Action == ActionDeleteUser && aerr.Status == http.StatusNotFound {
			// 配置条目已不存在：凭据已在本次删除，或上次删除只完成了一半
			return s.cleanupOrphan(ctx, req.TargetUsername, deleted, aerr)
		}
		if aerr != nil {
			s.rollback(ctx, req, registered)
			return aerr
		}

		// 先删凭据再移除配置条目，失败时用户仍可在后台重试删除
		if step.deleteUser && !deleted {
			if err := s.store.DeleteUser(ctx, req.TargetUsername); err != nil {
				return fmt.Errorf("删除用户数据失败: %w", err)
			}
			deleted = true
		}

		if step.register && !registered {
			if err := s.store.RegisterUser(ctx, req.TargetUsername, req.TargetPassword); err != nil {
				if errors.Is(err, repository.ErrUserExists) {
					return actionErr(http.StatusBadRequest, "用户已存在")
				}
				return fmt.Errorf("注册用户失败: %w", err)
			}
			registered = true
		}

		if step.changed {
			err := s.store.SaveAdminConfig(ctx, cfg)
			if errors.Is(err, repository.ErrVersionConflict) {
				log.Infof("[AdminService] 管理配置版本冲突，重试 %s (%d/%d)", req.Action, attempt+1, maxCASAttempts)
				continue
			}
			if err != nil {
				s.rollback(ctx, req, registered)
				return fmt.Errorf("保存管理配置失败: %w", err)
			}
		}

		if step.changePassword {
			if err := s.store.ChangePassword(ctx, req.TargetUsername, req.TargetPassword); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return actionErr(http.StatusNotFound, "目标用户不存在")
				}
				return fmt.Errorf("修改密码失败: %w", err)
			}
		}

		log.Infof("[AdminService] %s 执行 %s %s 成功", operator, req.Action, req.TargetUsername)
		return nil
	}

	s.rollback(ctx, req, registered)
	return actionErr(http.StatusConflict, "配置已被其他操作修改，请重试")
}

// cleanupOrphan 处理 deleteUser 找不到配置条目的情况：残留凭据直接删除，否则返回原错误
func (s *AdminService) cleanupOrphan(ctx context.Context, username string, deleted bool, notFound *ActionError) error {
	if deleted {
		return nil
	}
	exists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if !exists {
		return notFound
	}
	if err := s.store.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("删除用户数据失败: %w", err)
	}
	log.Warnf("[AdminService] 已清理没有配置条目的残留用户 %s", username)
	return nil
}

// rollback 撤销本次操作中已创建的凭据
func (s *AdminService) rollback(ctx context.Context, req AdminActionRequest, registered bool) {
	if !registered {
		return
	}
	if err := s.store.DeleteUser(ctx, req.TargetUsername); err != nil {
		log.WithError(err).Errorf("[AdminService] 回滚新建用户 %s 失败", req.TargetUsername)
	}
}

func (s *AdminService) operatorRole(cfg *model.AdminConfig, operator string) (model.Role, *ActionError) {
	if s.IsOwner(operator) {
		return model.RoleOwner, nil
	}
	entry := cfg.FindUser(operator)
	if entry == nil || entry.Role != model.RoleAdmin || entry.Banned {
		return "", actionErr(http.StatusUnauthorized, "权限不足")
	}
	return model.RoleAdmin, nil
}

// decide 在 cfg 上应用操作（原地修改），返回需要执行的存储副作用
func (s *AdminService) decide(cfg *model.AdminConfig, operator string, req AdminActionRequest, registered bool) (adminStep, *ActionError) {
	role, aerr := s.operatorRole(cfg, operator)
	if aerr != nil {
		return adminStep{}, aerr
	}
	isOwnerOp := role == model.RoleOwner

	target := req.TargetUsername
	if req.Action != ActionSetAllowRegister && s.IsOwner(target) {
		if req.Action == ActionChangePassword {
			return adminStep{}, actionErr(http.StatusUnauthorized, "无法修改站长密码")
		}
		return adminStep{}, actionErr(http.StatusBadRequest, "无法操作站长")
	}

	entry := cfg.FindUser(target)
	isTargetAdmin := entry != nil && entry.Role == model.RoleAdmin

	switch req.Action {
	case ActionSetAllowRegister:
		if req.AllowRegister == nil {
			return adminStep{}, actionErr(http.StatusBadRequest, "参数格式错误")
		}
		cfg.UserConfig.AllowRegister = *req.AllowRegister
		return adminStep{changed: true}, nil

	case ActionAdd:
		if entry != nil && !registered {
			return adminStep{}, actionErr(http.StatusBadRequest, "用户已存在")
		}
		if req.TargetPassword == "" {
			return adminStep{}, actionErr(http.StatusBadRequest, "缺少目标用户密码")
		}
		if entry == nil {
			cfg.UserConfig.Users = append(cfg.UserConfig.Users, model.UserAccount{Username: target, Role: model.RoleUser})
		}
		return adminStep{register: true, changed: true}, nil

	case ActionBan, ActionUnban:
		if entry == nil {
			return adminStep{}, actionErr(http.StatusNotFound, "目标用户不存在")
		}
		if isTargetAdmin && !isOwnerOp {
			if req.Action == ActionBan {
				return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可封禁管理员")
			}
			return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可操作管理员")
		}
		entry.Banned = req.Action == ActionBan
		return adminStep{changed: true}, nil

	case ActionSetAdmin:
		if entry == nil {
			return adminStep{}, actionErr(http.StatusNotFound, "目标用户不存在")
		}
		if entry.Role == model.RoleAdmin {
			return adminStep{}, actionErr(http.StatusBadRequest, "该用户已是管理员")
		}
		if !isOwnerOp {
			return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可设置管理员")
		}
		entry.Role = model.RoleAdmin
		return adminStep{changed: true}, nil

	case ActionCancelAdmin:
		if entry == nil {
			return adminStep{}, actionErr(http.StatusNotFound, "目标用户不存在")
		}
		if entry.Role != model.RoleAdmin {
			return adminStep{}, actionErr(http.StatusBadRequest, "目标用户不是管理员")
		}
		if !isOwnerOp {
			return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可取消管理员")
		}
		entry.Role = model.RoleUser
		return adminStep{changed: true}, nil

	case ActionChangePassword:
		if entry == nil {
			return adminStep{}, actionErr(http.StatusNotFound, "目标用户不存在")
		}
		if req.TargetPassword == "" {
			return adminStep{}, actionErr(http.StatusBadRequest, "缺少新密码")
		}
		if isTargetAdmin && !isOwnerOp && operator != target {
			return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可修改其他管理员密码")
		}
		return adminStep{changePassword: true}, nil

	case ActionDeleteUser:
		if entry == nil {
			return adminStep{}, actionErr(http.StatusNotFound, "目标用户不存在")
		}
		if operator == target {
			return adminStep{}, actionErr(http.StatusBadRequest, "不能删除自己")
		}
		if isTargetAdmin && !isOwnerOp {
			return adminStep{}, actionErr(http.StatusUnauthorized, "仅站长可删除管理员")
		}
		cfg.RemoveUser(target)
		return adminStep{changed: true, deleteUser: true}, nil
	}

	return adminStep{}, actionErr(http.StatusBadRequest, "未知操作")
}

// RegisterSelf 自助注册：需要管理配置允许注册
func (s *AdminService) RegisterSelf(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return actionErr(http.StatusBadRequest, "用户名或密码不能为空")
	}
	if s.IsOwner(username) {
		return actionErr(http.StatusBadRequest, "用户已存在")
	}

	registered := false
	req := AdminActionRequest{TargetUsername: username}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cfg, err := s.LoadConfig(ctx)
		if err != nil {
			s.rollback(ctx, req, registered)
			return err
		}
		if !cfg.UserConfig.AllowRegister {
			s.rollback(ctx, req, registered)
			return actionErr(http.StatusBadRequest, "管理员已关闭用户注册")
		}
		if cfg.FindUser(username) != nil {
			if !registered {
				return actionErr(http.StatusBadRequest, "用户已存在")
			}
		} else {
			cfg.UserConfig.Users = append(cfg.UserConfig.Users, model.UserAccount{Username: username, Role: model.RoleUser})
		}

		if !registered {
			if err := s.store.RegisterUser(ctx, username, password); err != nil {
				if errors.Is(err, repository.ErrUserExists) {
					return actionErr(http.StatusBadRequest, "用户已存在")
				}
				return fmt.Errorf("注册用户失败: %w", err)
			}
			registered = true
		}

		err = s.store.SaveAdminConfig(ctx, cfg)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			s.rollback(ctx, req, registered)
			return fmt.Errorf("保存管理配置失败: %w", err)
		}
		return nil
	}

	s.rollback(ctx, req, registered)
	return actionErr(http.StatusConflict, "配置已被其他操作修改，请重试")
}

// ListUsers 列出所有用户及其过滤相关设置
func (s *AdminService) ListUsers(ctx context.Context) ([]UserOverview, error) {
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	accounts := append([]model.UserAccount(nil), cfg.UserConfig.Users...)

	stored, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取用户列表失败: %w", err)
	}
	for _, u := range stored {
		if cfg.FindUser(u) == nil && !s.IsOwner(u) {
			accounts = append(accounts, model.UserAccount{Username: u, Role: model.RoleUser})
		}
	}

	out := make([]UserOverview, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, acc := range accounts {
		g.Go(func() error {
			settings, err := s.store.GetUserSettings(gctx, acc.Username)
			if err != nil {
				return fmt.Errorf("读取用户 %s 设置失败: %w", acc.Username, err)
			}
			role := acc.Role
			if role == "" {
				role = model.RoleUser
			}
			ov := UserOverview{
				Username:           acc.Username,
				Role:               role,
				Banned:             acc.Banned,
				FilterAdultContent: true,
				CanDisableFilter:   true,
			}
			if settings != nil {
				ov.FilterAdultContent = settings.FilterAdultContent
				ov.CanDisableFilter = settings.FilterCanBeDisabled()
				ov.ManagedByAdmin = settings.ManagedByAdmin
				ov.LastFilterChange = settings.LastFilterChange
			}
			out[i] = ov
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
