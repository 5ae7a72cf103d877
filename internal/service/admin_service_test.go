package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/katelyatv/internal/model"
	"github.com/user/katelyatv/internal/repository"
)

const testOwner = "owner"

func boolPtr(b bool) *bool { return &b }

// seedAdmin 初始化：admin1 为管理员，alice/bob 为普通用户
func seedAdmin(t *testing.T) (*AdminService, *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, u := range []string{"admin1", "admin2", "alice", "bob"} {
		require.NoError(t, store.RegisterUser(ctx, u, "pw"))
	}
	require.NoError(t, store.SaveAdminConfig(ctx, &model.AdminConfig{UserConfig: model.UserConfig{
		Users: []model.UserAccount{
			{Username: "admin1", Role: model.RoleAdmin},
			{Username: "admin2", Role: model.RoleAdmin},
			{Username: "alice", Role: model.RoleUser},
			{Username: "bob", Role: model.RoleUser},
		},
	}}))
	return NewAdminService(store, testOwner, false), store
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var aerr *ActionError
	require.True(t, errors.As(err, &aerr), "expected ActionError, got %v", err)
	assert.Equal(t, status, aerr.Status, aerr.Message)
}

func TestApplyValidation(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: "explode", TargetUsername: "alice"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionBan}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionBan, TargetUsername: "admin1"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionSetAllowRegister}), http.StatusBadRequest)
}

func TestApplyRequiresAdminOperator(t *testing.T) {
	svc, _ := seedAdmin(t)
	requireStatus(t, svc.Apply(context.Background(), "alice", AdminActionRequest{Action: ActionBan, TargetUsername: "bob"}), http.StatusUnauthorized)
	requireStatus(t, svc.Apply(context.Background(), "ghost", AdminActionRequest{Action: ActionBan, TargetUsername: "bob"}), http.StatusUnauthorized)
}

func TestApplyNeverTargetsOwner(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	for _, action := range []string{ActionBan, ActionUnban, ActionSetAdmin, ActionCancelAdmin, ActionDeleteUser, ActionAdd} {
		requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: action, TargetUsername: testOwner, TargetPassword: "x"}), http.StatusBadRequest)
	}
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionChangePassword, TargetUsername: testOwner, TargetPassword: "x"}), http.StatusUnauthorized)
	// 站长对自己同样不能修改密码
	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionChangePassword, TargetUsername: testOwner, TargetPassword: "x"}), http.StatusUnauthorized)
}

func TestApplyAdd(t *testing.T) {
	svc, store := seedAdmin(t)
	ctx := context.Background()

	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionAdd, TargetUsername: "alice", TargetPassword: "x"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionAdd, TargetUsername: "carol"}), http.StatusBadRequest)

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionAdd, TargetUsername: "carol", TargetPassword: "secret"}))
	ok, err := store.VerifyUser(ctx, "carol", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	entry, err := svc.UserEntry(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.RoleUser, entry.Role)
}

func TestApplyBanUnban(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionBan, TargetUsername: "alice"}))
	entry, _ := svc.UserEntry(ctx, "alice")
	assert.True(t, entry.Banned)

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionUnban, TargetUsername: "alice"}))
	entry, _ = svc.UserEntry(ctx, "alice")
	assert.False(t, entry.Banned)

	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionBan, TargetUsername: "ghost"}), http.StatusNotFound)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionBan, TargetUsername: "admin2"}), http.StatusUnauthorized)
	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionBan, TargetUsername: "admin2"}))
}

func TestApplyAdminRoleChanges(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionSetAdmin, TargetUsername: "admin1"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionSetAdmin, TargetUsername: "alice"}), http.StatusUnauthorized)
	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionSetAdmin, TargetUsername: "alice"}))

	role, err := svc.RoleOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)

	requireStatus(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionCancelAdmin, TargetUsername: "bob"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionCancelAdmin, TargetUsername: "alice"}), http.StatusUnauthorized)
	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionCancelAdmin, TargetUsername: "alice"}))

	role, _ = svc.RoleOf(ctx, "alice")
	assert.Equal(t, model.RoleUser, role)
	role, _ = svc.RoleOf(ctx, testOwner)
	assert.Equal(t, model.RoleOwner, role)
}

func TestApplyChangePassword(t *testing.T) {
	svc, store := seedAdmin(t)
	ctx := context.Background()

	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionChangePassword, TargetUsername: "alice"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionChangePassword, TargetUsername: "admin2", TargetPassword: "n"}), http.StatusUnauthorized)

	// 管理员可以修改自己的密码
	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionChangePassword, TargetUsername: "admin1", TargetPassword: "new"}))
	ok, _ := store.VerifyUser(ctx, "admin1", "new")
	assert.True(t, ok)

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionChangePassword, TargetUsername: "alice", TargetPassword: "new"}))
	ok, _ = store.VerifyUser(ctx, "alice", "new")
	assert.True(t, ok)
}

func TestApplyDeleteUser(t *testing.T) {
	svc, store := seedAdmin(t)
	ctx := context.Background()

	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "admin1"}), http.StatusBadRequest)
	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "admin2"}), http.StatusUnauthorized)

	require.NoError(t, store.SetUserSettings(ctx, "alice", model.DefaultUserSettings()))
	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "alice"}))

	exists, _ := store.UserExists(ctx, "alice")
	assert.False(t, exists)
	settings, _ := store.GetUserSettings(ctx, "alice")
	assert.Nil(t, settings)
	entry, _ := svc.UserEntry(ctx, "alice")
	assert.Nil(t, entry)
}

func TestApplySetAllowRegister(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionSetAllowRegister, AllowRegister: boolPtr(true)}))
	cfg, err := svc.LoadConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.UserConfig.AllowRegister)
}

// conflictingStore 前 n 次保存返回版本冲突
type conflictingStore struct {
	*repository.MemoryStore
	conflicts int
	saves     int
}

func (s *conflictingStore) SaveAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	s.saves++
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrVersionConflict
	}
	return s.MemoryStore.SaveAdminConfig(ctx, cfg)
}

func TestApplyRetriesOnConflict(t *testing.T) {
	_, mem := seedAdmin(t)
	store := &conflictingStore{MemoryStore: mem, conflicts: 2}
	svc := NewAdminService(store, testOwner, false)

	require.NoError(t, svc.Apply(context.Background(), testOwner, AdminActionRequest{Action: ActionBan, TargetUsername: "bob"}))
	assert.Equal(t, 3, store.saves)
	entry, _ := svc.UserEntry(context.Background(), "bob")
	assert.True(t, entry.Banned)
}

func TestApplyGivesUpAfterRepeatedConflicts(t *testing.T) {
	_, mem := seedAdmin(t)
	store := &conflictingStore{MemoryStore: mem, conflicts: 10}
	svc := NewAdminService(store, testOwner, false)

	err := svc.Apply(context.Background(), testOwner, AdminActionRequest{Action: ActionAdd, TargetUsername: "dave", TargetPassword: "pw"})
	requireStatus(t, err, http.StatusConflict)
	assert.Equal(t, maxCASAttempts, store.saves)

	// 新建的凭据已回滚
	exists, _ := mem.UserExists(context.Background(), "dave")
	assert.False(t, exists)
}

func TestApplyAddSurvivesConflict(t *testing.T) {
	_, mem := seedAdmin(t)
	store := &conflictingStore{MemoryStore: mem, conflicts: 1}
	svc := NewAdminService(store, testOwner, false)

	require.NoError(t, svc.Apply(context.Background(), testOwner, AdminActionRequest{Action: ActionAdd, TargetUsername: "dave", TargetPassword: "pw"}))
	entry, _ := svc.UserEntry(context.Background(), "dave")
	require.NotNil(t, entry)
}

// flakyDeleteStore DeleteUser 在 failures 次内返回错误
type flakyDeleteStore struct {
	*repository.MemoryStore
	failures int
}

func (s *flakyDeleteStore) DeleteUser(ctx context.Context, username string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("backend down")
	}
	return s.MemoryStore.DeleteUser(ctx, username)
}

func TestApplyDeleteUserKeepsEntryWhenCredentialDeleteFails(t *testing.T) {
	_, mem := seedAdmin(t)
	store := &flakyDeleteStore{MemoryStore: mem, failures: 1}
	svc := NewAdminService(store, testOwner, false)
	ctx := context.Background()
	req := AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "alice"}

	err := svc.Apply(ctx, testOwner, req)
	require.Error(t, err)
	entry, err := svc.UserEntry(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, entry, "config entry must survive a failed credential delete")

	require.NoError(t, svc.Apply(ctx, testOwner, req))
	ok, err := mem.VerifyUser(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.False(t, ok)
	entry, _ = svc.UserEntry(ctx, "alice")
	assert.Nil(t, entry)
}

func TestApplyDeleteUserCleansCredentialWithoutEntry(t *testing.T) {
	svc, store := seedAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterUser(ctx, "orphan", "pw"))

	require.NoError(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "orphan"}))
	exists, err := store.UserExists(ctx, "orphan")
	require.NoError(t, err)
	assert.False(t, exists)

	requireStatus(t, svc.Apply(ctx, "admin1", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "orphan"}), http.StatusNotFound)
	// 普通用户不能借此删除任何账户
	require.NoError(t, store.RegisterUser(ctx, "orphan2", "pw"))
	requireStatus(t, svc.Apply(ctx, "alice", AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "orphan2"}), http.StatusUnauthorized)
}

func TestApplyDeleteUserAfterConflictDeletesOnce(t *testing.T) {
	_, mem := seedAdmin(t)
	store := &conflictingStore{MemoryStore: mem, conflicts: 1}
	svc := NewAdminService(store, testOwner, false)

	require.NoError(t, svc.Apply(context.Background(), testOwner, AdminActionRequest{Action: ActionDeleteUser, TargetUsername: "bob"}))
	assert.Equal(t, 2, store.saves)
	exists, _ := mem.UserExists(context.Background(), "bob")
	assert.False(t, exists)
	entry, _ := svc.UserEntry(context.Background(), "bob")
	assert.Nil(t, entry)
}

func TestApplyRejectsBannedAdmin(t *testing.T) {
	svc, _ := seedAdmin(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionBan, TargetUsername: "admin2"}))
	requireStatus(t, svc.Apply(ctx, "admin2", AdminActionRequest{Action: ActionBan, TargetUsername: "bob"}), http.StatusUnauthorized)

	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionUnban, TargetUsername: "admin2"}))
	require.NoError(t, svc.Apply(ctx, "admin2", AdminActionRequest{Action: ActionBan, TargetUsername: "bob"}))
}

func TestLoadConfigInitialisesFromStoredUsers(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.RegisterUser(ctx, "zed", "pw"))
	require.NoError(t, store.RegisterUser(ctx, testOwner, "pw"))

	svc := NewAdminService(store, testOwner, true)
	cfg, err := svc.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Version)
	assert.True(t, cfg.UserConfig.AllowRegister)
	assert.Equal(t, []model.UserAccount{{Username: "zed", Role: model.RoleUser}}, cfg.UserConfig.Users)
}

func TestRegisterSelf(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewAdminService(store, testOwner, false)

	requireStatus(t, svc.RegisterSelf(ctx, "newbie", "pw"), http.StatusBadRequest)

	require.NoError(t, svc.Apply(ctx, testOwner, AdminActionRequest{Action: ActionSetAllowRegister, AllowRegister: boolPtr(true)}))
	requireStatus(t, svc.RegisterSelf(ctx, testOwner, "pw"), http.StatusBadRequest)
	requireStatus(t, svc.RegisterSelf(ctx, "", "pw"), http.StatusBadRequest)

	require.NoError(t, svc.RegisterSelf(ctx, "newbie", "pw"))
	requireStatus(t, svc.RegisterSelf(ctx, "newbie", "pw"), http.StatusBadRequest)

	ok, _ := store.VerifyUser(ctx, "newbie", "pw")
	assert.True(t, ok)
	entry, _ := svc.UserEntry(ctx, "newbie")
	require.NotNil(t, entry)
	assert.Equal(t, model.RoleUser, entry.Role)
}

func TestListUsersIncludesSettingsDefaults(t *testing.T) {
	svc, store := seedAdmin(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterUser(ctx, "orphan", "pw"))

	locked := false
	s := model.DefaultUserSettings()
	s.CanDisableFilter = &locked
	s.ManagedByAdmin = true
	s.LastFilterChange = "2024-01-01T00:00:00Z"
	require.NoError(t, store.SetUserSettings(ctx, "alice", s))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 5)

	byName := map[string]UserOverview{}
	for _, u := range users {
		byName[u.Username] = u
	}
	assert.Equal(t, model.RoleAdmin, byName["admin1"].Role)
	assert.True(t, byName["bob"].FilterAdultContent)
	assert.True(t, byName["bob"].CanDisableFilter)
	assert.False(t, byName["alice"].CanDisableFilter)
	assert.True(t, byName["alice"].ManagedByAdmin)
	assert.Equal(t, "2024-01-01T00:00:00Z", byName["alice"].LastFilterChange)
	assert.Equal(t, model.RoleUser, byName["orphan"].Role)
}
