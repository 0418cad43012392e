package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"aliasmanager/backend/internal/domain"
)

// AccountDirectory 别名服务依赖的目录操作
type AccountDirectory interface {
	ResolveAccount(ctx context.Context, username string) (*domain.Account, error)
	AddAlias(ctx context.Context, dn, address string) error
	ReplaceAlias(ctx context.Context, dn, oldAddress, newAddress string) error
	DeleteAlias(ctx context.Context, dn, address string) error
}

// OperationRecorder 记录别名操作结果（由监控模块实现）
type OperationRecorder interface {
	RecordAliasOperation(operation, result string)
}

// AliasService 封装账户别名的查询与增删改逻辑。
//
// 目录中别名属性只是一个多值属性，唯一性等约束由本服务在写入前检查。
// 检查与写入之间没有锁，并发请求可能同时通过检查。
type AliasService struct {
	dir             AccountDirectory
	defaultPageSize int
	logger          *zap.Logger
	recorder        OperationRecorder
}

// NewAliasService 创建别名业务服务。
func NewAliasService(dir AccountDirectory, defaultPageSize int, logger *zap.Logger) *AliasService {
	if defaultPageSize < 1 {
		defaultPageSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AliasService{
		dir:             dir,
		defaultPageSize: defaultPageSize,
		logger:          logger,
	}
}

// SetRecorder 设置操作结果记录器
func (s *AliasService) SetRecorder(recorder OperationRecorder) {
	s.recorder = recorder
}

// List 返回账户别名的有序、过滤、分页视图。
func (s *AliasService) List(ctx context.Context, username string, query domain.ListQuery) (*domain.Results[domain.Alias], error) {
	account, err := s.dir.ResolveAccount(ctx, username)
	if err != nil {
		return nil, err
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}

	addresses := sortAddresses(account.Aliases)
	filtered := filterAddresses(addresses, query.Filter, query.Strict)

	s.logger.Debug("listing aliases",
		zap.String("username", username),
		zap.String("filter", query.Filter),
		zap.Bool("strict", query.Strict),
		zap.Int("page", page),
		zap.Int("page_size", pageSize),
		zap.Int("total", len(filtered)),
	)

	return &domain.Results[domain.Alias]{
		Page:     page,
		PageSize: pageSize,
		Total:    len(filtered),
		Results:  paginate(filtered, page, pageSize),
	}, nil
}

// Create 为账户添加一个新别名。
func (s *AliasService) Create(ctx context.Context, username string, alias domain.Alias) (domain.Alias, error) {
	exists, err := s.exists(ctx, username, alias.Address)
	if err != nil {
		return domain.Alias{}, s.fail("create", err)
	}
	if exists {
		return domain.Alias{}, s.fail("create", domain.AliasAlreadyExists(username, alias.Address))
	}

	account, err := s.dir.ResolveAccount(ctx, username)
	if err != nil {
		return domain.Alias{}, s.fail("create", err)
	}
	if err := s.dir.AddAlias(ctx, account.DN, alias.Address); err != nil {
		return domain.Alias{}, s.fail("create", err)
	}

	s.logger.Info("alias created",
		zap.String("username", username),
		zap.String("address", alias.Address),
	)
	s.record("create", "success")
	return alias, nil
}

// Update 将账户的一个别名改为新地址。
//
// 新旧地址相同时在确认旧地址存在后直接返回，不写目录。
func (s *AliasService) Update(ctx context.Context, username, oldAddress string, alias domain.Alias) (domain.Alias, error) {
	exists, err := s.exists(ctx, username, oldAddress)
	if err != nil {
		return domain.Alias{}, s.fail("update", err)
	}
	if !exists {
		return domain.Alias{}, s.fail("update", domain.AliasDoesNotExist(username, oldAddress))
	}

	if oldAddress == alias.Address {
		s.logger.Debug("alias rename is a no-op",
			zap.String("username", username),
			zap.String("address", oldAddress),
		)
		s.record("update", "noop")
		return alias, nil
	}

	duplicate, err := s.exists(ctx, username, alias.Address)
	if err != nil {
		return domain.Alias{}, s.fail("update", err)
	}
	if duplicate {
		return domain.Alias{}, s.fail("update", domain.AliasAlreadyExists(username, alias.Address))
	}

	account, err := s.dir.ResolveAccount(ctx, username)
	if err != nil {
		return domain.Alias{}, s.fail("update", err)
	}
	if err := s.dir.ReplaceAlias(ctx, account.DN, oldAddress, alias.Address); err != nil {
		return domain.Alias{}, s.fail("update", err)
	}

	s.logger.Info("alias updated",
		zap.String("username", username),
		zap.String("old_address", oldAddress),
		zap.String("new_address", alias.Address),
	)
	s.record("update", "success")
	return alias, nil
}

// Delete 删除账户的一个别名。
func (s *AliasService) Delete(ctx context.Context, username, address string) error {
	exists, err := s.exists(ctx, username, address)
	if err != nil {
		return s.fail("delete", err)
	}
	if !exists {
		return s.fail("delete", domain.AliasDoesNotExist(username, address))
	}

	account, err := s.dir.ResolveAccount(ctx, username)
	if err != nil {
		return s.fail("delete", err)
	}
	if err := s.dir.DeleteAlias(ctx, account.DN, address); err != nil {
		return s.fail("delete", err)
	}

	s.logger.Info("alias deleted",
		zap.String("username", username),
		zap.String("address", address),
	)
	s.record("delete", "success")
	return nil
}

// exists 用精确过滤的列表查询判断地址是否已存在
func (s *AliasService) exists(ctx context.Context, username, address string) (bool, error) {
	res, err := s.List(ctx, username, domain.ListQuery{Filter: address, Strict: true, Page: 1})
	if err != nil {
		return false, err
	}
	return res.Total > 0, nil
}

// fail 记录失败结果并原样返回错误
func (s *AliasService) fail(operation string, err error) error {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Kind != domain.KindCantConnectToDirectory {
		s.logger.Warn("alias operation rejected",
			zap.String("operation", operation),
			zap.Error(err),
		)
		s.record(operation, domainErr.Kind.String())
		return err
	}

	s.logger.Error("alias operation failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
	s.record(operation, "error")
	return err
}

func (s *AliasService) record(operation, result string) {
	if s.recorder != nil {
		s.recorder.RecordAliasOperation(operation, result)
	}
}

// sortAddresses 按区域无关的排序规则升序排列，不修改输入
func sortAddresses(addresses []string) []string {
	sorted := append([]string(nil), addresses...)
	// Collator 不是并发安全的，每次调用单独创建
	c := collate.New(language.Und)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.CompareString(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// filterAddresses strict 时精确匹配，否则按子串匹配（空过滤器匹配全部）
func filterAddresses(addresses []string, filter string, strict bool) []string {
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if strict {
			if address == filter {
				out = append(out, address)
			}
			continue
		}
		if strings.Contains(address, filter) {
			out = append(out, address)
		}
	}
	return out
}

// paginate 截取第 page 页，越界时返回空切片
func paginate(addresses []string, page, pageSize int) []domain.Alias {
	if page-1 > len(addresses)/pageSize {
		return []domain.Alias{}
	}
	start := (page - 1) * pageSize
	if start >= len(addresses) {
		return []domain.Alias{}
	}
	end := len(addresses)
	if pageSize < end-start {
		end = start + pageSize
	}

	results := make([]domain.Alias, 0, end-start)
	for _, address := range addresses[start:end] {
		results = append(results, domain.Alias{Address: address})
	}
	return results
}
