package domain

// Alias 表示账户上的一个别名地址。
// 地址本身就是主键，同一账户下地址唯一（大小写敏感的精确匹配）。
type Alias struct {
	Address string `json:"address" binding:"required,email"` // 别名地址
}

// Account 表示目录中的一个账户条目。
// 每次操作都从目录重新读取，本系统不缓存账户状态。
type Account struct {
	Username string   // 目录提供的用户名
	DN       string   // 条目 DN，修改操作的目标
	Aliases  []string // 别名属性的全部原始值，已规范化为列表（可能为空、可能含重复值）
}

// Results 分页结果视图
type Results[T any] struct {
	Page     int `json:"page"`     // 页码，从 1 开始
	PageSize int `json:"pageSize"` // 每页条数
	Total    int `json:"total"`    // 过滤后、分页前的总数
	Results  []T `json:"results"`  // 当前页数据，永不为 null
}

// ListQuery 别名列表查询参数
type ListQuery struct {
	Filter   string // 过滤值，空字符串匹配所有
	Page     int    // 页码，小于 1 时按 1 处理
	PageSize int    // 每页条数，小于 1 时使用默认值
	Strict   bool   // true 表示精确匹配，false 表示子串匹配
}
