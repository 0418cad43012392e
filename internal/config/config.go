package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MemoryDirectoryURL 选择进程内目录实现（开发与测试用）
const MemoryDirectoryURL = "memory://"

// minJWTSecretLength JWT 签名密钥最小长度
const minJWTSecretLength = 64

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 3000
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空表示只输出到控制台
}

// LDAPConfig 定义目录服务连接与账户查找配置
type LDAPConfig struct {
	URL       string        // 目录服务地址，如 ldap://localhost:389；memory:// 使用内存目录
	Seed      string        // 内存目录的 YAML 种子文件（仅 memory:// 有效）
	BindDN    string        // 服务账号 DN
	BindPW    string        // 服务账号密码
	UserDN    string        // 用户搜索的基准 DN
	UserAttr  string        // 用户名属性，默认 uid
	AliasAttr string        // 别名属性，默认 registeredAddress
	Timeout   time.Duration // 连接与请求超时，默认 10 秒
}

// JWTConfig 定义会话令牌签发配置
type JWTConfig struct {
	Secret  string        // 签名密钥，至少 64 字符
	Expires time.Duration // 令牌有效期，默认 60 秒
	Issuer  string        // 签发者标识，默认 "aliasmanager"
}

// TokenConfig 定义令牌 Cookie 配置
type TokenConfig struct {
	Cookie string        // Cookie 名称，默认 "token"
	MaxAge time.Duration // Cookie 生存时间（环境变量以毫秒配置）
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LoginConfig 定义登录限流配置
type LoginConfig struct {
	RateLimit int // 每个客户端 IP 每分钟允许的登录次数，0 表示不限流
	Burst     int // 突发容量
}

// RedisConfig 定义 Redis 配置（用于多实例共享登录限流计数）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示使用进程内限流
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server          ServerConfig
	Log             LogConfig
	LDAP            LDAPConfig
	JWT             JWTConfig
	Token           TokenConfig
	CORS            CORSConfig
	Login           LoginConfig
	Redis           RedisConfig
	DefaultPageSize int // 别名列表默认分页大小
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: AM_
// 例如: AM_LDAP_URL, AM_CRYPTO_JWT_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("am")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("ldap.url", "")
	v.SetDefault("ldap.seed", "")
	v.SetDefault("ldap.bind_dn", "")
	v.SetDefault("ldap.bind_pw", "")
	v.SetDefault("ldap.user_dn", "")
	v.SetDefault("ldap.user_attr", "uid")
	v.SetDefault("ldap.alias_attr", "registeredAddress")
	v.SetDefault("ldap.timeout", "10s")
	v.SetDefault("crypto.jwt_secret", "")
	v.SetDefault("crypto.jwt_expires", "60s")
	v.SetDefault("crypto.jwt_issuer", "aliasmanager")
	v.SetDefault("token.cookie", "token")
	v.SetDefault("token.maxage", 60000)
	v.SetDefault("default.pagesize", 10)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("login.rate_limit", 10)
	v.SetDefault("login.burst", 5)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	ldapCfg := LDAPConfig{
		URL:       strings.TrimSpace(v.GetString("ldap.url")),
		Seed:      strings.TrimSpace(v.GetString("ldap.seed")),
		BindDN:    strings.TrimSpace(v.GetString("ldap.bind_dn")),
		BindPW:    v.GetString("ldap.bind_pw"),
		UserDN:    strings.TrimSpace(v.GetString("ldap.user_dn")),
		UserAttr:  strings.TrimSpace(v.GetString("ldap.user_attr")),
		AliasAttr: strings.TrimSpace(v.GetString("ldap.alias_attr")),
	}
	if err := checkRequired(map[string]string{
		"ldap.url":        ldapCfg.URL,
		"ldap.bind_dn":    ldapCfg.BindDN,
		"ldap.bind_pw":    ldapCfg.BindPW,
		"ldap.user_dn":    ldapCfg.UserDN,
		"ldap.user_attr":  ldapCfg.UserAttr,
		"ldap.alias_attr": ldapCfg.AliasAttr,
	}); err != nil {
		return nil, err
	}

	timeout, err := parseDuration(v.GetString("ldap.timeout"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid ldap.timeout: %q", v.GetString("ldap.timeout"))
	}
	ldapCfg.Timeout = timeout

	jwtSecret := v.GetString("crypto.jwt_secret")
	if jwtSecret == "" {
		return nil, fmt.Errorf("SECURITY ERROR: crypto.jwt_secret is required. Please set AM_CRYPTO_JWT_SECRET environment variable")
	}
	if len(jwtSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least %d characters long", minJWTSecretLength)
	}

	expires, err := parseDuration(v.GetString("crypto.jwt_expires"))
	if err != nil || expires <= 0 {
		return nil, fmt.Errorf("invalid crypto.jwt_expires: %q", v.GetString("crypto.jwt_expires"))
	}

	maxAgeMillis := v.GetInt64("token.maxage")
	if maxAgeMillis <= 0 {
		return nil, fmt.Errorf("token.maxage must be a positive number of milliseconds")
	}

	pageSize := v.GetInt("default.pagesize")
	if pageSize < 1 {
		return nil, fmt.Errorf("default.pagesize must be at least 1")
	}

	cookie := strings.TrimSpace(v.GetString("token.cookie"))
	if cookie == "" {
		return nil, fmt.Errorf("token.cookie must not be empty")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	rateLimit := v.GetInt("login.rate_limit")
	if rateLimit < 0 {
		rateLimit = 0
	}
	burst := v.GetInt("login.burst")
	if burst < 1 {
		burst = 1
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		LDAP: ldapCfg,
		JWT: JWTConfig{
			Secret:  jwtSecret,
			Expires: expires,
			Issuer:  v.GetString("crypto.jwt_issuer"),
		},
		Token: TokenConfig{
			Cookie: cookie,
			MaxAge: time.Duration(maxAgeMillis) * time.Millisecond,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Login: LoginConfig{
			RateLimit: rateLimit,
			Burst:     burst,
		},
		Redis: RedisConfig{
			Address:  strings.TrimSpace(v.GetString("redis.address")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		DefaultPageSize: pageSize,
	}

	return cfg, nil
}

// UsesMemoryDirectory 是否使用进程内目录
func (c LDAPConfig) UsesMemoryDirectory() bool {
	return c.URL == MemoryDirectoryURL
}

// checkRequired 校验必填项，按固定顺序报告缺失项
func checkRequired(values map[string]string) error {
	keys := []string{"ldap.url", "ldap.bind_dn", "ldap.bind_pw", "ldap.user_dn", "ldap.user_attr", "ldap.alias_attr"}
	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseDuration 解析时长，纯数字按秒处理（兼容 "60" 这样的写法）
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
