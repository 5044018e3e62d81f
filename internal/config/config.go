package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"SwapPilot/pkg/logger"
)

// Config 描述了 SwapPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Settlement SettlementConfig `json:"settlement"`
	Chain      ChainConfig      `json:"chain"`
	Strategy   StrategyConfig   `json:"strategy"`
	Executor   ExecutorConfig   `json:"executor"`
	Monitor    MonitorConfig    `json:"monitor"`
	Treasury   TreasuryConfig   `json:"treasury"`
	Signing    SigningConfig    `json:"signing"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Lock       LockConfig       `json:"lock"`
	Events     EventsConfig     `json:"events"`
	Logging    logger.Config    `json:"logging"`
}

// ServerConfig 控制触发接口的监听地址与共享密钥。
type ServerConfig struct {
	Address         string `json:"address"`
	CronSecret      string `json:"cron_secret"`
	CronSecretEnv   string `json:"cron_secret_env"`
	MetricsEnabled  bool   `json:"metrics_enabled"`
	ShutdownSeconds int    `json:"shutdown_seconds"`
}

// StorageConfig 描述持久化存储的驱动与连接池参数。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// SettlementConfig 描述结算协议 REST 接口与 EIP-712 域参数。
type SettlementConfig struct {
	BaseURL           string  `json:"base_url"`
	ChainID           int64   `json:"chain_id"`
	SettlementAddress string  `json:"settlement_address"`
	VaultRelayer      string  `json:"vault_relayer"`
	AppData           string  `json:"app_data"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// Timeout 返回外部调用的超时时间。
func (s SettlementConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址。
type ChainConfig struct {
	RPCURL         string `json:"rpc_url"`
	RPCURLEnv      string `json:"rpc_url_env"`
	AssetsFile     string `json:"assets_file"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回链上调用的超时时间。
func (c ChainConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StrategyConfig 控制信号生成器的全局参数。
type StrategyConfig struct {
	MinTradeUSD string `json:"min_trade_usd"`
	BatchLimit  int    `json:"batch_limit"`
}

// ExecutorConfig 控制交易队列执行器。
type ExecutorConfig struct {
	BatchLimit  int `json:"batch_limit"`
	MaxAttempts int `json:"max_attempts"`
}

// MonitorConfig 控制对账任务的并发度。
type MonitorConfig struct {
	Workers    int `json:"workers"`
	BatchLimit int `json:"batch_limit"`
}

// TreasuryConfig 描述金库飞轮的开关、阈值与代币地址。
type TreasuryConfig struct {
	Address           string `json:"address"`
	PrivateKeyEnv     string `json:"private_key_env"`
	SettlementToken   string `json:"settlement_token"`
	SettlementDecimal int32  `json:"settlement_decimals"`
	TargetToken       string `json:"target_token"`
	IntermediateToken string `json:"intermediate_token"`
	FeeLocker         string `json:"fee_locker"`
	HarvestEnabled    bool   `json:"harvest_enabled"`
	BuybackEnabled    bool   `json:"buyback_enabled"`
	BuybackThreshold  string `json:"buyback_threshold"`
	BuybackPercent    string `json:"buyback_percent"`
	MinSwapAmount     string `json:"min_swap_amount"`
}

// SigningConfig 将 agent 所有者地址映射到保存委托私钥的环境变量名。
type SigningConfig struct {
	DelegatedKeyEnvs map[string]string `json:"delegated_key_envs"`
}

// ScheduleConfig 定义进程内调度器的 cron 表达式，留空表示不注册该任务。
type ScheduleConfig struct {
	Enabled bool   `json:"enabled"`
	Signals string `json:"signals"`
	Execute string `json:"execute"`
	Monitor string `json:"monitor"`
	Harvest string `json:"harvest"`
	Buyback string `json:"buyback"`
}

// LockConfig 描述跨进程任务锁。
type LockConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回任务锁的过期时间。
func (l LockConfig) TTL() time.Duration {
	if l.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(l.TTLSeconds) * time.Second
}

// EventsConfig 描述尽力而为的事件投递通道。
type EventsConfig struct {
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	URLEnv   string `json:"url_env"`
	Exchange string `json:"exchange"`
	Buffer   int    `json:"buffer"`
}

// DefaultPath 是未设置 SWAPPILOT_CONFIG 时使用的配置文件位置。
const DefaultPath = "configs/swappilot.json"

// PathFromEnv 返回 SWAPPILOT_CONFIG 指定的路径，未设置时回退到 DefaultPath。
func PathFromEnv() string {
	if path := envValue("SWAPPILOT_CONFIG"); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件，并在同目录或工作目录下加载 .env。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	loadDotEnv(".env")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()

	return &cfg, nil
}

// loadDotEnv 不覆盖已存在的环境变量，文件缺失时静默跳过。
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 5
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Settlement.BaseURL == "" {
		c.Settlement.BaseURL = "https://api.cow.fi/mainnet"
	}
	if c.Settlement.ChainID == 0 {
		c.Settlement.ChainID = 1
	}
	if c.Settlement.SettlementAddress == "" {
		c.Settlement.SettlementAddress = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
	}
	if c.Settlement.VaultRelayer == "" {
		c.Settlement.VaultRelayer = "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"
	}
	if c.Settlement.RequestsPerSecond <= 0 {
		c.Settlement.RequestsPerSecond = 5
	}
	if c.Strategy.MinTradeUSD == "" {
		c.Strategy.MinTradeUSD = "10"
	}
	if c.Strategy.BatchLimit <= 0 {
		c.Strategy.BatchLimit = 500
	}
	if c.Executor.BatchLimit <= 0 {
		c.Executor.BatchLimit = 50
	}
	if c.Executor.MaxAttempts <= 0 {
		c.Executor.MaxAttempts = 12
	}
	if c.Monitor.Workers <= 0 {
		c.Monitor.Workers = 4
	}
	if c.Monitor.BatchLimit <= 0 {
		c.Monitor.BatchLimit = 200
	}
	if c.Treasury.SettlementDecimal == 0 {
		c.Treasury.SettlementDecimal = 6
	}
	if c.Treasury.BuybackPercent == "" {
		c.Treasury.BuybackPercent = "50"
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.Prefix == "" {
		c.Lock.Prefix = "swappilot:lock:"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "swappilot.events"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Chain.AssetsFile != "" && !filepath.IsAbs(c.Chain.AssetsFile) {
		c.Chain.AssetsFile = filepath.Join(baseDir, c.Chain.AssetsFile)
	}
}

// resolveSecrets 从 *_env 指定的环境变量中读取密钥类配置。
func (c *Config) resolveSecrets() {
	c.Server.CronSecret = firstNonEmpty(c.Server.CronSecret, envValue(c.Server.CronSecretEnv))
	c.Storage.DSN = firstNonEmpty(c.Storage.DSN, envValue(c.Storage.DSNEnv))
	c.Chain.RPCURL = firstNonEmpty(c.Chain.RPCURL, envValue(c.Chain.RPCURLEnv))
	c.Events.URL = firstNonEmpty(c.Events.URL, envValue(c.Events.URLEnv))
}

// TreasuryKeyHex 返回金库私钥（十六进制）。未配置时返回空字符串。
func (c *Config) TreasuryKeyHex() string {
	return envValue(c.Treasury.PrivateKeyEnv)
}

func envValue(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
