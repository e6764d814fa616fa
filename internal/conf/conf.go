package conf

// Bootstrap 服务启动配置（configs/config.yaml）
type Bootstrap struct {
	Server      *Server      `json:"server"`
	Data        *Data        `json:"data"`
	Serving     *Serving     `json:"serving"`
	Provisioner *Provisioner `json:"provisioner"`
}

// Server 服务端配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务配置
type HTTP struct {
	Network        string `json:"network"`
	Addr           string `json:"addr"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr                string `json:"addr"`
	ReadTimeoutSeconds  int64  `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int64  `json:"write_timeout_seconds"`
}

// Rocketmq 消息队列配置（用量事件异步落库）
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	Topic       string   `json:"topic"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int32    `json:"retry_times"`
}

// Serving 服务控制面配置
type Serving struct {
	// MinAdmissionCents 准入检查的最低余额（分）
	MinAdmissionCents int64 `json:"min_admission_cents"`
	// ProxyTimeoutSeconds 转发推理请求的硬超时（秒），默认 30
	ProxyTimeoutSeconds int64 `json:"proxy_timeout_seconds"`
	// ProbeIntervalSeconds 节点健康探测周期（秒），默认 30
	ProbeIntervalSeconds int64 `json:"probe_interval_seconds"`
	// Pricing 按 GPU 档位的计费单价
	Pricing map[string]*TierPricing `json:"pricing"`
}

// TierPricing 每千 token 的单价（分）
type TierPricing struct {
	InputCentsPer1K  int64 `json:"input_cents_per_1k"`
	OutputCentsPer1K int64 `json:"output_cents_per_1k"`
}

// Provisioner 外部 GPU 算力编排服务配置
type Provisioner struct {
	BaseUrl        string `json:"base_url"`
	Token          string `json:"token"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}
