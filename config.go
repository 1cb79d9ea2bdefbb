package bankgo

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Database struct {
		ConnectionString string `yaml:"conn_str"`
	} `yaml:"database"`
	Redis struct {
		Addr   string `yaml:"addr"`
		Stream string `yaml:"stream"`
	} `yaml:"redis"`
	Auth struct {
		Secret       string `yaml:"secret"`
		TokenTTLMins int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Snowflake struct {
		Node int64 `yaml:"node"`
	} `yaml:"snowflake"`
	Limits struct {
		Charge int64 `yaml:"charge"`
		Query  int64 `yaml:"query"`
	} `yaml:"limits"`
}
