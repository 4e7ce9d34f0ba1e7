package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"moff.io/moff-estate/pkg/errors"
)

// Wallet provider kinds.
const (
	ProviderNone          = "none"
	ProviderRPC           = "rpc"
	ProviderWalletConnect = "walletconnect"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Enabled reports whether an address was configured.
func (c *DBCredential) Enabled() bool {
	return c.Address != ""
}

// Configuration struct
type Configuration struct {
	LogLevel          int           `yaml:"log_level"`
	HTTP              HTTP          `yaml:"http"`
	Wallet            Wallet        `yaml:"wallet"`
	RedisCredential   DBCredential  `yaml:"redis"`
	KafkaServer       string        `yaml:"kafka-server"`
	WalletEventsTopic string        `yaml:"wallet_events_topic"`
	SentryDSN         string        `yaml:"sentry_dsn"`
	LarkAlarmWebhook  string        `yaml:"lark_alarm_webhook"`
	DingTalk          DingTalk      `yaml:"dingtalk"`
	ReportSilence     time.Duration `yaml:"report_silence"`
	ReportTitle       string        `yaml:"report_title"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
	// ConnectRatePerMinute limits connect attempts per client address; 0 disables it.
	ConnectRatePerMinute int `yaml:"connect_rate_per_minute"`
}

type Wallet struct {
	Provider       string     `yaml:"provider"`
	RPCURL         string     `yaml:"rpc_url"`
	BridgeURL      string     `yaml:"bridge_url"`
	AssumeMetaMask bool       `yaml:"assume_metamask"`
	DownloadURL    string     `yaml:"download_url"`
	GuidanceURL    string     `yaml:"guidance_url"`
	ClientMeta     ClientMeta `yaml:"client_meta"`
}

type ClientMeta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Icons       []string `yaml:"icons"`
}

type DingTalk struct {
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

func (c *Configuration) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Wallet.Provider == "" {
		c.Wallet.Provider = ProviderNone
	}
	if c.Wallet.ClientMeta.Name == "" {
		c.Wallet.ClientMeta.Name = "Moff Estate"
	}
	if c.WalletEventsTopic == "" {
		c.WalletEventsTopic = "wallet_session"
	}
	if c.ReportSilence == 0 {
		c.ReportSilence = time.Minute
	}
	if c.ReportTitle == "" {
		c.ReportTitle = "moff-estate error"
	}
}

func (c *Configuration) validate() error {
	switch c.Wallet.Provider {
	case ProviderNone, ProviderWalletConnect:
	case ProviderRPC:
		if c.Wallet.RPCURL == "" {
			return errors.New("wallet.rpc_url is required for the rpc provider")
		}
	default:
		return errors.Errorf("unknown wallet provider %q", c.Wallet.Provider)
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return errors.Errorf("log_level %d out of range 0-3", c.LogLevel)
	}
	return nil
}

func readConfig(path string) (Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	t := Configuration{}
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, errors.Errorf("file %s does not exist", path)
		}
		return t, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return t, errors.Wrap(err, "fail to decode config")
	}
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return t, err
	}
	return t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = &globalConfig
}
