package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type SlruCacheConfig struct {
	NumSlots         int  `mapstructure:"num_slots"`
	PageSize         int  `mapstructure:"page_size"`
	PagesPerSegment  int  `mapstructure:"pages_per_segment"`
	LSNGroupsPerPage int  `mapstructure:"lsn_groups_per_page"`
	DoFsync          bool `mapstructure:"do_fsync"`
	FlushFileLimit   int  `mapstructure:"flush_file_limit"`
}

type AppConfig struct {
	Slru SlruCacheConfig `mapstructure:"slru"`
	Clog struct {
		Dir    string `mapstructure:"dir"`
		WalDir string `mapstructure:"wal_dir"`
	} `mapstructure:"clog"`
}

func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
