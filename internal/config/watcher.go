package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"candlesync/internal/logger"
)

// Watch 监听配置文件变更，重新加载成功后回调新配置。
// 解析失败只记日志，保留上一份生效配置。
func Watch(path string, onChange func(*Config)) error {
	if onChange == nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded (%s)", evt.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
