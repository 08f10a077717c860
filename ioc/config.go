package ioc

import (
	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/spf13/viper"
)

// InitRuntimeConfig 监听配置文件, 每轮循环读取最新的运行时配置
func InitRuntimeConfig() *config.ViperProvider {
	return config.NewViperProvider(viper.GetViper())
}
