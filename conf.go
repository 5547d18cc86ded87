package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `toml:"version" default:"v 0.1.0"`
		Title   string `toml:"title" default:"Patch Store"`
	} `toml:"app"`
	Output struct {
		Directory      string `toml:"directory" default:"output"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal" default:"true"`
		// Layout 输出容器路径模板，支持 {name} {dir} {date} {patch}
		Layout string `toml:"layout" default:"{name}.patches"`
	} `toml:"output"`
	Container struct {
		Compression string `toml:"compression" default:"gzip"`
		PatchSize   int    `toml:"patchSize" default:"256"`
		PatchBorder int    `toml:"patchBorder" default:"3"`
		ChunkSize   int    `toml:"chunkSize" default:"256"`
	} `toml:"container"`
	Task struct {
		Workers int `toml:"workers" default:"4"`
	} `toml:"task"`
	BreakPoint struct {
		SaveFilePath string `toml:"saveFilePath" default:"breakpoint"`
	} `toml:"breakPoint"`
	Codec struct {
		Name     string `toml:"name" default:"geotiff"`
		Encoding string `toml:"encoding"`
	} `toml:"codec"`
	Sample struct {
		Jobs   int   `toml:"jobs" default:"4"`
		PerJob int   `toml:"perJob" default:"16"`
		Seed   int64 `toml:"seed"`
	} `toml:"sample"`
}

// InitConf 初始化配置，依次为结构体默认值、配置文件、环境变量
func InitConf(cfgFile string) {
	_ = godotenv.Load(".env")

	conf = &Conf{}
	if err := defaults.Set(conf); err != nil {
		panic(fmt.Sprintf("配置默认值设置失败: %s", err))
	}

	viper.SetConfigType("toml")
	viper.SetEnvPrefix("patchstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("output.directory", conf.Output.Directory)
	viper.SetDefault("output.layout", conf.Output.Layout)
	viper.SetDefault("container.compression", conf.Container.Compression)
	viper.SetDefault("container.patchSize", conf.Container.PatchSize)
	viper.SetDefault("container.patchBorder", conf.Container.PatchBorder)
	viper.SetDefault("task.workers", conf.Task.Workers)

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "read config file(%s) error, details: %s\n", viper.ConfigFileUsed(), err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "config file(%s) not exist, using defaults\n", cfgFile)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		panic("配置文件解析失败")
	}
	if conf.Task.Workers < 1 {
		conf.Task.Workers = 1
	}
}
