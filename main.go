package main

import (
	"fmt"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "patchstore"
	app.Usage = "Tile annotated rasters into patches and store them in one container file"
	app.Version = versioninfo.Short()
	app.Flags = globalFlags()
	app.Before = func(c *cli.Context) error {
		// 开始安全退出任务
		InitSafeExit()
		// 初始化配置
		InitConf(c.String(CONFIG))
		// 初始化日志
		InitLog(c.String(LOGLEVEL))
		return nil
	}
	app.Commands = []*cli.Command{
		convertCommand(),
		addLayerCommand(),
		infoCommand(),
		sampleCommand(),
		exportCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
