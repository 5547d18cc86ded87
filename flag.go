package main

import (
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
)

// 命令行参数名
const (
	CONFIG    string = `config`
	LOGLEVEL  string = `logLevel`
	CONTAINER string = `container`
	INPUT     string = `input`
	MAPNAME   string = `map`
	LAYER     string = `layer`
	FILE      string = `file`
	DEST      string = `dest`
	WORKERS   string = `workers`
	JOBS      string = `jobs`
	PERJOB    string = `perJob`
	AOIFILE   string = `aoi`
	DUMP      string = `dump`
	RESUME    string = `resume`
	SKIPEXIST string = `skipExisting`
)

func envVars(name string) []string {
	return []string{"PATCHSTORE_" + strcase.ToScreamingSnake(name)}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    CONFIG,
			Aliases: []string{"c"},
			Usage:   "set config `file`",
			Value:   "./conf/conf.toml",
			EnvVars: envVars(CONFIG),
		},
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Aliases: []string{"l"},
			Usage:   "set log level",
			Value:   "info",
			EnvVars: envVars(LOGLEVEL),
		},
	}
}

func containerFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     CONTAINER,
		Aliases:  []string{"o"},
		Usage:    "patch container `file`",
		Required: required,
		EnvVars:  envVars(CONTAINER),
	}
}

func mapFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     MAPNAME,
		Aliases:  []string{"m"},
		Usage:    "map name",
		Required: required,
	}
}
