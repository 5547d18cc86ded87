package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"patchstore/container"
	"patchstore/ingest"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Import descriptors and their rasters into patch containers",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     INPUT,
				Aliases:  []string{"i"},
				Usage:    "descriptor `file` or directory searched for *.json",
				Required: true,
				EnvVars:  envVars(INPUT),
			},
			containerFlag(false),
			&cli.IntFlag{
				Name:    WORKERS,
				Aliases: []string{"w"},
				Usage:   "override task.workers",
			},
			&cli.BoolFlag{
				Name:  RESUME,
				Usage: "skip descriptors recorded in the break point log",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  SKIPEXIST,
				Usage: "skip descriptors whose output container already exists instead of appending",
			},
		},
		Action: func(c *cli.Context) error {
			if n := c.Int(WORKERS); n > 0 {
				conf.Task.Workers = n
			}
			input := c.String(INPUT)
			files, err := findDescriptors(input)
			if err != nil {
				return err
			}
			jobs := make([]MapJob, 0, len(files))
			for _, f := range files {
				jobs = append(jobs, NewMapJob(f))
			}
			codec, err := newCodec(conf.Codec.Name)
			if err != nil {
				return err
			}

			base := filepath.Base(filepath.Clean(input))
			name := strings.TrimSuffix(base, filepath.Ext(base))
			bp, err := InitBreakPoint(name, c.Bool(RESUME))
			if err != nil {
				return err
			}
			defer bp.Close()

			task := NewConvertTask(name, jobs, c.String(CONTAINER), codec, bp)
			task.SkipExisting = c.Bool(SKIPEXIST)
			// 注册安全退出
			id := SafeExitInst.Register(task.AbortFun)
			defer SafeExitInst.Unregister(id)
			return task.Run()
		},
	}
}

func addLayerCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-layer",
		Usage: "Add one layer raster to a map already stored in a container",
		Flags: []cli.Flag{
			containerFlag(true),
			mapFlag(true),
			&cli.StringFlag{
				Name:     LAYER,
				Aliases:  []string{"n"},
				Usage:    "layer name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     FILE,
				Aliases:  []string{"f"},
				Usage:    "layer raster `file`",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			codec, err := newCodec(conf.Codec.Name)
			if err != nil {
				return err
			}
			ct, closeFn, err := openContainer(c.String(CONTAINER), container.ModeAppend)
			if err != nil {
				return err
			}
			defer closeFn()

			cells, err := ingest.New(ct, codec, ingest.WithLogger(log)).AddLayer(c.String(MAPNAME), c.String(LAYER), c.String(FILE))
			if errors.Is(err, ingest.ErrLayerSkipped) {
				return cli.Exit(err, 2)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "layer %s added to %s, %d patches\n", c.String(LAYER), c.String(MAPNAME), len(cells))
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Describe a container and its maps",
		Flags: []cli.Flag{
			containerFlag(true),
			mapFlag(false),
		},
		Action: func(c *cli.Context) error {
			ct, closeFn, err := openContainer(c.String(CONTAINER), container.ModeRead)
			if err != nil {
				return err
			}
			defer closeFn()

			text, err := describe(ct, c.String(MAPNAME))
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, text)
			return nil
		},
	}
}

func sampleCommand() *cli.Command {
	return &cli.Command{
		Name:  "sample",
		Usage: "Draw random valid patches with independent read handles",
		Flags: []cli.Flag{
			containerFlag(true),
			mapFlag(false),
			&cli.IntFlag{
				Name:  JOBS,
				Usage: "override sample.jobs",
			},
			&cli.IntFlag{
				Name:  PERJOB,
				Usage: "override sample.perJob",
			},
			&cli.StringFlag{
				Name:  AOIFILE,
				Usage: "GeoJSON `file`, only patches whose centre falls inside are drawn",
			},
			&cli.StringFlag{
				Name:  DUMP,
				Usage: "write the drawn patches into `dir`",
			},
		},
		Action: func(c *cli.Context) error {
			if n := c.Int(JOBS); n > 0 {
				conf.Sample.Jobs = n
			}
			if n := c.Int(PERJOB); n > 0 {
				conf.Sample.PerJob = n
			}
			s := &Sampler{
				Path:   c.String(CONTAINER),
				Jobs:   conf.Sample.Jobs,
				PerJob: conf.Sample.PerJob,
				Seed:   conf.Sample.Seed,
				Dump:   c.String(DUMP),
			}
			if p := c.String(AOIFILE); p != "" {
				aoi, err := LoadAOI(p)
				if err != nil {
					return err
				}
				s.AOI = aoi
			}
			if s.Dump != "" {
				codec, err := newCodec(conf.Codec.Name)
				if err != nil {
					return err
				}
				s.Codec = codec
			}

			var maps []string
			if m := c.String(MAPNAME); m != "" {
				maps = []string{m}
			}
			samples, err := s.Run(maps)
			if err != nil {
				return err
			}
			for _, sm := range samples {
				fmt.Fprintf(c.App.Writer, "job %d\t%s\t%s\t%s\n", sm.Job, sm.Map, sm.Cell.Key(), strings.Join(sm.Layers, ","))
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a stored map back to raster files and its descriptor",
		Flags: []cli.Flag{
			containerFlag(true),
			mapFlag(true),
			&cli.StringFlag{
				Name:     DEST,
				Aliases:  []string{"d"},
				Usage:    "output `dir`",
				Required: true,
			},
			&cli.StringFlag{
				Name:    LAYER,
				Aliases: []string{"n"},
				Usage:   "export only this layer",
			},
		},
		Action: func(c *cli.Context) error {
			codec, err := newCodec(conf.Codec.Name)
			if err != nil {
				return err
			}
			ct, closeFn, err := openContainer(c.String(CONTAINER), container.ModeRead)
			if err != nil {
				return err
			}
			defer closeFn()

			files, err := ingest.New(ct, codec, ingest.WithLogger(log)).Export(c.String(MAPNAME), c.String(DEST), c.String(LAYER))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(c.App.Writer, f)
			}
			return nil
		},
	}
}
