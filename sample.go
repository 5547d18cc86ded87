package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"patchstore/container"
	"patchstore/geometry"
	"patchstore/index"
	"patchstore/raster"
)

// Sample 一个被抽中的补丁
type Sample struct {
	Job    int
	Map    string
	Cell   index.Cell
	Layers []string
	// Legends 有标注的图层对应的图例尺寸
	Legends map[string]geometry.Shape
	Files   []string
}

type candidate struct {
	Map  string
	Cell index.Cell
}

// Sampler 多个任务各自打开只读句柄，从有效补丁中随机抽取
type Sampler struct {
	Path   string
	Jobs   int
	PerJob int
	// Seed 为 0 时使用随机种子
	Seed  int64
	AOI   *AOI
	Dump  string
	Codec raster.Codec
}

// Run 抽样，maps 为空时使用全部地图
func (s *Sampler) Run(maps []string) ([]Sample, error) {
	candidates, err := s.candidates(maps)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.WithField("file", s.Path).Warn("no valid patch to sample")
		return nil, nil
	}

	jobs := max(s.Jobs, 1)
	results := make([][]Sample, jobs)
	errs := make([]error, jobs)
	var wg sync.WaitGroup
	for j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[j], errs[j] = s.job(j, candidates)
		}()
	}
	wg.Wait()

	var samples []Sample
	for j := range jobs {
		if errs[j] != nil {
			return nil, fmt.Errorf("job %d: %w", j, errs[j])
		}
		samples = append(samples, results[j]...)
	}
	return samples, nil
}

// candidates 汇总可抽取的补丁，设置了 AOI 时没有仿射变换的地图被跳过
func (s *Sampler) candidates(maps []string) ([]candidate, error) {
	c, err := container.Open(s.Path, container.ModeRead, container.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if len(maps) == 0 {
		if maps, err = c.Maps(); err != nil {
			return nil, err
		}
	}
	tile := c.Config().TileSize()
	var res []candidate
	for _, m := range maps {
		cells, err := c.ValidPatches(m)
		if err != nil {
			return nil, err
		}
		if s.AOI != nil {
			t, err := c.Transform(m, container.BaseLayer)
			if err != nil {
				return nil, err
			}
			if t == nil {
				log.WithField("map", m).Warn("map has no transform, skipped by aoi")
				continue
			}
			cells = s.AOI.Filter(cells, tile, *t)
		}
		for _, cell := range cells {
			res = append(res, candidate{Map: m, Cell: cell})
		}
	}
	return res, nil
}

func (s *Sampler) rand(job int) *rand.Rand {
	if s.Seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(s.Seed), uint64(job)))
}

// job 用独立的只读句柄读取抽中补丁的底图与有效图层
func (s *Sampler) job(j int, candidates []candidate) ([]Sample, error) {
	c, err := container.Open(s.Path, container.ModeRead, container.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	r := s.rand(j)
	perJob := max(s.PerJob, 0)
	samples := make([]Sample, 0, perJob)
	for range perJob {
		cand := candidates[r.IntN(len(candidates))]
		layers, err := c.LayersForPatch(cand.Map, cand.Cell.Row, cand.Cell.Col)
		if err != nil {
			return nil, err
		}
		sm := Sample{Job: j, Map: cand.Map, Cell: cand.Cell, Layers: layers, Legends: map[string]geometry.Shape{}}
		for _, l := range layers {
			legend, ok, err := c.ReadLegend(cand.Map, l)
			if err != nil {
				log.WithFields(logrus.Fields{"map": cand.Map, "layer": l}).WithError(err).Warn("legend unavailable")
				continue
			}
			if ok {
				sm.Legends[l] = legend.Shape
			}
		}
		for _, l := range append([]string{container.BaseLayer}, layers...) {
			buf, err := c.ReadPatch(cand.Map, l, cand.Cell.Row, cand.Cell.Col)
			if err != nil {
				return nil, err
			}
			if s.Dump == "" {
				continue
			}
			file, err := s.dump(c, cand, l, j, len(samples), &raster.Raster{Buffer: buf})
			if err != nil {
				return nil, err
			}
			sm.Files = append(sm.Files, file)
		}
		log.WithFields(logrus.Fields{"map": cand.Map, "patch": cand.Cell.Key(), "job": j}).Debug("patch sampled")
		samples = append(samples, sm)
	}
	return samples, nil
}

// dump 写出补丁，坐标参考按补丁原点平移
func (s *Sampler) dump(c *container.Container, cand candidate, layer string, job, n int, r *raster.Raster) (string, error) {
	dir := filepath.Join(s.Dump, fmt.Sprintf("job%d", job))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	crs, err := c.CRS(cand.Map, container.BaseLayer)
	if err != nil {
		return "", err
	}
	r.CRS = crs
	t, err := c.Transform(cand.Map, container.BaseLayer)
	if err != nil {
		return "", err
	}
	if t != nil {
		cfg := c.Config()
		tile := cfg.TileSize()
		moved := t.Translate(float64(cand.Cell.Col*tile-cfg.PatchBorder), float64(cand.Cell.Row*tile-cfg.PatchBorder))
		r.Transform = &moved
	}

	ext := ".tif"
	if exts := s.Codec.Extensions(); len(exts) > 0 {
		ext = exts[0]
	}
	file := filepath.Join(dir, fmt.Sprintf("%03d_%s_%s_%s%s", n, cand.Map, cand.Cell.Key(), layer, ext))
	return file, s.Codec.Encode(file, r)
}
