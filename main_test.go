package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstore/container"
	"patchstore/geometry"
	"patchstore/index"
	"patchstore/raster"
	"patchstore/raster/geotiff"
)

func setup(t *testing.T) string {
	t.Helper()
	conf = &Conf{}
	require.NoError(t, defaults.Set(conf))
	root := t.TempDir()
	conf.Output.Directory = filepath.Join(root, "output")
	conf.BreakPoint.SaveFilePath = filepath.Join(root, "breakpoint")
	conf.Container.PatchSize = 12
	conf.Container.PatchBorder = 2
	conf.Container.ChunkSize = 7
	conf.Task.Workers = 2
	SafeExitInst = &SafeExit{funcs: map[int]func(){}}
	return root
}

// writeMap 写出 name.tif、name_a.tif 与 name.json
func writeMap(t *testing.T, dir, name string) {
	t.Helper()
	codec := geotiff.New()
	s := geometry.Shape{Rows: 20, Cols: 16, Channels: 1}
	base := raster.New(s)
	layer := raster.New(s)
	for i := range base.Pix {
		base.Pix[i] = byte(i%200 + 1)
	}
	// 只有左上角补丁有效
	for r := 0; r < 6; r++ {
		for c := 0; c < 6; c++ {
			layer.Pix[r*s.Cols+c] = 9
		}
	}
	tf := raster.Affine{A: 1, E: -1, C: 100, F: 200}
	base.CRS = "EPSG:3857"
	base.Transform = &tf
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	require.NoError(t, codec.Encode(filepath.Join(dir, name+".tif"), base))
	require.NoError(t, codec.Encode(filepath.Join(dir, name+"_a.tif"), layer))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"),
		[]byte(`{"shapes":[{"label":"a","points":[[0,0],[4,4]]}]}`), 0o644))
}

func TestOutputPath(t *testing.T) {
	job := NewMapJob(filepath.Join("data", "sheets", "n50.json"))
	assert.Equal(t, "n50", job.Name)
	assert.True(t, filepath.IsAbs(job.Descriptor))
	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, filepath.Join("out", "n50.patches"), job.OutputPath("out", "{name}.patches", 256, now))
	assert.Equal(t, filepath.Join("out", "sheets", "20240309", "n50.patches"),
		job.OutputPath("out", "{dir}/{date}/{name}.patches", 256, now))
	assert.Equal(t, filepath.Join("out", "256", "n50.patches"), job.OutputPath("out", "{patch}/{name}.patches", 256, now))
	assert.Equal(t, "/abs/n50.h5", job.OutputPath("out", "/abs/{name}.h5", 256, now))
}

func TestBreakPointResume(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "task.log")

	bp, err := NewBreakPoint(path, true)
	require.NoError(t, err)
	assert.Equal(t, 0, bp.Count())
	bp.SetSuccessed("/data/a.json")
	bp.SetSuccessed("/data/b.json")
	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())
	bp.SetSuccessed("/data/c.json")

	bp, err = NewBreakPoint(path, true)
	require.NoError(t, err)
	assert.True(t, bp.IsSuccessed("/data/a.json"))
	assert.True(t, bp.IsSuccessed("/data/b.json"))
	assert.False(t, bp.IsSuccessed("/data/c.json"))
	require.NoError(t, bp.Close())

	bp, err = NewBreakPoint(path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, bp.Count())
	require.NoError(t, bp.Close())
}

func TestSafeExitUnregister(t *testing.T) {
	s := &SafeExit{funcs: map[int]func(){}}
	a := s.Register(func() {})
	b := s.Register(func() {})
	assert.NotEqual(t, a, b)
	s.Unregister(a)
	assert.Len(t, s.funcs, 1)
}

func TestFindDescriptors(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.json", "a.json", "a.tif", filepath.Join("sub", "c.JSON")} {
		p := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), os.ModePerm))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
	files, err := findDescriptors(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "sub", "c.JSON"),
	}, files)

	files, err = findDescriptors(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	_, err = findDescriptors(filepath.Join(dir, "a.tif"))
	assert.Error(t, err)
}

const square = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[50,50]}},
	{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}}
]}`

func TestAOIFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(square), 0o644))
	aoi, err := LoadAOI(path)
	require.NoError(t, err)

	cells := []index.Cell{{Row: 0, Col: 0}, {Row: 1, Col: 1}, {Row: 3, Col: 0}, {Row: 0, Col: 5}}
	got := aoi.Filter(cells, 4, raster.Identity())
	assert.Equal(t, []index.Cell{{Row: 0, Col: 0}, {Row: 1, Col: 1}}, got)

	// 平移后只有 (0,0) 的中心 (7,7) 仍在范围内
	got = aoi.Filter(cells, 4, raster.Affine{A: 1, E: 1, C: 5, F: 5})
	assert.Equal(t, []index.Cell{{Row: 0, Col: 0}}, got)

	empty := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, os.WriteFile(empty, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))
	_, err = LoadAOI(empty)
	assert.ErrorIs(t, err, ErrEmptyAOI)
}

func TestConvertTaskPerFile(t *testing.T) {
	root := setup(t)
	in := filepath.Join(root, "in")
	writeMap(t, in, "m1")
	writeMap(t, in, "m2")
	files, err := findDescriptors(in)
	require.NoError(t, err)
	var jobs []MapJob
	for _, f := range files {
		jobs = append(jobs, NewMapJob(f))
	}
	codec, err := newCodec("geotiff")
	require.NoError(t, err)

	bp, err := InitBreakPoint("in", true)
	require.NoError(t, err)
	task := NewConvertTask("in", jobs, "", codec, bp)
	require.NoError(t, task.Run())
	require.NoError(t, bp.Close())
	assert.Len(t, task.Results(), 2)

	for _, name := range []string{"m1", "m2"} {
		c, err := container.Open(filepath.Join(conf.Output.Directory, name+".patches"), container.ModeRead)
		require.NoError(t, err)
		maps, err := c.Maps()
		require.NoError(t, err)
		assert.Equal(t, []string{name}, maps)
		valid, err := c.ValidPatches(name)
		require.NoError(t, err)
		assert.Equal(t, []index.Cell{{Row: 0, Col: 0}}, valid)
		require.NoError(t, c.Close())
	}
	leftovers, err := filepath.Glob(filepath.Join(conf.Output.Directory, ".*.tmp*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// 断点记录中的描述文件被跳过
	bp, err = InitBreakPoint("in", true)
	require.NoError(t, err)
	task = NewConvertTask("in", jobs, "", codec, bp)
	require.NoError(t, task.Run())
	require.NoError(t, bp.Close())
	assert.Empty(t, task.Results())
}

func TestConvertTaskSharedAndSample(t *testing.T) {
	root := setup(t)
	in := filepath.Join(root, "in")
	writeMap(t, in, "m1")
	writeMap(t, in, "m2")
	codec, err := newCodec("geotiff")
	require.NoError(t, err)
	jobs := []MapJob{NewMapJob(filepath.Join(in, "m1.json")), NewMapJob(filepath.Join(in, "m2.json"))}
	out := filepath.Join(root, "all.patches")

	task := NewConvertTask("shared", jobs, out, codec, nil)
	require.NoError(t, task.Run())

	c, closeFn, err := openContainer(out, container.ModeRead)
	require.NoError(t, err)
	maps, err := c.Maps()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, maps)
	text, err := describe(c, "")
	require.NoError(t, err)
	assert.Contains(t, text, "valid patches: 1")
	assert.Contains(t, text, "a: 1 patches")
	closeFn()

	dump := filepath.Join(root, "dump")
	s := &Sampler{Path: out, Jobs: 3, PerJob: 2, Seed: 7, Dump: dump, Codec: codec}
	samples, err := s.Run([]string{"m1"})
	require.NoError(t, err)
	require.Len(t, samples, 6)
	for _, sm := range samples {
		assert.Equal(t, "m1", sm.Map)
		assert.Equal(t, index.Cell{Row: 0, Col: 0}, sm.Cell)
		assert.Equal(t, []string{"a"}, sm.Layers)
		assert.Equal(t, map[string]geometry.Shape{"a": {Rows: 4, Cols: 4, Channels: 1}}, sm.Legends)
		require.Len(t, sm.Files, 2)
	}
	r, err := codec.Decode(samples[0].Files[0])
	require.NoError(t, err)
	assert.Equal(t, geometry.Shape{Rows: 12, Cols: 12, Channels: 1}, r.Shape)
	require.NotNil(t, r.Transform)
	assert.True(t, r.Transform.Equal(raster.Affine{A: 1, E: -1, C: 98, F: 202}, 1e-9))

	s = &Sampler{Path: out, Jobs: 2, PerJob: -1, Seed: 7, Codec: codec}
	samples, err = s.Run(nil)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

// sameNameJobs 两个目录下同名的描述文件
func sameNameJobs(t *testing.T, root string) []MapJob {
	t.Helper()
	writeMap(t, filepath.Join(root, "in1"), "m")
	writeMap(t, filepath.Join(root, "in2"), "m")
	return []MapJob{
		NewMapJob(filepath.Join(root, "in1", "m.json")),
		NewMapJob(filepath.Join(root, "in2", "m.json")),
	}
}

func TestConvertTaskSameNameNotLost(t *testing.T) {
	root := setup(t)
	codec, err := newCodec("geotiff")
	require.NoError(t, err)

	task := NewConvertTask("dup", sameNameJobs(t, root), "", codec, nil)
	assert.Error(t, task.Run())

	results := task.Results()
	require.Len(t, results, 2)
	failed := 0
	for _, r := range results {
		assert.Equal(t, filepath.Join(conf.Output.Directory, "m.patches"), r.Output)
		if r.Err != nil {
			failed++
			assert.ErrorIs(t, r.Err, container.ErrDuplicateMap)
		}
	}
	assert.Equal(t, 1, failed)

	c, err := container.Open(filepath.Join(conf.Output.Directory, "m.patches"), container.ModeRead)
	require.NoError(t, err)
	maps, err := c.Maps()
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, maps)
	require.NoError(t, c.Close())

	leftovers, err := filepath.Glob(filepath.Join(conf.Output.Directory, ".*.tmp*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestConvertTaskSkipExisting(t *testing.T) {
	root := setup(t)
	codec, err := newCodec("geotiff")
	require.NoError(t, err)

	task := NewConvertTask("skip", sameNameJobs(t, root), "", codec, nil)
	task.SkipExisting = true
	require.NoError(t, task.Run())

	results := task.Results()
	require.Len(t, results, 2)
	skipped := 0
	for _, r := range results {
		assert.NoError(t, r.Err)
		if r.Skipped {
			skipped++
			assert.Nil(t, r.Report)
		} else {
			assert.NotNil(t, r.Report)
		}
	}
	assert.Equal(t, 1, skipped)
}
