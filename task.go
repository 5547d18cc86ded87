package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"patchstore/container"
	"patchstore/ingest"
	"patchstore/raster"
)

// openContainer 按配置打开容器，容器关闭前在安全退出中登记
func openContainer(path string, mode container.Mode) (*container.Container, func(), error) {
	c, err := container.Open(path, mode,
		container.WithCompression(conf.Container.Compression),
		container.WithPatchSize(conf.Container.PatchSize),
		container.WithPatchBorder(conf.Container.PatchBorder),
		container.WithChunkSize(conf.Container.ChunkSize),
		container.WithLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}
	id := SafeExitInst.Register(func() { c.Close() })
	closeFn := func() {
		SafeExitInst.Unregister(id)
		if err := c.Close(); err != nil && !errors.Is(err, container.ErrClosed) {
			log.WithField("file", path).WithError(err).Error("container close failed")
		}
	}
	return c, closeFn, nil
}

// Result 单个描述文件的导入结果，Skipped 表示输出已存在而跳过
type Result struct {
	Job     MapJob
	Output  string
	Report  *ingest.Report
	Skipped bool
	Err     error
}

// ConvertTask 批量导入任务
type ConvertTask struct {
	ID     string
	Name   string
	Jobs   []MapJob
	Output string
	// SkipExisting 为 true 时跳过已存在的输出容器，否则追加
	SkipExisting bool
	Total        int64
	Bar          *pb.ProgressBar

	codec       raster.Codec
	bp          *BreakPoint
	workerCount int
	wg          sync.WaitGroup
	abort       chan struct{}
	abortOnce   sync.Once
	workers     chan struct{}

	mu      sync.Mutex
	results []Result
	outputs map[string]*sync.Mutex
}

// NewConvertTask 创建导入任务，output 非空时全部地图写入同一个容器
func NewConvertTask(name string, jobs []MapJob, output string, codec raster.Codec, bp *BreakPoint) *ConvertTask {
	id, _ := shortid.Generate()

	task := &ConvertTask{
		ID:          id,
		Name:        name,
		Jobs:        jobs,
		Output:      output,
		Total:       int64(len(jobs)),
		codec:       codec,
		bp:          bp,
		workerCount: conf.Task.Workers,
		outputs:     map[string]*sync.Mutex{},
	}
	if output != "" {
		task.workerCount = 1
	}
	task.abort = make(chan struct{})
	task.workers = make(chan struct{}, task.workerCount)
	return task
}

// AbortFun 结束任务，已开始的导入会继续完成
func (task *ConvertTask) AbortFun() {
	task.abortOnce.Do(func() { close(task.abort) })
}

// Results 按完成顺序返回结果
func (task *ConvertTask) Results() []Result {
	task.mu.Lock()
	defer task.mu.Unlock()
	return append([]Result(nil), task.results...)
}

func (task *ConvertTask) record(r Result) {
	task.mu.Lock()
	task.results = append(task.results, r)
	task.mu.Unlock()
	if r.Err == nil && task.bp != nil {
		task.bp.SetSuccessed(r.Job.Key())
	}
}

// Run 开始导入
func (task *ConvertTask) Run() error {
	start := time.Now()
	log.WithField("task", task.ID).Infof("task %s starting, %d descriptors, %d workers", task.Name, task.Total, task.workerCount)

	task.Bar = pb.New64(task.Total).Prefix(fmt.Sprintf("Task %s : ", task.ID)).Postfix("\n")
	task.Bar.SetRefreshRate(time.Second)
	task.Bar.Output = os.Stderr
	task.Bar.Start()

	var shared *ingest.Pipeline
	if task.Output != "" {
		c, closeFn, err := openContainer(task.Output, container.ModeAppend)
		if err != nil {
			task.Bar.Finish()
			return err
		}
		defer closeFn()
		shared = task.pipeline(c)
	}

loop:
	for _, job := range task.Jobs {
		// 如果已经在成功列表里
		if task.bp != nil && task.bp.IsSuccessed(job.Key()) {
			log.WithField("file", job.Descriptor).Info("descriptor already imported, skipping")
			task.Bar.Increment()
			continue
		}
		select {
		case task.workers <- struct{}{}:
			task.wg.Add(1)
			go task.convert(job, shared)
		case <-task.abort:
			log.Infof("Task %s got canceled.", task.Name)
			break loop
		}
	}
	// 等待全部导入结束
	task.wg.Wait()
	task.Bar.FinishPrint(fmt.Sprintf("Task %s finished in %.3fs ~", task.ID, time.Since(start).Seconds()))

	failed := 0
	for _, r := range task.Results() {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d descriptors failed", failed, len(task.Results()))
	}
	return nil
}

func (task *ConvertTask) pipeline(c *container.Container) *ingest.Pipeline {
	return ingest.New(c, task.codec, ingest.WithLogger(log), ingest.WithEncoding(conf.Codec.Encoding))
}

func (task *ConvertTask) convert(job MapJob, shared *ingest.Pipeline) {
	defer func() {
		task.Bar.Increment()
		task.wg.Done()
		<-task.workers
	}()

	entry := log.WithFields(logrus.Fields{"map": job.Name, "file": job.Descriptor})
	res := Result{Job: job, Output: task.Output}
	if shared != nil {
		res.Report, res.Err = shared.AddImage(filepath.Base(job.Descriptor), job.Folder, job.Name)
	} else {
		res.Output = job.OutputPath(conf.Output.Directory, conf.Output.Layout, conf.Container.PatchSize, time.Now())
		res.Report, res.Skipped, res.Err = task.convertToFile(job, res.Output)
	}
	if res.Skipped {
		entry.WithField("output", res.Output).Info("output exists, skipping")
	}
	if res.Err != nil {
		entry.WithError(res.Err).Error("descriptor import failed")
	}
	task.record(res)
}

// lockOutput 同一输出容器上的任务串行执行
func (task *ConvertTask) lockOutput(output string) func() {
	task.mu.Lock()
	key := filepath.Clean(output)
	l, ok := task.outputs[key]
	if !ok {
		l = &sync.Mutex{}
		task.outputs[key] = l
	}
	task.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// convertToFile 新容器先写入同目录的临时文件，成功后改名；已存在的容器追加或跳过
func (task *ConvertTask) convertToFile(job MapJob, output string) (*ingest.Report, bool, error) {
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return nil, false, err
	}
	unlock := task.lockOutput(output)
	defer unlock()

	if exists(output) {
		if task.SkipExisting {
			return nil, true, nil
		}
		report, err := task.importInto(job, output, container.ModeAppend)
		return report, false, err
	}

	tmp := filepath.Join(filepath.Dir(output), fmt.Sprintf(".%s.tmp", uuid.NewString()))
	report, err := task.importInto(job, tmp, container.ModeWrite)
	if err != nil {
		removeContainer(tmp)
		return nil, false, err
	}
	if err := os.Rename(tmp, output); err != nil {
		removeContainer(tmp)
		return nil, false, err
	}
	return report, false, nil
}

func (task *ConvertTask) importInto(job MapJob, path string, mode container.Mode) (*ingest.Report, error) {
	c, closeFn, err := openContainer(path, mode)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return task.pipeline(c).AddImage(filepath.Base(job.Descriptor), job.Folder, job.Name)
}

// removeContainer 删除容器及 sqlite 的 wal/shm 文件
func removeContainer(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		os.Remove(p)
	}
}
