package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const saveChanSize = 16

// InitBreakPoint 打开任务 name 的断点记录，resume 为 false 时清空已有记录
func InitBreakPoint(name string, resume bool) (*BreakPoint, error) {
	bp, err := NewBreakPoint(filepath.Join(conf.BreakPoint.SaveFilePath, fmt.Sprintf("%s.log", name)), resume)
	if err != nil {
		return nil, err
	}
	bp.exitID = SafeExitInst.Register(bp.BreakPointSafeFun)
	return bp, nil
}

// NewBreakPoint 打开断点文件并读取已完成的记录
func NewBreakPoint(path string, resume bool) (*BreakPoint, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	flag := os.O_APPEND | os.O_CREATE | os.O_RDWR
	if !resume {
		flag |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("break point file open is error: %w", err)
	}

	// 获取断点记录
	successMap, err := getBackPoint(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	bp := &BreakPoint{
		file:       file,
		saveChan:   make(chan string, saveChanSize),
		successMap: successMap,
		done:       make(chan struct{}),
	}
	// 开始断点任务
	go bp.start()
	return bp, nil
}

// 初始化断点文件
func getBackPoint(file *os.File) (map[string]struct{}, error) {
	res := make(map[string]struct{})

	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			res[line] = struct{}{}
		}
	}
	return res, sc.Err()
}

// BreakPoint 记录已完成的描述文件，中断后重新执行时跳过
type BreakPoint struct {
	file       *os.File
	saveChan   chan string
	successMap map[string]struct{}
	done       chan struct{}
	exitID     int

	mu      sync.Mutex
	isClose bool
}

func (b *BreakPoint) IsSuccessed(key string) bool {
	_, ok := b.successMap[key]
	return ok
}

func (b *BreakPoint) Count() int {
	return len(b.successMap)
}

func (b *BreakPoint) SetSuccessed(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClose {
		return
	}
	b.saveChan <- key
}

func (b *BreakPoint) start() {
	defer close(b.done)
	log.Debugf("断点记录任务已开始")
	for key := range b.saveChan {
		if _, err := b.file.WriteString(key + "\n"); err != nil {
			log.WithError(err).Errorf("断点记录写入失败")
		}
	}
}

// Close 写完缓冲中的记录后关闭文件
func (b *BreakPoint) Close() error {
	if !b.shutdown() {
		return nil
	}
	if SafeExitInst != nil && b.exitID != 0 {
		SafeExitInst.Unregister(b.exitID)
	}
	return b.file.Close()
}

func (b *BreakPoint) BreakPointSafeFun() {
	if b.shutdown() {
		b.file.Close()
		log.Infof("断点记录任务已安全退出")
	}
}

// shutdown 停止接收记录并等待写完，重复调用返回 false
func (b *BreakPoint) shutdown() bool {
	b.mu.Lock()
	if b.isClose {
		b.mu.Unlock()
		return false
	}
	b.isClose = true
	close(b.saveChan)
	b.mu.Unlock()

	<-b.done
	return true
}
