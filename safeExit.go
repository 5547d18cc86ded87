package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = &SafeExit{funcs: map[int]func(){}}
	go SafeExitInst.ListenSignal()
}

// SafeExit 收到退出信号时关闭打开的容器并落盘断点记录
type SafeExit struct {
	funcs map[int]func()
	order []int
	next  int
	mu    sync.Mutex
}

// Register 注册退出回调，返回的 id 用于注销
func (s *SafeExit) Register(f func()) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.funcs[s.next] = f
	s.order = append(s.order, s.next)
	return s.next
}

// Unregister 任务正常结束后注销回调
func (s *SafeExit) Unregister(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.funcs, id)
}

// exit 按注册的逆序执行回调
func (s *SafeExit) exit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		if f, ok := s.funcs[s.order[i]]; ok {
			f()
		}
	}
	os.Exit(code)
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		fmt.Fprintf(os.Stderr, "收到系统信号 %s, 正在关闭容器, 请稍后\n", sig)
		s.exit(1)
	}
}
