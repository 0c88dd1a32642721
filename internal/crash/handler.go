package crash

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"guildwarden/internal/logger"
)

// RecoverWithStack 是一个通用的 panic 恢复函数，会记录详细的堆栈信息。
// 需要以 defer 方式调用。
func RecoverWithStack(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, "PANIC")
	}
}

// RecoverWithStackAndExit 用于主程序的 panic 恢复，记录信息后以非零状态码退出，
// 由容器编排系统重启进程。未到期的撤销计时器会在下次启动时从账本重建。
func RecoverWithStackAndExit(moduleName string) {
	if r := recover(); r != nil {
		report(moduleName, r, "FATAL PANIC")
		// 给日志系统一些时间写入文件
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
}

// SafeGoroutine 启动一个带有 panic 恢复的 goroutine
func SafeGoroutine(name string, fn func()) {
	go func() {
		defer RecoverWithStack(fmt.Sprintf("goroutine-%s", name))
		fn()
	}()
}

// Guard runs fn in the current goroutine and converts a panic into an
// error. Timer callbacks use it so that one bad reversal does not kill
// the timer goroutine of the next.
func Guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report(name, r, "PANIC")
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

func report(moduleName string, r interface{}, label string) {
	stack := debug.Stack()

	logger.Errorf("%s in %s: %v", label, moduleName, r)
	logger.Errorf("Stack trace:\n%s", string(stack))

	// 同时输出到标准错误，确保在容器日志中能看到
	fmt.Fprintf(os.Stderr, "[%s] %s - %s: %v\n", label, time.Now().Format("2006-01-02 15:04:05"), moduleName, r)
	fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", string(stack))

	logRuntimeInfo()
}

// logRuntimeInfo 记录运行时信息，帮助调试
func logRuntimeInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := fmt.Sprintf(`
Runtime Information:
- Go version: %s
- Number of CPUs: %d
- Number of goroutines: %d
- Memory stats:
  - Heap allocated: %d KB
  - Heap in use: %d KB
  - Num GC: %d
`,
		runtime.Version(),
		runtime.NumCPU(),
		runtime.NumGoroutine(),
		bToKb(m.HeapAlloc),
		bToKb(m.HeapInuse),
		m.NumGC,
	)

	logger.Error(info)
}

// bToKb 将字节转换为KB
func bToKb(b uint64) uint64 {
	return b / 1024
}

// SetupCrashHandler 设置全局的崩溃处理器，把内存访问错误转换为可恢复的 panic
func SetupCrashHandler() {
	debug.SetPanicOnFault(true)
}
