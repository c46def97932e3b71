package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"
)

// Action はリトライループで取るべきアクションを表す
type Action int

const (
	Abort   Action = iota // 処理を中止
	Wait                  // 待機して再試行
	Execute               // 処理を実行
)

// Config はリトライの設定を保持する
type Config struct {
	Attempts     int           `toml:"attempts"`
	BaseInterval time.Duration `toml:"base_interval"`
	MaxBackoff   time.Duration `toml:"max_backoff"`
}

// DefaultConfig はデフォルトのリトライ設定を返す
func DefaultConfig() Config {
	return Config{
		Attempts:     4,
		BaseInterval: 100 * time.Millisecond,
		MaxBackoff:   2 * time.Second,
	}
}

// Backoff は指数バックオフ + ジッターを計算する
func Backoff(attempt int, baseInterval, maxBackoff time.Duration) time.Duration {
	d := baseInterval << attempt
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	// +/-10% jitter
	return time.Duration(int64(d) * int64(9+rand.Intn(3)) / 10)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error  { return e.err }

// Permanent はリトライしてはいけないエラーとして err を包む
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ShouldRetry はエラーに基づいてリトライすべきか判定する
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var p *permanentError
	return !errors.As(err, &p)
}

// Executor はリトライ可能な処理を実行するインターフェース
type Executor interface {
	// DetermineAction は次に取るべきアクションを決定する
	DetermineAction() Action
	// Execute は処理を実行し、成功またはリトライ不可の場合trueを返す
	Execute(attempt int) bool
}

// Run はExecutorを使用してリトライループを実行する
func Run(cfg Config, executor Executor) {
	for i := 0; i < cfg.Attempts; i++ {
		switch executor.DetermineAction() {
		case Abort:
			return
		case Wait:
			time.Sleep(Backoff(i, cfg.BaseInterval, cfg.MaxBackoff))
			continue
		case Execute:
			if executor.Execute(i) {
				return
			}
		}
	}
}

// funcExecutor は関数呼び出しをExecutorとして扱う
type funcExecutor struct {
	ctx context.Context
	cfg Config
	fn  func(ctx context.Context) error
	err error
}

func (f *funcExecutor) DetermineAction() Action {
	if f.ctx.Err() != nil {
		if f.err == nil {
			f.err = f.ctx.Err()
		}
		return Abort
	}
	return Execute
}

func (f *funcExecutor) Execute(attempt int) bool {
	f.err = f.fn(f.ctx)
	if !ShouldRetry(f.err) {
		return true
	}

	select {
	case <-f.ctx.Done():
		return true
	case <-time.After(Backoff(attempt, f.cfg.BaseInterval, f.cfg.MaxBackoff)):
	}
	return false
}

// Do は fn が成功するかリトライ不可のエラーを返すまで最大 cfg.Attempts 回呼び出す
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	executor := &funcExecutor{ctx: ctx, cfg: cfg, fn: fn}
	Run(cfg, executor)

	if p, ok := executor.err.(*permanentError); ok {
		return p.err
	}
	return executor.err
}
