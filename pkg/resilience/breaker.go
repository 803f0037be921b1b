package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen 熔断器处于打开状态，调用被直接拒绝
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断配置。FailureThreshold 为 0 时首次失败即打开；
// OpenTimeout 为 0 时打开后的下一次调用立即进入半开
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// CircuitBreaker 针对单个逻辑外部端点的熔断器。
// 每个端点一个实例，由调用方注入；锁只保护状态读写，不跨越网络调用。
type CircuitBreaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	clock Clock

	state         BreakerState
	failureCount  int
	lastFailureAt time.Time
	probeInFlight bool
}

func NewCircuitBreaker(cfg BreakerConfig, clock Clock) *CircuitBreaker {
	if clock == nil {
		clock = SystemClock()
	}
	return &CircuitBreaker{cfg: cfg, clock: clock, state: StateClosed}
}

// Allow 在发起一次调用前询问熔断器。返回 ErrCircuitOpen 表示调用被拒绝，
// 此时不要调用 RecordSuccess/RecordFailure。
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailureAt) >= b.cfg.OpenTimeout {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		// 半开只放行一个探测调用
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess 记录一次被放行调用的成功结果
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure 记录一次被放行调用的失败结果
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailureAt = now
		b.probeInFlight = false
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.lastFailureAt = now
		}
	}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset 强制回到关闭状态（进程重启/停机时使用；熔断状态不持久化）
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.probeInFlight = false
}
