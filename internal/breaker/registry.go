package breaker

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUnknownProvider 未注册的供应商
var ErrUnknownProvider = errors.New("unknown mail provider")

type Option func(*Registry)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStateListener 状态变化回调，在日志之后调用
func WithStateListener(fn func(name string, from, to State)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// Registry 以供应商名称为键的熔断器集合，由 bootstrap 注入，不使用全局变量
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	now      func() time.Time
	onChange func(name string, from, to State)
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{breakers: make(map[string]*Breaker), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate 返回已存在的熔断器；首次创建时使用 s
func (r *Registry) GetOrCreate(name string, s Settings) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, s, r.now, r.onChange)
	r.breakers[name] = b
	return b
}

func (r *Registry) Get(name string) (*Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return b, nil
}

// Reset 手动关闭熔断器，强制打开状态同样适用
func (r *Registry) Reset(name string) error {
	b, err := r.Get(name)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	return out
}
