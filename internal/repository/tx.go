package repository

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrNoTransaction 调用方要求必须处于事务内
var ErrNoTransaction = errors.New("no transaction in context")

type txKey struct{}

type txState struct {
	tx *gorm.DB

	mu          sync.Mutex
	afterCommit []func()
}

// TxManager 事务管理：事务通过 context 传播
type TxManager interface {
	// WithTransaction 执行 fn；ctx 已处于事务内时直接加入
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type txManager struct{ db *gorm.DB }

func NewTxManager(db *gorm.DB) TxManager { return &txManager{db: db} }

func (m *txManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	st := &txState{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st.tx = tx
		return fn(context.WithValue(ctx, txKey{}, st))
	})
	if err != nil {
		return err
	}

	// 提交成功后才执行副作用；回滚则全部丢弃
	st.mu.Lock()
	hooks := st.afterCommit
	st.afterCommit = nil
	st.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	return nil
}

// InTransaction ctx 是否携带事务
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit 注册事务提交后执行的回调
func AfterCommit(ctx context.Context, fn func()) error {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return ErrNoTransaction
	}
	st.mu.Lock()
	st.afterCommit = append(st.afterCommit, fn)
	st.mu.Unlock()
	return nil
}

// conn 优先使用 ctx 中的事务
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.tx != nil {
		return st.tx
	}
	return db.WithContext(ctx)
}
