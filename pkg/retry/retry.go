package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMaxAttemptsExceeded は最大試行回数を超えた場合のエラー
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
)

// Policy は一時的な失敗に対する有界リトライポリシーです
// 試行回数とバックオフは設定から与えられ、暗黙のリトライループは持ちません
// 従量課金のリモートAPIに対して黙って再試行し続けないための仕組みです
type Policy struct {
	// MaxAttempts は初回を含む最大試行回数
	MaxAttempts int

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff time.Duration

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff time.Duration
}

// NewPolicy は新しいPolicyを作成します
func NewPolicy(maxAttempts int, baseBackoff, maxBackoff time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
		MaxBackoff:  maxBackoff,
	}
}

// Do はopを実行し、retryableがtrueを返すエラーに対してExponential Backoffで再試行します
// retryableがfalseを返すエラーは即座にそのまま返します
// 最大試行回数を使い切った場合はErrMaxAttemptsExceededで最後のエラーをラップして返します
// 劣化した結果や空の結果を黙って返すことはありません
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential Backoff
			backoff := time.Duration(math.Pow(2, float64(attempt-2))) * p.BaseBackoff
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				// バックオフ後、再試行
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			// リトライ不能なエラーは即座に呼び出し元へ
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, p.MaxAttempts, lastErr)
}
