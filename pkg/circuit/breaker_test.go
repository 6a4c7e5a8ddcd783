package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerCreation(t *testing.T) {
	t.Run("should create circuit breaker", func(t *testing.T) {
		breaker := NewBreaker(Config{
			Name:        "test",
			MaxFailures: 3,
			Timeout:     time.Second,
			HalfOpenMax: 2,
		})

		assert.NotNil(t, breaker)
		assert.Equal(t, StateClosed, breaker.State())
	})
}

func TestCircuitBreakerClosed(t *testing.T) {
	t.Run("should allow requests when closed", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

		err := breaker.Execute(context.Background(), func() error { return nil })

		assert.NoError(t, err)
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("should track failures", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })

		assert.Equal(t, 1, breaker.Failures())
		assert.Equal(t, StateClosed, breaker.State())
	})
}

func TestCircuitBreakerOpen(t *testing.T) {
	t.Run("should open after max failures", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

		for i := 0; i < 3; i++ {
			breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		}

		assert.Equal(t, StateOpen, breaker.State())
	})

	t.Run("should reject requests when open", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 3, Timeout: time.Second})

		for i := 0; i < 3; i++ {
			breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		}

		err := breaker.Execute(context.Background(), func() error { return nil })
		assert.Equal(t, ErrCircuitOpen, err)
	})
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	t.Run("should transition to half-open after timeout", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 3, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		for i := 0; i < 3; i++ {
			breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		}
		assert.Equal(t, StateOpen, breaker.State())

		time.Sleep(150 * time.Millisecond)

		err := breaker.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, err)
	})

	t.Run("should allow half-open requests up to the limit", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 1, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)

		err1 := breaker.Execute(context.Background(), func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		assert.NoError(t, err1, "first half-open request should be allowed")

		err2 := breaker.Execute(context.Background(), func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		assert.NoError(t, err2, "second half-open request should be allowed")
	})

	t.Run("should close after successful half-open", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 1, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)

		for i := 0; i < 2; i++ {
			breaker.Execute(context.Background(), func() error { return nil })
		}

		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("should re-open on failure in half-open", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 1, Timeout: 100 * time.Millisecond, HalfOpenMax: 2})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })

		assert.Equal(t, StateOpen, breaker.State())
	})
}

func TestCircuitBreakerReset(t *testing.T) {
	t.Run("should reset to closed", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 1, Timeout: time.Second})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		assert.Equal(t, StateOpen, breaker.State())

		breaker.Reset()

		assert.Equal(t, StateClosed, breaker.State())
		assert.Equal(t, 0, breaker.Failures())
	})
}

func TestCircuitBreakerForceOpen(t *testing.T) {
	t.Run("should force open", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 10, Timeout: time.Second})

		breaker.ForceOpen()

		assert.Equal(t, StateOpen, breaker.State())
	})
}

func TestCircuitBreakerStateChange(t *testing.T) {
	t.Run("should call state change callback", func(t *testing.T) {
		changes := make([]State, 0)
		var mu sync.Mutex

		breaker := NewBreaker(Config{
			MaxFailures: 1,
			Timeout:     100 * time.Millisecond,
			OnStateChange: func(from, to State) {
				mu.Lock()
				changes = append(changes, to)
				mu.Unlock()
			},
		})

		breaker.Execute(context.Background(), func() error { return errors.New("failure") })
		time.Sleep(150 * time.Millisecond)
		breaker.Execute(context.Background(), func() error { return nil })

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, changes, StateOpen)
	})
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	t.Run("should handle concurrent requests", func(t *testing.T) {
		breaker := NewBreaker(Config{MaxFailures: 100, Timeout: time.Second, HalfOpenMax: 10})

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				breaker.Execute(context.Background(), func() error {
					if time.Now().UnixNano()%2 == 0 {
						return errors.New("failure")
					}
					return nil
				})
			}()
		}
		wg.Wait()
	})
}

func TestBreakerGroupGet(t *testing.T) {
	t.Run("should create breaker on first access", func(t *testing.T) {
		group := NewBreakerGroup(Config{MaxFailures: 3, Timeout: time.Second})

		breaker := group.Get("service-a")
		assert.NotNil(t, breaker)
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("should return same breaker", func(t *testing.T) {
		group := NewBreakerGroup(Config{MaxFailures: 3, Timeout: time.Second})

		b1 := group.Get("service-a")
		b2 := group.Get("service-a")

		assert.Same(t, b1, b2)
	})

	t.Run("should handle concurrent access", func(t *testing.T) {
		group := NewBreakerGroup(Config{MaxFailures: 3, Timeout: time.Second})

		var wg sync.WaitGroup
		breakers := make([]*Breaker, 100)

		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				breakers[idx] = group.Get("service-a")
			}(i)
		}
		wg.Wait()

		for i := 1; i < 100; i++ {
			assert.Same(t, breakers[0], breakers[i])
		}
	})
}

func TestBreakerGroupStates(t *testing.T) {
	t.Run("should return all breaker states", func(t *testing.T) {
		group := NewBreakerGroup(Config{MaxFailures: 1, Timeout: time.Second})

		group.Get("service-a")
		group.Get("service-b")

		group.Execute(context.Background(), "service-a", func() error { return errors.New("failure") })

		states := group.States()
		assert.Len(t, states, 2)
		assert.Equal(t, StateOpen, states["service-a"])
		assert.Equal(t, StateClosed, states["service-b"])
	})
}
