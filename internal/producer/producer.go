// Package producer generates batches of simulation work, gated by live queue
// depth so an unbounded producer can never overrun a queue's capacity.
package producer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/lbedner/sector-7g/internal/dispatch"
)

type Producer struct {
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // per-queue, throttles gate-trip warnings
}

func New(d *dispatch.Dispatcher) *Producer {
	return &Producer{dispatcher: d, limiters: map[string]*rate.Limiter{}}
}

// GenerateBatch enqueues a uniformly random count in [min, max] of task onto
// queue. If the queue's live depth exceeds depthCap it produces nothing and
// returns 0. The depth is read immediately before producing, never cached:
// it changes continuously and the gate must see the current value.
//
// Each call touches only its own queue, so one saturated producer can never
// starve another queue's producer.
func (p *Producer) GenerateBatch(ctx context.Context, queue, task string, min, max, depthCap int) (int, error) {
	depth, err := p.dispatcher.QueueDepth(ctx, queue)
	if err != nil {
		return 0, fmt.Errorf("read depth for %s: %w", queue, err)
	}
	if depth > depthCap {
		// Tripping every tick while saturated is expected; log it at most
		// once a minute per queue.
		if p.limiter(queue).Allow() {
			log.Warn().Str("queue", queue).Int("depth", depth).Int("cap", depthCap).
				Msg("backpressure gate tripped, skipping batch")
		}
		return 0, nil
	}

	count := min
	if max > min {
		count += rand.Intn(max - min + 1)
	}
	enqueued := 0
	for i := 0; i < count; i++ {
		if _, err := p.dispatcher.Enqueue(ctx, task, nil, queue, 0); err != nil {
			return enqueued, fmt.Errorf("produce %s onto %s: %w", task, queue, err)
		}
		enqueued++
	}
	log.Info().Str("queue", queue).Str("task", task).Int("count", enqueued).
		Int("depth", depth).Msg("simulation batch enqueued")
	return enqueued, nil
}

func (p *Producer) limiter(queue string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[queue]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute), 1)
		p.limiters[queue] = l
	}
	return l
}
