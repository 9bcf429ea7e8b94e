package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/signalnine/shardrun/internal/device"
)

// ShardingWorkQueue keeps one task FIFO per device group. Every device in a
// group gets its own pool of workers draining that group's FIFO, and all
// pools report to one result FIFO. A task added for a group only ever runs
// on a member of that group.
type ShardingWorkQueue struct {
	results     *queue[Outcome]
	shards      map[*device.Group]*queue[Task]
	groups      []*device.Group
	queues      []*WorkQueue
	outstanding atomic.Int64
}

func NewShardingWorkQueue(ctx context.Context, groups []*device.Group, workersPerDevice int) *ShardingWorkQueue {
	q := &ShardingWorkQueue{
		results: newQueue[Outcome](),
		shards:  map[*device.Group]*queue[Task]{},
		groups:  groups,
	}
	for _, g := range groups {
		tasks := newQueue[Task]()
		q.shards[g] = tasks
		for _, d := range g.Devices {
			q.queues = append(q.queues, newWorkQueue(ctx, workersPerDevice, d, tasks, q.results))
		}
	}
	return q
}

func (q *ShardingWorkQueue) AddTask(g *device.Group, t Task) error {
	tasks, ok := q.shards[g]
	if !ok {
		return fmt.Errorf("no work queue for device group %s", g)
	}
	q.outstanding.Add(1)
	tasks.put(t)
	return nil
}

func (q *ShardingWorkQueue) GetResult() (any, error) {
	o, _ := q.results.get()
	if o.Err != nil {
		return nil, o.Err
	}
	q.outstanding.Add(-1)
	return o.Value, nil
}

func (q *ShardingWorkQueue) Finished() bool {
	return q.outstanding.Load() == 0
}

func (q *ShardingWorkQueue) Terminate() {
	for _, tasks := range q.shards {
		tasks.close()
	}
}

func (q *ShardingWorkQueue) Join() {
	for _, wq := range q.queues {
		wq.Join()
	}
}

func (q *ShardingWorkQueue) Snapshot() Snapshot {
	s := Snapshot{Remaining: int(q.outstanding.Load())}
	for _, wq := range q.queues {
		for _, w := range wq.workers {
			s.Workers = append(s.Workers, workerStatus(w))
		}
	}
	for _, g := range q.groups {
		s.Shards = append(s.Shards, ShardStatus{Group: g.String(), Pending: q.shards[g].len()})
	}
	return s
}
