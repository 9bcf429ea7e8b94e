package runner

// Snapshot is a point-in-time view of a queue for progress displays.
type Snapshot struct {
	Remaining int
	Workers   []WorkerStatus
	Shards    []ShardStatus
}

type WorkerStatus struct {
	Worker string
	Status string
}

type ShardStatus struct {
	Group   string
	Pending int
}

// Snapshotter is implemented by WorkQueue and ShardingWorkQueue.
type Snapshotter interface {
	Snapshot() Snapshot
}

func workerStatus(w *Worker) WorkerStatus {
	return WorkerStatus{Worker: w.name(), Status: w.Status()}
}
