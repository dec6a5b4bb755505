package kernel

// job.go implements the scheduler's unit of work: a Job pairs a thunk with
// the ExecutionContext it must run under. Jobs are pooled with a free-list,
// the same allocation discipline eventloop uses for its internal queue
// nodes, to keep steady-state scheduling allocation-free.

type job struct {
	ctx  ExecutionContext
	run  func()
	next *job // intrusive link, used both in the queue and the free-list
}

// jobPool is a simple free-list of *job, avoiding an allocation for every
// enqueue once the pool has warmed up.
type jobPool struct {
	free *job
}

func (p *jobPool) get(ctx ExecutionContext, run func()) *job {
	if p.free != nil {
		j := p.free
		p.free = j.next
		j.ctx, j.run, j.next = ctx, run, nil
		return j
	}
	return &job{ctx: ctx, run: run}
}

func (p *jobPool) put(j *job) {
	j.run = nil
	j.ctx = ExecutionContext{}
	j.next = p.free
	p.free = j
}
