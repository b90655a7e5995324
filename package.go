// Package shardio provides a single-threaded asynchronous task runtime
// for I/O-bound workloads that shard across independent instances (one
// executor per core) rather than parallelizing within one process.
//
// Key components:
//
//   - Task: a suspendable unit of work backed by a coroutine. A task
//     occupies a single allocation holding its state, polling routine,
//     and output slot. Tasks suspend at explicit points (I/O, sleeps,
//     joins, sync primitives) and are resumed by the executor.
//
//   - Executor: the per-instance run loop. It owns the ready queue and
//     the live-task registry, polls ready tasks in FIFO order, and
//     parks on the reactor when nothing is runnable. Exactly one
//     goroutine may drive an Executor; task state needs no locking by
//     construction.
//
//   - Waker: the wake channel a suspended task hands to whatever will
//     make it runnable again. Duplicate wakes collapse to a single
//     ready-queue entry, and wakers from a previous suspension cycle
//     are inert.
//
//   - Reactor: the pluggable I/O backend. Submit stages an operation
//     without blocking, PollCompletions retrieves completed operations
//     in batch, and tokens correlate completions back to waiting
//     tasks. RingReactor is the io_uring reference backend on Linux;
//     ChanReactor dispatches operations to a bounded worker pool and
//     works everywhere.
//
//   - Synchronization primitives: Mutex, WaitGroup, Semaphore, Group,
//     and single-flight deduplication, all built on the waker
//     machinery so they never block the executor goroutine.
//
// Computations must not suspend from inside deferred functions: a
// cancelled task unwinds through its defers, and there is nothing left
// to resume it.
package shardio
