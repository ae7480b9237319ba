// Package batch provides an adaptive micro-batching scheduler.
//
// A Scheduler accepts individual items from many concurrent callers, groups
// them into batches bounded by a size limit and a wait window, hands each
// batch to a Processor in a single call, and resolves every caller with the
// result at its own index.
//
// # Usage
//
//	proc := batch.ProcessorFunc[string, string](func(ctx context.Context, texts []string) ([]string, error) {
//	    return model.Generate(ctx, texts)
//	})
//
//	s, err := batch.New[string, string](batch.DefaultConfig(), proc)
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	defer s.Close(context.Background())
//
//	out, err := s.Submit(ctx, "some text")
//
// # Collection cycle
//
// The loop is idle until the first item of a cycle arrives. That arrival
// starts the wait window: the scheduler keeps taking items until the batch
// holds MaxBatchSize items or MaxWait has elapsed since the first one, then
// dispatches. Idle periods cost nothing and a lone item is never delayed by
// more than MaxWait. Cycles are strictly sequential: items that arrive while
// a batch is being processed start the next cycle.
//
// # Failure policy
//
// Items merged into one Processor call cannot be told apart when that call
// fails, so a Processor error fails every item of the batch with the same
// *ProcessingError. Nothing is retried. A Processor that returns a result
// slice of the wrong length violates its contract; every item of that batch
// fails with ErrResultMismatch.
//
// # Cancellation
//
// A caller whose context ends before resolution gets ctx.Err() back. If its
// item has not joined a batch yet, the item is dropped when the loop reaches
// it. Once in a batch, the item is processed and the result discarded; a
// batch never shrinks after it is formed.
package batch
