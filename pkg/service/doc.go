// Package service runs a diacritization model behind an adaptive
// micro-batching scheduler.
//
// A Service owns one batch.Scheduler, the lifecycle state machine around it
// and any plugins that observe or tune it. Transports (HTTP, NATS) call
// Diacritize once per request; the scheduler merges concurrent calls into
// batches for the model.
//
//	svc, err := service.New(service.DefaultConfig(), processor.Echo{},
//	    service.WithLogger(logger),
//	    service.WithValidator(processor.TextValidator{MaxLength: 1024}),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop()
//
//	res, err := svc.Diacritize(ctx, "السلام عليكم")
//
// # Plugins
//
// Plugins are initialized in registration order when the service starts and
// shut down in reverse order when it stops. They receive a BatchController
// so they can retune the batching policy at runtime.
package service
