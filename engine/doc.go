// # Building an Engine
//
//	node, err := crank.New(
//	    crank.WithStore(pgStore),
//	    crank.WithConcurrency(20),
//	    crank.WithWorkerID(7),
//	)
//
//	client, err := rpc.Dial(ctx, "ws://validator:8899/rpc")
//
//	eng, err := engine.Build(node, client,
//	    engine.WithSigner(signer),
//	    engine.WithExtension(auditHook),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithQueueConfig(worker.QueueConfig{
//	        Queue:     hot,
//	        RateLimit: 5,
//	    }),
//	)
//
// # Running
//
// Start scans the queue program once, subscribes the observer to ledger
// notifications and starts the worker pool. Stop reverses the order.
// When a transport reconnects and notifications may have been missed,
// call [Engine.Resync].
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// # Options
//
//   - [WithSigner] sets the fee payer of crank batches (required)
//   - [WithStore] records attempts somewhere other than the node's store
//   - [WithCrankset] shares the crankable set, e.g. through Redis
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the attempt chain
//   - [WithQueueConfig] overrides per-queue attempt rates
//   - [WithTracerProvider] and [WithMeterProvider] replace the global OTel providers
package engine
