// Package engine wires the orchestrator's subsystems together and provides
// the status and control operations the API serves.
//
// The engine package exists to break an import cycle: the root jascrapers
// package defines Entity, Config and the error taxonomy (imported by job,
// supplier, normalize and the rest) and therefore cannot import those
// packages back. Engine sits above every subsystem and below the
// application layer.
//
// # Building an Engine
//
//	o, err := jascrapers.New(
//	    jascrapers.WithStore(pgStore),
//	    jascrapers.WithConcurrency(16),
//	)
//
//	suppliers := supplier.NewRegistry()
//	suppliers.Register(supplier.Descriptor{Name: "acme", MaxConcurrency: 2}, acmeAdapter)
//
//	eng, err := engine.Build(o, suppliers,
//	    engine.WithSink(pgSink),
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	    engine.WithCron(cron.Entry{Name: "acme-daily", Schedule: "@daily", Supplier: "acme"}),
//	)
//
// Build seals the supplier registry. Start launches the worker pool, the
// scheduler and the cron scheduler; Stop interrupts in-flight jobs back
// to retrying and closes the store.
//
// # Submitting and Controlling Jobs
//
//	j, created, err := eng.Submit(ctx, "acme", map[string]string{"part": "AN3-5A"}, "req-42")
//	j, err = eng.Cancel(ctx, j.ID)
//	records, err := eng.Records(ctx, j.ID)
package engine
