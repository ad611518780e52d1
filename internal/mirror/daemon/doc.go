// Package daemon runs the local mirror: it watches the sync root and keeps
// the metadata store in line with it.
//
// # Architecture
//
// The daemon wires together:
//
//   - Watcher: recursive fsnotify watches producing Created, Modified,
//     Deleted and Moved notifications
//   - Reconciler: full sweeps comparing disk against a store snapshot
//   - Bridge: the dispatch queue whose single worker applies every
//     notification through the translator
//
// Both producers submit to the same bridge, so store mutations are strictly
// serial no matter where a notification came from:
//
//	d, err := daemon.New(ctx, store, content.NewHasher(afero.NewOsFs(), 0), alerter, cfg)
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    <-d.Ready()
//	    log.Println("initial sweep applied")
//	}()
//	return d.Start(ctx)
//
// # Healing
//
// Live events can be lost: the kernel queue overflows, a notification is
// dropped while paused, a file vanishes mid-hash. None of that is retried.
// The periodic sweep, the sweep after Resume, and the sweep scheduled on a
// watcher error each bring the store back to what is on disk.
package daemon
