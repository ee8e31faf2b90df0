// Package controller provides the Controller Registry for the SCADA hub.
//
// The registry is the single owner of every controller's live state. The
// simulation loop and the control-plane handlers only ever reach state
// through it, and it is the only component that holds a lock over it.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                      Controller Registry                     │
//	│                                                              │
//	│  ┌──────────────────┐   ┌──────────────────┐                 │
//	│  │     Registry     │   │    Persister     │                 │
//	│  │  (registry.go)   │──▶│  (persister.go)  │                 │
//	│  │                  │   │                  │                 │
//	│  │ • atomic updates │   │ • version order  │                 │
//	│  │ • snapshots      │   │ • one writer     │                 │
//	│  └──────────────────┘   └────────┬─────────┘                 │
//	│                                  │                           │
//	└──────────────────────────────────│───────────────────────────┘
//	                                   ▼
//	          ┌────────────────┬────────────────┬────────────┐
//	          │   FileStore    │  SQLiteStore   │  NopStore  │
//	          │ (JSON on disk) │ (controllers)  │            │
//	          └────────────────┴────────────────┴────────────┘
//
// # Key Types
//
//   - State: temperature, level and enabled flag of one controller
//   - Snapshot: a versioned, name-ordered copy of the whole registry
//   - Store: load/save boundary for durable storage
//
// # Usage
//
//	initial, err := store.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	reg := controller.NewRegistry(controller.Seed(initial, cfg.Simulation.DefaultControllers))
//
//	snap, err := reg.Update("controller 1", func(s *controller.State) {
//	    s.Enabled = false
//	})
//	if errors.Is(err, controller.ErrNotFound) {
//	    // 404
//	}
//	persister.Submit(snap) // written by the background writer
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. A mutation is applied
// under one write lock, so readers see either all of it or none of it.
// Saving and broadcasting always work from a Snapshot taken after the lock
// has been released.
package controller
