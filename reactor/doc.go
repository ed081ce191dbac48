// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded main context of the server:
// a poll(2) readiness loop multiplexing socket sources, minute-granularity
// timer buckets, cross-goroutine idle work and termination-signal observers.
//
// Every callback runs on the goroutine calling RunOnce/Run. Only AddIdle and
// Stop may be called from other goroutines; the self-pipe registered as a
// poll source wakes a blocked wait when they do.
package reactor
