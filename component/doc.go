// Package component provides the media component model: providers that hand
// out components by name, the component state machine, and the ports through
// which components exchange buffers.
//
// # Overview
//
// A Component is a named processing unit (a camera source, a scaler, a file
// writer) with a set of typed ports and a control tree. Concrete components
// embed *Base, which implements the state machine, port bookkeeping and
// buffer negotiation, and plug their behaviour in through Hooks.
//
// Components come from providers. The Registry holds providers in
// registration order and answers lookups by asking each in turn:
//
//	registry := component.NewRegistry(deps)
//	_ = registry.Register(builtin)      // *StaticProvider
//	cam, err := registry.Instantiate("pattern")
//
// A provider that fails or panics is logged, counted and skipped. When no
// provider has the component the lookup returns errors.ErrNotFound, or
// errors.ErrExternalFault if at least one provider failed along the way.
//
// # State Machine
//
//	UNLOADED <-> LOADED <-> WAIT_FOR_RESOURCES -> IDLE <-> EXECUTING <-> PAUSED
//	                 ^                                |                    |
//	                 +--------------------------------+                    |
//	                                    IDLE <-----------------------------+
//
// SetState walks the shortest legal path to the target, one step at a time,
// running the matching hook at each step. A hook error leaves the component
// in the state it was leaving; a fatal error or a panic moves it to INVALID,
// from which there is no way out. Only one transition runs at a time; a
// second request fails with errors.ErrTransitionInFlight.
//
// # Ports and Negotiation
//
// Ports are created with AddPort while the component is UNLOADED or LOADED
// and linked with Connect. On LOADED -> WAIT_FOR_RESOURCES each enabled,
// connected port waits for its peer to reach LOADED and then commits to the
// larger of both sides' buffer count and size. WAIT_FOR_RESOURCES -> IDLE
// succeeds only when every enabled port is populated; otherwise the
// component falls back to LOADED.
//
// Each connection owns an arena of equally sized buffers. The producer
// Acquires a buffer, fills it and Sends it; the consumer Receives, reads and
// Releases it. Every buffer has exactly one owner at a time and operations
// by anyone else fail with errors.ErrNotOwner.
//
// # Testing
//
// StandardLifecycleTests runs the state machine contract against any
// component implementation:
//
//	func TestMyComponent(t *testing.T) {
//		component.StandardLifecycleTests(t, func(t *testing.T) component.Component {
//			return newMyComponent(t)
//		})
//	}
package component
