// Package control models the tunable parameters of a component as a tree.
//
// Leaves hold typed values: Integer (stepped range), Rational (stepped range
// of fractions), Menu (fixed options) and Boolean. Composite groups children by name; a child's Name is its parent's
// Name followed by "." and its own segment.
//
// Setting a value only changes the in-memory control. Push hands the value to
// the Synchronizer of the nearest ancestor that has one and then pushes the
// parent; Pull works the same way in the other direction. Links point upward
// only, so pushing a leaf never touches its siblings.
//
//	root, _ := control.NewComposite("camera", control.WithSynchronizer(dev))
//	gain, _ := control.NewInteger("gain", 0, 100, 5, 50)
//	_ = root.Add(gain)
//	if err := gain.Set(55); err != nil { ... } // ErrValidation on 52
//	err := gain.Push(ctx)                      // commits "camera.gain", then "camera"
//
// Type-specific operations are also reachable through Apply, which reports
// errors.ErrUnsupportedOperation when the control cannot perform them.
package control
