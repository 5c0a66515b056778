package runner

// SharedRegion abstracts a shared-memory segment big enough to hold one
// trace bitmap, behind a uniform interface across platforms: unix SysV
// segments, Windows named file mappings (stubbed), and eventually a
// mach/bsd variant, per the platform-abstraction design note.
type SharedRegion interface {
	// Bytes returns the live, mutable view of the segment.
	Bytes() []byte
	// EnvValue returns the value to export as __AFL_SHM_ID so the target
	// process can attach the same segment.
	EnvValue() string
	// Close detaches (and, for the owner, removes) the segment.
	Close() error
}
