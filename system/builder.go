// Package system is the embedder-facing API (spec.md §6): SystemBuilder
// configures a boot, System drives it.
//
// Grounded on the teacher's root RuntimeConfig/RuntimeConfigBuilder
// (config.go/builder.go): a struct with private fields, a clone-on-every-
// With* immutable builder, and a terminal Build() that wires the
// subsystems together. Where the teacher's config toggles Wasm feature
// proposals and picks an engine, SystemBuilder toggles native interface
// registrations and the boot seed (spec.md §9).
package system

import (
	"github.com/google/uuid"

	"github.com/redshirt-os/kernel/internal/metrics"
	"github.com/redshirt-os/kernel/internal/native"
	"github.com/redshirt-os/kernel/internal/scheduler"
)

// nativeRegistration is one RegisterNative call deferred until Build, so
// WithNativeInterface can be called in any order relative to WithSeed.
type nativeRegistration struct {
	tag string
	h   native.Handler
}

// SystemBuilder accumulates boot configuration before constructing a
// System. The zero value is not usable; start from NewSystemBuilder.
type SystemBuilder struct {
	seed               uint64
	maxNativeWorkers   int64
	nativeHandlers     []nativeRegistration
	embedderInterfaces []string
	bootNativeDefaults bool
}

// defaultBuilder mirrors the teacher's engineLessConfig: a private base
// every exported constructor clones from, so defaults live in one place.
var defaultBuilder = &SystemBuilder{
	maxNativeWorkers:   32,
	bootNativeDefaults: true,
}

// NewSystemBuilder starts a builder seeded for one boot (spec.md §9
// "SystemBuilder::new(seed)"): every PID, MessageId, and RegistrationId
// generator in the resulting System derives from this one seed.
func NewSystemBuilder(seed uint64) *SystemBuilder {
	b := defaultBuilder.clone()
	b.seed = seed
	return b
}

// clone ensures all fields are copied even if nil, exactly as the
// teacher's RuntimeConfig.clone does.
func (b *SystemBuilder) clone() *SystemBuilder {
	return &SystemBuilder{
		seed:               b.seed,
		maxNativeWorkers:   b.maxNativeWorkers,
		nativeHandlers:     append([]nativeRegistration{}, b.nativeHandlers...),
		embedderInterfaces: append([]string{}, b.embedderInterfaces...),
		bootNativeDefaults: b.bootNativeDefaults,
	}
}

// WithMaxNativeWorkers bounds how many native-interface handler goroutines
// (spec.md §4.7) may run concurrently. Defaults to 32.
func (b *SystemBuilder) WithMaxNativeWorkers(n int64) *SystemBuilder {
	ret := b.clone()
	ret.maxNativeWorkers = n
	return ret
}

// WithoutDefaultNativeInterfaces skips registering the four built-in
// native programs (time, random, kernel-log, hardware-io stub) at Build
// time, for an embedder that wants to supply its own via WithNativeHandler.
func (b *SystemBuilder) WithoutDefaultNativeInterfaces() *SystemBuilder {
	ret := b.clone()
	ret.bootNativeDefaults = false
	return ret
}

// WithNativeHandler registers h as the Go-implemented handler for tag
// (spec.md §4.7), answered by internal/native.Bridge on a handler goroutine
// rather than surfaced to the embedder as an event. Replaces the default
// handler for the same tag.
func (b *SystemBuilder) WithNativeHandler(tag string, h native.Handler) *SystemBuilder {
	ret := b.clone()
	ret.nativeHandlers = append(ret.nativeHandlers, nativeRegistration{tag: tag, h: h})
	return ret
}

// WithEmbedderInterface marks tag as answered by the embedder itself:
// messages to it surface as scheduler.NativeInterfaceMessage events from
// System.Run instead of going through a native.Handler (spec.md §6).
func (b *SystemBuilder) WithEmbedderInterface(tag string) *SystemBuilder {
	ret := b.clone()
	ret.embedderInterfaces = append(ret.embedderInterfaces, tag)
	return ret
}

// Build constructs a System ready to Execute processes. Every call
// produces an independently seeded boot; Build does not mutate b, so one
// builder can stamp multiple Systems.
func (b *SystemBuilder) Build() *System {
	m := metrics.New()
	cfg := scheduler.Config{
		PidSeed:            b.seed,
		MessageIDSeed:      b.seed + 1,
		RegistrationIDSeed: b.seed + 2,
		MaxNativeWorkers:   b.maxNativeWorkers,
	}
	core := scheduler.New(cfg, m)

	isEmbedderTag := make(map[string]bool, len(b.embedderInterfaces))
	for _, tag := range b.embedderInterfaces {
		isEmbedderTag[tag] = true
	}

	overridden := make(map[string]bool, len(b.nativeHandlers))
	for _, reg := range b.nativeHandlers {
		overridden[reg.tag] = true
	}

	if b.bootNativeDefaults {
		for tag, h := range defaultNativeHandlers() {
			if !isEmbedderTag[tag] && !overridden[tag] {
				core.RegisterNative(tag, h)
			}
		}
	}
	for _, reg := range b.nativeHandlers {
		if !isEmbedderTag[reg.tag] {
			core.RegisterNative(reg.tag, reg.h)
		}
	}
	for _, tag := range b.embedderInterfaces {
		core.RegisterEmbedderInterface(tag)
	}

	return &System{
		core:    core,
		metrics: m,
		bootID:  uuid.New(),
		pending: map[uint64]pendingNative{},
	}
}

// defaultNativeHandlers is the fixed set spec.md §4.7 names
// (time/random/kernel-log/hardware-io), registered at Build unless
// WithoutDefaultNativeInterfaces, or a WithEmbedderInterface or
// WithNativeHandler for the same tag, opts a tag out.
func defaultNativeHandlers() map[string]native.Handler {
	return map[string]native.Handler{
		"time":        native.NewMonotonicClock(),
		"random":      native.RandomSource{},
		"kernel-log":  native.KernelLog{},
		"hardware-io": native.HardwareIO{},
	}
}
