package scheduler

import (
	"github.com/redshirt-os/kernel/internal/extrinsic"
	"github.com/redshirt-os/kernel/internal/iface"
)

// externalKind says what an import resolved to: one of the five kernel
// extrinsics, or a function belonging to some interface (spec.md §4.6 step
// 3 "classify via the external indices table").
type externalKind byte

const (
	externalKindExtrinsic externalKind = iota
	externalKindInterfaceFunction
)

type descriptor struct {
	kind externalKind

	extrinsicKind extrinsic.Kind

	interfaceHash iface.Hash
	functionName  string
}

func extrinsicKindForName(name string) (extrinsic.Kind, bool) {
	switch name {
	case "next_notification":
		return extrinsic.KindNextNotification, true
	case "emit_message":
		return extrinsic.KindEmitMessage, true
	case "emit_answer":
		return extrinsic.KindEmitAnswer, true
	case "emit_message_error":
		return extrinsic.KindEmitMessageError, true
	case "cancel_message":
		return extrinsic.KindCancelMessage, true
	default:
		return 0, false
	}
}
