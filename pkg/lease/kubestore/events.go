// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package kubestore

import (
	"go.uber.org/zap"
	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
	"github.com/telekom/k8s-lease-claim/pkg/system"
)

// Event reasons written on the Lease.
const (
	ReasonLeaseCreated  = "LeaseCreated"
	ReasonLeaseAcquired = "LeaseAcquired"
	ReasonLeaseLost     = "LeaseLost"
)

// EventNotifier is a lease.Notifier that records creation, acquisition and
// loss of the lease as Events on the Lease object. Renewals, conflicts and
// transient errors are left to logs and metrics.
//
// Recording only queues the Event; a broadcaster goroutine writes it to the
// API server, so the claim task never waits on the write.
type EventNotifier struct {
	Recorder  record.EventRecorder
	Namespace string

	broadcaster record.EventBroadcaster
	log         *zap.SugaredLogger
}

var _ lease.Notifier = &EventNotifier{}

// NewEventNotifier returns an EventNotifier writing Events to namespace
// through clientset. Shutdown stops the broadcaster.
func NewEventNotifier(clientset kubernetes.Interface, namespace, component string, log *zap.SugaredLogger) *EventNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: clientset.CoreV1().Events(namespace)})
	broadcaster.StartEventWatcher(func(ev *corev1.Event) {
		log.Debugw("kubernetes Event recorded",
			append(system.NamespacedFields(ev.InvolvedObject.Name, ev.Namespace), "reason", ev.Reason)...)
	})
	return &EventNotifier{
		Recorder:    broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{Component: component}),
		Namespace:   namespace,
		broadcaster: broadcaster,
		log:         log,
	}
}

// Shutdown stops delivering Events. Events still queued may be dropped.
func (n *EventNotifier) Shutdown() {
	if n.broadcaster != nil {
		n.broadcaster.Shutdown()
	}
}

func (n *EventNotifier) object(rec *lease.Record) *coordinationv1.Lease {
	ns := rec.Namespace
	if ns == "" {
		ns = n.Namespace
	}
	return &coordinationv1.Lease{
		TypeMeta: metav1.TypeMeta{
			APIVersion: coordinationv1.SchemeGroupVersion.String(),
			Kind:       "Lease",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:            rec.Name,
			Namespace:       ns,
			ResourceVersion: rec.Version,
		},
	}
}

func (n *EventNotifier) event(rec *lease.Record, eventtype, reason, messageFmt string, args ...interface{}) {
	obj := n.object(rec)
	if obj.Namespace == "" {
		if n.log != nil {
			n.log.Infow("skipping kubernetes Event creation: object has no namespace", "object", obj.Name)
		}
		return
	}
	n.Recorder.Eventf(obj, eventtype, reason, messageFmt, args...)
}

func (n *EventNotifier) RecordCreated(rec *lease.Record) {
	n.event(rec, corev1.EventTypeNormal, ReasonLeaseCreated, "Lease record created")
}

func (n *EventNotifier) RecordExisted(string) {}

func (n *EventNotifier) Acquired(identity string, rec *lease.Record) {
	n.event(rec, corev1.EventTypeNormal, ReasonLeaseAcquired,
		"%s acquired the lease (transitions: %d)", identity, rec.Transitions)
}

func (n *EventNotifier) Renewed(string, *lease.Record) {}

func (n *EventNotifier) Lost(identity string, rec *lease.Record) {
	if rec == nil {
		return
	}
	holder := rec.HolderIdentity
	if holder == "" {
		holder = "nobody"
	}
	n.event(rec, corev1.EventTypeWarning, ReasonLeaseLost,
		"%s lost the lease, now held by %s", identity, holder)
}

func (n *EventNotifier) Conflict(string, lease.Phase) {}

func (n *EventNotifier) TransientError(string, lease.Phase, error, int) {}
