// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package kubestore stores lease records as coordination.k8s.io/v1 Lease
// objects. The object's resourceVersion is the record version; updates are
// merge patches carrying the expected resourceVersion as a precondition.
package kubestore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	coordinationv1client "k8s.io/client-go/kubernetes/typed/coordination/v1"
	"k8s.io/utils/ptr"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
)

const (
	// FieldManager identifies this component's writes on the Lease.
	FieldManager = "lease-claim"

	tracerName = "github.com/telekom/k8s-lease-claim/pkg/lease/kubestore"
)

// Store is a lease.Store backed by Lease objects in one namespace.
type Store struct {
	client    kubernetes.Interface
	namespace string
	tracer    trace.Tracer
}

var _ lease.Store = &Store{}

// Option configures a Store.
type Option func(*Store)

// WithTracerProvider records spans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New returns a Store for Leases in namespace. Spans are recorded with the
// global OpenTelemetry tracer provider unless WithTracerProvider is given.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		namespace: namespace,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the namespace the store operates in.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) leases() coordinationv1client.LeaseInterface {
	return s.client.CoordinationV1().Leases(s.namespace)
}

// CreateIfAbsent implements lease.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, rec *lease.Record) (_ *lease.Record, err error) {
	ctx, span := s.start(ctx, "CreateIfAbsent", rec.Name)
	defer func() { endSpan(span, err) }()

	obj := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      rec.Name,
			Namespace: s.namespace,
			Labels:    rec.Labels,
		},
		Spec: toLeaseSpec(rec.Spec()),
	}
	created, err := s.leases().Create(ctx, obj, metav1.CreateOptions{FieldManager: FieldManager})
	if err != nil {
		return nil, classify(err)
	}
	return fromLease(created), nil
}

// Get implements lease.Store.
func (s *Store) Get(ctx context.Context, name string) (_ *lease.Record, err error) {
	ctx, span := s.start(ctx, "Get", name)
	defer func() { endSpan(span, err) }()

	obj, err := s.leases().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return fromLease(obj), nil
}

// Update implements lease.Store. The API server rejects the patch with a
// conflict when the stored resourceVersion differs from expectedVersion.
func (s *Store) Update(ctx context.Context, name, expectedVersion string, spec lease.Spec) (_ *lease.Record, err error) {
	ctx, span := s.start(ctx, "Update", name)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("lease.holder", spec.HolderIdentity))

	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"resourceVersion": expectedVersion},
		"spec":     toLeaseSpec(spec),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lease patch: %w", err)
	}
	updated, err := s.leases().Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{FieldManager: FieldManager})
	if err != nil {
		return nil, classify(err)
	}
	return fromLease(updated), nil
}

// List returns every lease record in the namespace.
func (s *Store) List(ctx context.Context) (_ []*lease.Record, err error) {
	ctx, span := s.start(ctx, "List", "")
	defer func() { endSpan(span, err) }()

	list, err := s.leases().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*lease.Record, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, fromLease(&list.Items[i]))
	}
	return out, nil
}

func (s *Store) start(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "kubestore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lease.name", name),
			attribute.String("lease.namespace", s.namespace),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classify maps API errors onto the lease sentinels. Anything unmapped is
// transient.
func classify(err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%w: %v", lease.ErrNotFound, err)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%w: %v", lease.ErrAlreadyExists, err)
	case apierrors.IsConflict(err):
		return fmt.Errorf("%w: %v", lease.ErrConflict, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return fmt.Errorf("%w: %v", lease.ErrInvalid, err)
	}
	return err
}

func toLeaseSpec(spec lease.Spec) coordinationv1.LeaseSpec {
	out := coordinationv1.LeaseSpec{
		LeaseTransitions: ptr.To(spec.Transitions),
	}
	if spec.HolderIdentity != "" {
		out.HolderIdentity = ptr.To(spec.HolderIdentity)
	}
	if !spec.AcquireTime.IsZero() {
		out.AcquireTime = &metav1.MicroTime{Time: spec.AcquireTime}
	}
	if !spec.RenewTime.IsZero() {
		out.RenewTime = &metav1.MicroTime{Time: spec.RenewTime}
	}
	if spec.Duration > 0 {
		// Leases only carry whole seconds; round up so the stored window is
		// never shorter than requested.
		out.LeaseDurationSeconds = ptr.To(int32(math.Ceil(spec.Duration.Seconds())))
	}
	return out
}

func fromLease(l *coordinationv1.Lease) *lease.Record {
	rec := &lease.Record{
		Name:           l.Name,
		Namespace:      l.Namespace,
		HolderIdentity: ptr.Deref(l.Spec.HolderIdentity, ""),
		Transitions:    ptr.Deref(l.Spec.LeaseTransitions, 0),
		Version:        l.ResourceVersion,
		Labels:         l.Labels,
	}
	if l.Spec.AcquireTime != nil {
		rec.AcquireTime = l.Spec.AcquireTime.Time
	}
	if l.Spec.RenewTime != nil {
		rec.RenewTime = l.Spec.RenewTime.Time
	}
	if l.Spec.LeaseDurationSeconds != nil {
		rec.Duration = time.Duration(*l.Spec.LeaseDurationSeconds) * time.Second
	}
	return rec
}
