// Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"fmt"
	"reflect"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	runtimecontroller "sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	poolerApi "github.com/splunk/pgbouncer-operator/api/v1alpha1"
	splcommon "github.com/splunk/pgbouncer-operator/pkg/pgbouncer/common"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/engine"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/process"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/relation"
)

// +kubebuilder:rbac:groups=pooler.splunk.com,resources=pgbouncers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=pooler.splunk.com,resources=pgbouncers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete

// PgBouncerReconciler drives the pooler engine from Kubernetes events. The
// surrounding manager serializes reconciles per unit (MaxConcurrentReconciles
// is 1), so a newly queued event waits for the current reconcile and then runs
// with fresh state.
type PgBouncerReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// Pooler is the process boundary for the pgbouncer running in this pod
	Pooler process.Pooler

	// IsLeader reports whether this unit holds leadership
	IsLeader splcommon.LeaderCheck
}

// Reconcile recomputes the pooler's desired configuration for one PgBouncer
// resource and records the outcome in its status.
func (r *PgBouncerReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	var cr poolerApi.PgBouncer
	if err := r.Get(ctx, req.NamespacedName, &cr); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	store := relation.NewSecretStore(r.Client, req.Namespace)
	eng := engine.New(store, r.Pooler, r.IsLeader)

	result := eng.Reconcile(ctx, r.settingsFor(&cr), engine.Event{Trigger: req.NamespacedName.String()})

	revised := poolerApi.PgBouncerStatus{
		Phase:              poolerApi.PgBouncerPhase(result.State),
		Message:            result.Message,
		ActivePools:        result.Pools,
		TLSEnabled:         result.TLSEnabled,
		ObservedGeneration: cr.GetGeneration(),
	}
	if !reflect.DeepEqual(cr.Status, revised) {
		cr.Status = revised
		if err := r.Status().Update(ctx, &cr); err != nil {
			return ctrl.Result{}, err
		}
	}

	// relation data is delivered eventually; poll while unsettled
	switch result.State {
	case engine.StateErrored:
		return ctrl.Result{RequeueAfter: 30 * time.Second}, nil
	case engine.StateWaiting:
		return ctrl.Result{RequeueAfter: time.Minute}, nil
	}
	return ctrl.Result{}, nil
}

func (r *PgBouncerReconciler) settingsFor(cr *poolerApi.PgBouncer) engine.Settings {
	hostname := cr.Spec.Hostname
	if hostname == "" {
		hostname = fmt.Sprintf("%s.%s.svc", cr.GetName(), cr.GetNamespace())
	}
	return engine.Settings{
		AppName:          cr.GetName(),
		Hostname:         hostname,
		ListenPort:       cr.Spec.ListenPort,
		PoolMode:         string(cr.Spec.PoolMode),
		MaxClientConn:    cr.Spec.MaxClientConn,
		MaxDBConnections: cr.Spec.MaxDBConnections,
		Instances:        cr.Spec.Instances,
		UnitSANs:         []string{hostname, cr.GetName()},
	}
}

// SetupWithManager registers the controller. Relation bucket Secrets are
// watched so that remote-side databag writes trigger a reconcile of every
// pooler in the namespace.
func (r *PgBouncerReconciler) SetupWithManager(mgr ctrl.Manager) error {
	r.Scheme = mgr.GetScheme()
	return ctrl.NewControllerManagedBy(mgr).
		For(&poolerApi.PgBouncer{}).
		Watches(&corev1.Secret{},
			handler.EnqueueRequestsFromMapFunc(r.mapRelationSecret),
			builder.WithPredicates(predicate.NewPredicateFuncs(isRelationSecret))).
		WithOptions(controllerOptions()).
		Complete(r)
}

// controllerOptions configures the controller runnable. The manager's leader
// election is only the source of the IsLeader signal; the controller itself
// must run on every unit, since follower pods apply the leader's published
// secret set to their own pgbouncer.
func controllerOptions() runtimecontroller.Options {
	return runtimecontroller.Options{
		MaxConcurrentReconciles: 1,
		NeedLeaderElection:      ptr.To(false),
	}
}

func isRelationSecret(obj client.Object) bool {
	return obj.GetLabels()[splcommon.LabelManagedBy] == splcommon.ManagedByValue
}

func (r *PgBouncerReconciler) mapRelationSecret(ctx context.Context, obj client.Object) []reconcile.Request {
	var poolers poolerApi.PgBouncerList
	if err := r.List(ctx, &poolers, client.InNamespace(obj.GetNamespace())); err != nil {
		return nil
	}

	requests := make([]reconcile.Request, 0, len(poolers.Items))
	for i := range poolers.Items {
		requests = append(requests, reconcile.Request{
			NamespacedName: client.ObjectKeyFromObject(&poolers.Items[i]),
		})
	}
	return requests
}
