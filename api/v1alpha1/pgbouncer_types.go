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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +kubebuilder:validation:Enum=session;transaction;statement
type PoolMode string

// PgBouncerSpec defines the desired state of a PgBouncer pooler deployment
type PgBouncerSpec struct {
	// ListenPort is the port pgbouncer listens on for client connections
	// +kubebuilder:default=6432
	ListenPort int `json:"listenPort,omitempty"`

	// PoolMode selects when server connections are returned to the pool
	// +kubebuilder:default=session
	PoolMode PoolMode `json:"poolMode,omitempty"`

	// MaxDBConnections caps the total backend connections across all pooler
	// instances; 0 means unlimited
	MaxDBConnections int `json:"maxDBConnections,omitempty"`

	// MaxClientConn caps the number of client connections per instance
	// +kubebuilder:default=10000
	MaxClientConn int `json:"maxClientConn,omitempty"`

	// Instances is the number of pgbouncer processes per unit; pgbouncer is
	// single threaded, so this is usually set to the available cpu cores
	// +kubebuilder:default=1
	Instances int `json:"instances,omitempty"`

	// Hostname is the service endpoint published to clients; defaults to the
	// application service name
	Hostname string `json:"hostname,omitempty"`
}

// PgBouncerPhase is the reconcile state of a pooler unit
type PgBouncerPhase string

const (
	// PhaseBlocked means the mandatory backend-database relation is missing
	PhaseBlocked PgBouncerPhase = "Blocked"

	// PhaseWaiting means a dependency relation has not published data yet
	PhaseWaiting PgBouncerPhase = "Waiting"

	// PhaseActive means the pooler is configured and serving
	PhaseActive PgBouncerPhase = "Active"

	// PhaseErrored means the last apply failed and will be retried
	PhaseErrored PgBouncerPhase = "Errored"
)

// PgBouncerStatus defines the observed state of a PgBouncer pooler
type PgBouncerStatus struct {
	// Phase is the reconcile state of this pooler
	Phase PgBouncerPhase `json:"phase,omitempty"`

	// Message explains the current phase
	Message string `json:"message,omitempty"`

	// ActivePools lists the logical databases currently served
	ActivePools []string `json:"activePools,omitempty"`

	// TLSEnabled reports whether clients are served over TLS
	TLSEnabled bool `json:"tlsEnabled,omitempty"`

	// ObservedGeneration is the spec generation last acted upon
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=pgb
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=.status.phase
// +kubebuilder:printcolumn:name="Pools",type=string,JSONPath=.status.activePools
// +kubebuilder:printcolumn:name="TLS",type=boolean,JSONPath=.status.tlsEnabled

// PgBouncer is the Schema for a connection pooler deployment
type PgBouncer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PgBouncerSpec   `json:"spec,omitempty"`
	Status PgBouncerStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PgBouncerList contains a list of PgBouncer
type PgBouncerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []PgBouncer `json:"items"`
}

func init() {
	SchemeBuilder.Register(&PgBouncer{}, &PgBouncerList{})
}
