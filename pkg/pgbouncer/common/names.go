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

package common

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// relation bucket secret name: pgbouncer-rel-<relation>-<id>
	relationSecretNameTemplateStr = "pgbouncer-rel-%s-%d"

	// LabelManagedBy marks Secrets owned by this operator
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// LabelRelationName carries the relation endpoint name on a bucket Secret
	LabelRelationName = "pgbouncer.splunk.com/relation-name"

	// LabelRelationID carries the relation instance id on a bucket Secret
	LabelRelationID = "pgbouncer.splunk.com/relation-id"

	// ManagedByValue is the value stored under LabelManagedBy
	ManagedByValue = "pgbouncer-operator"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// GetRelationSecretName returns the name of the Secret backing a relation bucket
func GetRelationSecretName(relationName string, relationID int) string {
	return fmt.Sprintf(relationSecretNameTemplateStr, relationName, relationID)
}

// GetRelationLabels returns the labels selecting bucket Secrets for a relation
func GetRelationLabels(relationName string) map[string]string {
	return map[string]string{
		LabelManagedBy:    ManagedByValue,
		LabelRelationName: relationName,
	}
}

// GetInstanceDir returns the runtime directory of one pgbouncer instance.
// Instance 0 uses the service defaults under PgbDir directly.
func GetInstanceDir(n int) string {
	return fmt.Sprintf("%s/instance_%d", PgbDir, n)
}

// GetInstanceIniPath returns the config file location of one pgbouncer instance
func GetInstanceIniPath(n int) string {
	return GetInstanceDir(n) + "/pgbouncer.ini"
}

// GetInstancePidFilePath returns the pidfile location of one pgbouncer instance
func GetInstancePidFilePath(n int) string {
	return GetInstanceDir(n) + "/pgbouncer.pid"
}

// GetInstanceLogFilePath returns the log file location of one pgbouncer instance
func GetInstanceLogFilePath(n int) string {
	return GetInstanceDir(n) + "/pgbouncer.log"
}

// SanitizeName replaces characters that are unsafe in pgbouncer database or
// user names with underscores
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_")
}

// GetAuthUserName derives the pgbouncer auth_query user from the username the
// backend provider generated for this relation
func GetAuthUserName(backendUsername string) string {
	return "pgbouncer_auth_" + strings.ReplaceAll(backendUsername, "-", "_")
}

// GetStatsUserName derives the monitoring user from the application name
func GetStatsUserName(appName string) string {
	return "pgbouncer_stats_" + strings.ReplaceAll(appName, "-", "_")
}
