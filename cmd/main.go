/*
Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"os"
	"time"

	intController "github.com/splunk/pgbouncer-operator/internal/controller"
	"github.com/splunk/pgbouncer-operator/pkg/config"
	"github.com/splunk/pgbouncer-operator/pkg/pgbouncer/process"

	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	poolerApi "github.com/splunk/pgbouncer-operator/api/v1alpha1"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(poolerApi.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var logLevel int

	var leaseDuration time.Duration
	var renewDeadline time.Duration
	var leaseDurationSecond int
	var renewDeadlineSecond int

	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to.")
	flag.IntVar(&logLevel, "log-level", int(zapcore.InfoLevel), "set log level")
	flag.IntVar(&leaseDurationSecond, "lease-duration", leaseDurationSecond, "manager lease duration in seconds")
	flag.IntVar(&renewDeadlineSecond, "renew-duration", renewDeadlineSecond, "manager renew duration in seconds")

	// see https://github.com/operator-framework/operator-sdk/issues/1813
	if leaseDurationSecond < 30 {
		leaseDuration = 30 * time.Second
	} else {
		leaseDuration = time.Duration(leaseDurationSecond) * time.Second
	}

	if renewDeadlineSecond < 20 {
		renewDeadline = 20 * time.Second
	} else {
		renewDeadline = time.Duration(renewDeadlineSecond) * time.Second
	}

	opts := zap.Options{
		Development: true,
		TimeEncoder: zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	// Logging setup
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	config.LoadDotEnv(setupLog)

	baseOptions := ctrl.Options{
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		Scheme:                 scheme,
		HealthProbeBindAddress: probeAddr,
		// leadership decides which unit owns shared relation state, so
		// election is always on. It only feeds the IsLeader signal below;
		// the reconciler opts out of election gating and runs on every unit.
		LeaderElection:   true,
		LeaderElectionID: "pgbouncer.pooler.splunk.com",
		LeaseDuration:    ptr.To(leaseDuration),
		RenewDeadline:    ptr.To(renewDeadline),
	}

	// Apply namespace-specific configuration
	managerOptions := config.ManagerOptionsWithNamespaces(setupLog, baseOptions)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), managerOptions)
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	elected := mgr.Elected()
	isLeader := func() bool {
		select {
		case <-elected:
			return true
		default:
			return false
		}
	}

	if err = (&intController.PgBouncerReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Pooler:   &process.FSPooler{PidFilePath: config.GetPidFilePath()},
		IsLeader: isLeader,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "PgBouncer")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
