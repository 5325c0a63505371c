/*
 *
 * Copyright © 2024 The Block CSI Driver Authors. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package hostdefiner

import (
	"context"
	"math"

	"github.com/blockcsi/csi-block-driver/pkg/hostdefinition"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Retry attempt outcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

func (r *Reconciler) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.RetryDelay,
		RandomizationFactor: 0,
		Multiplier:          r.cfg.RetryFactor,
		MaxInterval:         math.MaxInt64,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// startRetry runs the pending retry loop of name unless one is already running.
func (r *Reconciler) startRetry(ctx context.Context, name string) {
	release, err := r.inUse.Enter(categoryHostDefinition, name)
	if err != nil {
		log.Debugf("retry loop of %s already running", name)
		return
	}
	r.goBackground(func() {
		defer release()
		r.retryPending(ctx, name)
	})
}

// retryPending waits, re-reads the definition and retries its pending action
// until it succeeds, leaves the pending phase or the budget runs out.
func (r *Reconciler) retryPending(ctx context.Context, name string) {
	b := r.newBackOff()
	for attempt := 1; attempt <= r.cfg.RetryBudget; attempt++ {
		if err := r.sleep(ctx, b.NextBackOff()); err != nil {
			return
		}
		hd, err := r.store.Get(ctx, name)
		if apierrors.IsNotFound(err) {
			return
		}
		if err != nil {
			log.WithError(err).Warnf("can't read host definition %s", name)
			continue
		}
		if !hd.Status.Phase.IsPending() {
			return
		}

		outcome, err := r.retryOnce(ctx, hd)
		r.metrics.RetryAttempt(outcome)
		if err == nil {
			return
		}
		log.WithError(err).Warnf("attempt %d/%d for host definition %s failed", attempt, r.cfg.RetryBudget, name)
		r.event(hd, corev1.EventTypeWarning, failureReason(hd.Status.Phase), "attempt %d failed: %s", attempt, err.Error())
	}

	hd, err := r.store.SetPhase(ctx, name, hostdefinition.PhaseError)
	if err != nil {
		log.WithError(err).Errorf("can't set host definition %s to %s", name, hostdefinition.PhaseError)
		return
	}
	r.metrics.DefinitionPhase(string(hostdefinition.PhaseError))
	r.event(hd, corev1.EventTypeWarning, ReasonRetryBudgetExhausted, "gave up after %d attempts", r.cfg.RetryBudget)
}

func failureReason(phase hostdefinition.Phase) string {
	if phase == hostdefinition.PhasePendingDeletion {
		return ReasonFailedToUndefine
	}
	return ReasonFailedToDefine
}

// retryOnce performs the pending action of hd and reports the outcome of the attempt.
// A pending deletion of a node that may no longer be undefined is skipped, not retried.
func (r *Reconciler) retryOnce(ctx context.Context, hd *hostdefinition.HostDefinition) (string, error) {
	switch hd.Status.Phase {
	case hostdefinition.PhasePendingCreation:
		defined, err := r.define(ctx, hd.Spec)
		if err != nil {
			return outcomeFailure, err
		}
		updated, err := r.store.Apply(ctx, defined, hostdefinition.PhaseReady)
		if err != nil {
			return outcomeFailure, err
		}
		r.metrics.DefinitionPhase(string(hostdefinition.PhaseReady))
		r.event(updated, corev1.EventTypeNormal, ReasonDefined, "host %s defined as %s", defined.NodeName, defined.NodeNameOnStorage)
		return outcomeSuccess, nil
	case hostdefinition.PhasePendingDeletion:
		if !r.eligibleForUndefine(ctx, hd.Spec.NodeName) {
			log.Infof("node %s is no longer eligible for undefine, leaving %s", hd.Spec.NodeName, hd.Name)
			return outcomeSkipped, nil
		}
		if err := r.undefine(ctx, hd.Spec); err != nil {
			return outcomeFailure, err
		}
		if err := r.store.Delete(ctx, hd.Name); err != nil {
			return outcomeFailure, err
		}
		r.event(hd, corev1.EventTypeNormal, ReasonUndefined, "host %s undefined", hd.Spec.NodeName)
		return outcomeSuccess, nil
	}
	return outcomeSkipped, nil
}
