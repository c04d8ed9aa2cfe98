/*
Copyright 2025.

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

package e2e

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/syed-asak/es-tier-autoscaler/internal/actuator"
	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/controller"
	"github.com/syed-asak/es-tier-autoscaler/internal/dispatch"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// startLoop wires the real collector, dispatcher and executor against the
// fake cluster and runs the control loop until the returned cancel func is
// called.
func startLoop(c *fakeCluster, policies []config.TierPolicy, dryRun bool) context.CancelFunc {
	tiers := make([]string, 0, len(policies))
	for _, p := range policies {
		tiers = append(tiers, p.Tier)
	}
	states := state.NewRegistry(tiers)
	source := collector.NewClusterAPISource(c.url(), nil)
	executor := dispatch.NewHTTPExecutor(c.url(), nil)
	dispatcher := dispatch.NewDispatcher(executor, states, nil, time.Minute, dryRun)
	emitter := actuator.NewEmitter(prometheus.NewRegistry())

	loop := controller.New(source, dispatcher, states, policies, emitter, nil, controller.Options{
		PollInterval:    20 * time.Millisecond,
		CallTimeout:     time.Second,
		DefaultCooldown: 50 * time.Millisecond,
		SafetyFraction:  0.30,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer GinkgoRecover()
		Expect(loop.Run(ctx)).To(Succeed())
	}()
	return cancel
}

func hotPolicy() config.TierPolicy {
	return config.TierPolicy{
		Tier:                  "hot",
		NodePrefix:            "hot",
		DownThreshold:         50,
		BelowCountThreshold:   3,
		DecommissionCount:     1,
		UpThreshold:           75,
		BelowUpCheckThreshold: 2,
		ProvisionCount:        2,
		Zones:                 []string{"a", "b"},
		MinPerZone:            1,
	}
}

var _ = Describe("tier autoscaler control loop", func() {
	var cluster *fakeCluster

	BeforeEach(func() {
		cluster = newFakeCluster()
		DeferCleanup(cluster.close)
	})

	It("provisions nodes when a tier runs out of headroom", func() {
		cluster.addNode("hot", "hot-1", "a", 85)
		cluster.addNode("hot", "hot-2", "b", 88)
		cluster.addNode("hot", "hot-3", "a", 92)
		cluster.addNode("hot", "hot-4", "b", 95)

		cancel := startLoop(cluster, []config.TierPolicy{hotPolicy()}, false)
		DeferCleanup(cancel)

		By("waiting for the tier to grow by one provision batch")
		Eventually(func(g Gomega) {
			g.Expect(cluster.tierIDs("hot")).To(ConsistOf(
				"hot-1", "hot-2", "hot-3", "hot-4", "hot-5", "hot-6"))
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())

		By("verifying the new nodes kept the zones balanced")
		Expect(cluster.zoneCount("hot", "a")).To(Equal(3))
		Expect(cluster.zoneCount("hot", "b")).To(Equal(3))

		By("verifying the loop converges once the new nodes report headroom")
		Consistently(cluster.jobCount, 300*time.Millisecond, 20*time.Millisecond).Should(Equal(1))
	})

	It("decommissions drained nodes and then settles", func() {
		warm := hotPolicy()
		warm.Tier = "warm"
		warm.NodePrefix = "warm"
		cluster.addNode("warm", "warm-1", "a", 30)
		cluster.addNode("warm", "warm-2", "b", 35)
		cluster.addNode("warm", "warm-3", "a", 40)
		cluster.addNode("warm", "warm-4", "b", 60)
		cluster.addNode("warm", "warm-5", "a", 65)

		cancel := startLoop(cluster, []config.TierPolicy{warm}, false)
		DeferCleanup(cancel)

		By("waiting for the drained node in the most populated zone to go")
		Eventually(func(g Gomega) {
			g.Expect(cluster.tierIDs("warm")).To(ConsistOf(
				"warm-1", "warm-2", "warm-4", "warm-5"))
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())

		By("verifying no further removals happen below the count threshold")
		Consistently(cluster.jobCount, 300*time.Millisecond, 20*time.Millisecond).Should(Equal(1))
	})

	It("takes no action once the unreachable share reaches the safety fraction", func() {
		cold := hotPolicy()
		cold.Tier = "cold"
		cold.NodePrefix = "cold"
		cluster.addNode("cold", "cold-1", "a", 30)
		cluster.addNode("cold", "cold-2", "b", 32)
		cluster.addNode("cold", "cold-3", "a", 34)
		cluster.addNode("cold", "cold-4", "b", 36)
		cluster.addNode("cold", "cold-5", "a", 38)
		cluster.addNode("cold", "cold-6", "b", 40)
		cluster.addNode("cold", "cold-7", "a", 42)
		cluster.addUnreachableNode("cold", "cold-8", "b")
		cluster.addUnreachableNode("cold", "cold-9", "a")
		cluster.addUnreachableNode("cold", "cold-10", "b")

		cancel := startLoop(cluster, []config.TierPolicy{cold}, false)
		DeferCleanup(cancel)

		// 3 of 10 unreachable lands exactly on the 0.30 safety fraction;
		// the drained nodes must not trigger a decommission.
		Consistently(cluster.jobCount, 500*time.Millisecond, 20*time.Millisecond).Should(BeZero())
	})

	It("submits nothing in dry-run mode", func() {
		cluster.addNode("hot", "hot-1", "a", 85)
		cluster.addNode("hot", "hot-2", "b", 88)
		cluster.addNode("hot", "hot-3", "a", 92)
		cluster.addNode("hot", "hot-4", "b", 95)

		cancel := startLoop(cluster, []config.TierPolicy{hotPolicy()}, true)
		DeferCleanup(cancel)

		Consistently(func(g Gomega) {
			g.Expect(cluster.jobCount()).To(BeZero())
			g.Expect(cluster.tierIDs("hot")).To(HaveLen(4))
		}, 500*time.Millisecond, 20*time.Millisecond).Should(Succeed())
	})
})
