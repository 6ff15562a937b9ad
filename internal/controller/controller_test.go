package controller

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/machine"
	"github.com/openbeamline/governor/internal/status"
)

func testLog() *logger.Log {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logger.New(l, "test")
}

// robotConfig builds a one-motor machine with a single Park -> Out
// transition, named after the spec's own seed scenario so the "Disabled
// rejection" test below reads the same way the spec states it.
func robotConfig() *config.MachineConfig {
	return &config.MachineConfig{
		Name:      "Robot",
		InitState: "Park",
		Devices: map[string]config.DeviceConfig{
			"mot": {Type: config.KindMotor, Tolerance: 0.01, Timeout: 0.3, Velocity: 1000, Positions: map[string]float64{"out": 5, "park": 0}},
		},
		States: map[string]config.StateConfig{
			"Park": {Name: "Park"},
			"Out": {Name: "Out", Targets: map[string]config.TargetBindingConfig{
				"mot": {Target: "out", Limits: [2]float64{-0.5, 0.5}},
			}},
		},
		Transitions: map[string]map[string]config.StageList{
			"Park": {"Out": config.StageList{config.Stage{"mot"}}},
			"Out":  {"Park": config.StageList{}},
		},
	}
}

func newController(cfg *config.MachineConfig) (*Controller, *[]Snapshot) {
	m, err := machine.Compile(cfg, nil, testLog())
	Expect(err).NotTo(HaveOccurred())

	published := &[]Snapshot{}
	c := New(m, testLog(), func(s Snapshot) { *published = append(*published, s) })
	c.Start()
	DeferCleanup(c.Close)
	return c, published
}

// pinDevice drives a device to a known target directly (bypassing the
// controller) so a test that needs real motion on Go starts from a
// deterministic readback regardless of which configured position New()
// picked as the initial one.
func pinDevice(c *Controller, key, target string) {
	d, ok := c.Machine().Device(key)
	Expect(ok).To(BeTrue())
	Expect(d.StartMove(target)).To(Succeed())
	Expect(d.WaitMove(context.Background(), target)).To(Succeed())
}

var _ = Describe("Go/Abort command surface", func() {
	It("starts Disabled and rejects Go", func() {
		c, _ := newController(robotConfig())
		err := c.Go("Out")
		Expect(err).To(HaveOccurred())
		Expect(c.Last().Status).To(Equal(status.Disabled))
	})

	It("rejects Go while Disabled even for a defined transition, leaving State-I unchanged", func() {
		// Mirrors the spec's seed scenario: with Human active and Robot
		// loaded, writing Go-Cmd on the disabled Robot is rejected and its
		// published state does not move off its current one.
		c, _ := newController(robotConfig())
		before := c.Last().State

		err := c.Go("Out")
		Expect(err).To(HaveOccurred())
		Expect(c.Last().Status).To(Equal(status.Disabled))
		Expect(c.Last().State).To(Equal(before))
	})

	It("goes Idle on activation and accepts a defined Go", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		Expect(c.Last().Status).To(Equal(status.Idle))

		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))
		Expect(c.Machine().CurrentState()).To(Equal("Out"))
	})

	It("rejects a second Go while Busy", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		Expect(c.Go("Out")).To(Succeed())

		err := c.Go("Out")
		Expect(err).To(HaveOccurred())
	})

	It("rejects Abort unless Busy", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		err := c.Abort()
		Expect(err).To(HaveOccurred())
	})

	It("aborts an in-flight transition back to the initial state", func() {
		cfg := robotConfig()
		cfg.Devices["mot"] = config.DeviceConfig{
			Type: config.KindMotor, Tolerance: 0.01, Timeout: 2, Velocity: 20, Positions: map[string]float64{"out": 5, "park": 0},
		}
		c, _ := newController(cfg)
		Expect(c.SetActive(true)).To(Succeed())
		pinDevice(c, "mot", "park")
		Expect(c.Go("Out")).To(Succeed())

		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Busy))
		Expect(c.Abort()).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))
		Expect(c.Machine().CurrentState()).To(Equal("Park"))
	})

	It("raises FAULT when a stage fails to settle", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		pinDevice(c, "mot", "park")

		d, ok := c.Machine().Device("mot")
		Expect(ok).To(BeTrue())
		d.SetSimulatedStuck(true)

		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Fault))
		Expect(c.Last().FailedDevices).To(ContainElement("mot"))
	})

	It("accepts a fresh Go from FAULT once the operator retries", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		pinDevice(c, "mot", "park")

		d, ok := c.Machine().Device("mot")
		Expect(ok).To(BeTrue())
		d.SetSimulatedStuck(true)
		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Fault))

		d.SetSimulatedStuck(false)
		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))
		Expect(c.Machine().CurrentState()).To(Equal("Out"))
	})

	It("deactivating always lands on Disabled regardless of current state", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))

		Expect(c.SetActive(false)).To(Succeed())
		Expect(c.Last().Status).To(Equal(status.Disabled))
	})

	It("publishes a snapshot for every status change", func() {
		c, published := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))

		Expect(*published).ToNot(BeEmpty())
		last := (*published)[len(*published)-1]
		Expect(last.Machine).To(Equal("Robot"))
		Expect(last.State).To(Equal("Out"))
	})
})

var _ = Describe("held-state poll", func() {
	It("drops an Idle machine to FAULT when a device drifts out of its window", func() {
		c, _ := newController(robotConfig())
		Expect(c.SetActive(true)).To(Succeed())
		Expect(c.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return c.Last().Status }).Should(Equal(status.Idle))

		d, ok := c.Machine().Device("mot")
		Expect(ok).To(BeTrue())
		Expect(d.StartMove("park")).To(Succeed())

		Eventually(func() status.Status { return c.Last().Status }, 2*time.Second).Should(Equal(status.Fault))
	})
})
