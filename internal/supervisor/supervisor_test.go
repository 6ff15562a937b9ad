package supervisor

import (
	"context"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/controller"
	"github.com/openbeamline/governor/internal/machine"
	"github.com/openbeamline/governor/internal/status"
)

func testLog() *logger.Log {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logger.New(l, "test")
}

// namedConfig builds a one-motor Park->Out machine under the given name,
// the same shape used across the device/machine/controller suites.
func namedConfig(name string) *config.MachineConfig {
	return &config.MachineConfig{
		Name:      name,
		InitState: "Park",
		Devices: map[string]config.DeviceConfig{
			"mot": {Type: config.KindMotor, Tolerance: 0.01, Timeout: 2, Velocity: 1000, Positions: map[string]float64{"out": 5, "park": 0}},
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

func newNamedController(name string) *controller.Controller {
	m, err := machine.Compile(namedConfig(name), nil, testLog())
	Expect(err).NotTo(HaveOccurred())
	return controller.New(m, testLog(), nil)
}

var _ = Describe("Governor", func() {
	var gov *Governor
	var human, robot *controller.Controller

	BeforeEach(func() {
		gov = New(testLog())
		human = newNamedController("Human")
		robot = newNamedController("Robot")
		gov.Register("Human", human)
		gov.Register("Robot", robot)
		gov.Start()
	})

	It("lists every registered machine in registration order", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		Expect(gov.Names()).To(Equal([]string{"Human", "Robot"}))
	})

	It("filters names by glob pattern", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		matches, err := gov.Query("Ro*")
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(Equal([]string{"Robot"}))
	})

	It("rejects SelectActive for an unregistered name", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		err := gov.SelectActive("Ghost")
		Expect(err).To(HaveOccurred())
	})

	It("activates exactly the selected machine and disables the rest", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Expect(gov.ActiveName()).To(Equal("Robot"))
		Eventually(func() status.Status { return robot.Last().Status }).Should(Equal(status.Idle))
		Expect(human.Last().Status).To(Equal(status.Disabled))
	})

	It("rejects SelectActive while any machine is Busy", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Expect(robot.Go("Out")).To(Succeed())

		err := gov.SelectActive("Human")
		Expect(err).To(HaveOccurred())
		Expect(gov.ActiveName()).To(Equal("Robot"))
	})

	It("SetGlobalActive(false) disables every machine regardless of selection", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Eventually(func() status.Status { return robot.Last().Status }).Should(Equal(status.Idle))

		Expect(gov.SetGlobalActive(false)).To(Succeed())
		Expect(robot.Last().Status).To(Equal(status.Disabled))

		Expect(gov.SetGlobalActive(true)).To(Succeed())
		Eventually(func() status.Status { return robot.Last().Status }).Should(Equal(status.Idle))
		Expect(human.Last().Status).To(Equal(status.Disabled))
	})

	It("forwards Abort to the active machine", func() {
		// A fresh governor with a slow-traveling Robot, so the Busy window
		// is wide enough for Eventually to observe it before Abort fires.
		slowGov := New(testLog())
		slowCfg := namedConfig("Robot")
		slowCfg.Devices["mot"] = config.DeviceConfig{
			Type: config.KindMotor, Tolerance: 0.01, Timeout: 2, Velocity: 20,
			Positions: map[string]float64{"out": 5, "park": 0},
		}
		m, err := machine.Compile(slowCfg, nil, testLog())
		Expect(err).NotTo(HaveOccurred())
		slowRobot := controller.New(m, testLog(), nil)
		slowGov.Register("Robot", slowRobot)
		slowGov.Start()
		DeferCleanup(slowRobot.Close)

		Expect(slowGov.SelectActive("Robot")).To(Succeed())
		// Pin the motor at park so Go("Out") involves real travel rather
		// than starting from whichever position New() picked.
		d, ok := m.Device("mot")
		Expect(ok).To(BeTrue())
		Expect(d.StartMove("park")).To(Succeed())
		Expect(d.WaitMove(context.Background(), "park")).To(Succeed())
		Expect(slowRobot.Go("Out")).To(Succeed())
		Eventually(func() status.Status { return slowRobot.Last().Status }).Should(Equal(status.Busy))
		Expect(slowGov.Abort()).To(Succeed())
		Eventually(func() status.Status { return slowRobot.Last().Status }).Should(Equal(status.Idle))

		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
	})

	It("rejects Abort when no machine is active", func() {
		DeferCleanup(human.Close)
		DeferCleanup(robot.Close)
		err := gov.Abort()
		Expect(err).To(HaveOccurred())
	})

	It("Kill aborts the active machine and stops every controller", func() {
		Expect(gov.SelectActive("Robot")).To(Succeed())
		Eventually(func() status.Status { return robot.Last().Status }).Should(Equal(status.Idle))

		gov.Kill()
		// Kill already closed both controllers; a further Close here would
		// double-close their quit channels, so this test owns its own
		// cleanup instead of the shared DeferCleanup(Close) pattern above.
	})
})
