package device

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
)

func testLog() *logger.Log {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logger.New(l, "test")
}

// moveTo drives d to target and blocks until the move settles, failing
// the spec if it doesn't. Used to pin a device to a known position before
// a test exercises motion away from it, since a freshly constructed
// Device's initial readback is whichever of its configured positions
// happens to be picked (map iteration order).
func moveTo(d *Device, target string) {
	Expect(d.StartMove(target)).To(Succeed())
	Expect(d.WaitMove(context.Background(), target)).To(Succeed())
}

var _ = Describe("Motor device", func() {
	var d *Device

	BeforeEach(func() {
		d = New("mot", config.DeviceConfig{
			Type:      Motor,
			Name:      "Motor",
			Tolerance: 0.01,
			Timeout:   2,
			Velocity:  1000, // fast enough that tests don't sleep for long
			Positions: map[string]float64{"home": 0, "park": 10},
		}, testLog())
		d.Start()
		DeferCleanup(d.Close)
		moveTo(d, "home")
	})

	It("reaches its target and reports At", func() {
		moveTo(d, "park")
		at, err := d.At("park")
		Expect(err).NotTo(HaveOccurred())
		Expect(at).To(BeTrue())
	})

	It("rejects a move while disconnected", func() {
		d.SetSimulatedConnected(false)
		err := d.StartMove("park")
		Expect(err).To(HaveOccurred())
		var discErr *governorerr.DisconnectedError
		Expect(err).To(BeAssignableToTypeOf(discErr))
	})

	It("rejects a move while not homed", func() {
		d.SetSimulatedHomed(false)
		err := d.StartMove("park")
		Expect(err).To(HaveOccurred())
		var homeErr *governorerr.NotHomedError
		Expect(err).To(BeAssignableToTypeOf(homeErr))
	})

	It("reports MISSED_TARGET for a setpoint outside its limits", func() {
		limited := New("lim", config.DeviceConfig{
			Type:        Motor,
			Tolerance:   0.01,
			Timeout:     2,
			Velocity:    1000,
			Positions:   map[string]float64{"far": 100},
			MotorLimits: &[2]float64{0, 10},
		}, testLog())
		limited.Start()
		defer limited.Close()

		err := limited.StartMove("far")
		Expect(err).To(HaveOccurred())
		var missed *governorerr.MissedTargetError
		Expect(err).To(BeAssignableToTypeOf(missed))
	})

	It("times out when stuck in motion with no progress", func() {
		stuck := New("stuck", config.DeviceConfig{
			Type:      Motor,
			Tolerance: 0.01,
			Timeout:   0.2,
			Velocity:  1000,
			Positions: map[string]float64{"home": 0, "park": 10},
		}, testLog())
		stuck.Start()
		defer stuck.Close()
		moveTo(stuck, "home")

		stuck.SetSimulatedStuck(true)
		Expect(stuck.StartMove("park")).To(Succeed())
		err := stuck.WaitMove(context.Background(), "park")
		Expect(err).To(HaveOccurred())
		var timeoutErr *governorerr.TimeoutError
		Expect(err).To(BeAssignableToTypeOf(timeoutErr))
	})

	It("stops in place on StopMove", func() {
		slow := New("slow", config.DeviceConfig{
			Type:      Motor,
			Tolerance: 0.01,
			Timeout:   2,
			Velocity:  20, // slow enough that the move is still in flight below
			Positions: map[string]float64{"home": 0, "park": 10},
		}, testLog())
		slow.Start()
		defer slow.Close()
		moveTo(slow, "home")

		Expect(slow.StartMove("park")).To(Succeed())
		time.Sleep(150 * time.Millisecond)
		Expect(slow.Moving()).To(BeTrue(), "expected the move to still be in flight")
		slow.StopMove()
		Eventually(slow.Moving).Should(BeFalse())
	})
})

var _ = Describe("Valve device", func() {
	var v *Device

	BeforeEach(func() {
		v = New("v1", config.DeviceConfig{
			Type:        Valve,
			Timeout:     2,
			ValveTravel: 0.05,
		}, testLog())
		v.Start()
		DeferCleanup(v.Close)
	})

	It("starts Closed", func() {
		Expect(v.Readback().ValveState).To(Equal(ValveClosed))
	})

	It("opens and reports At(\"Open\")", func() {
		Expect(v.StartMove("Open")).To(Succeed())
		Expect(v.WaitMove(context.Background(), "Open")).To(Succeed())
		at, err := v.At("Open")
		Expect(err).NotTo(HaveOccurred())
		Expect(at).To(BeTrue())
	})

	It("ignores StopMove mid-travel", func() {
		Expect(v.StartMove("Open")).To(Succeed())
		v.StopMove()
		Expect(v.WaitMove(context.Background(), "Open")).To(Succeed())
	})
})

var _ = Describe("Dummy device", func() {
	It("settles instantly on any move", func() {
		dd := New("d1", config.DeviceConfig{
			Type:      Dummy,
			Timeout:   2,
			Positions: map[string]float64{"a": 1, "b": 2},
		}, testLog())
		dd.Start()
		defer dd.Close()

		Expect(dd.StartMove("b")).To(Succeed())
		Expect(dd.WaitMove(context.Background(), "b")).To(Succeed())
		at, err := dd.At("b")
		Expect(err).NotTo(HaveOccurred())
		Expect(at).To(BeTrue())
	})
})
